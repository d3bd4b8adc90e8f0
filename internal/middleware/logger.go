package middleware

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/iliyamo/clinic-management/internal/metrics"
)

// RequestLogger writes one zerolog line per request and records the
// request counters and latency histogram.
func RequestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				// let echo write the error so the logged status is the real one
				c.Error(err)
			}
			elapsed := time.Since(start)

			req := c.Request()
			res := c.Response()
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			status := res.Status

			metrics.HTTPRequests.WithLabelValues(req.Method, route, strconv.Itoa(status)).Inc()
			metrics.HTTPDuration.WithLabelValues(req.Method, route).Observe(elapsed.Seconds())

			var ev *zerolog.Event
			switch {
			case status >= 500:
				ev = log.Error().Err(err)
			case status >= 400:
				ev = log.Warn()
			default:
				ev = log.Info()
			}
			ev.Str("method", req.Method).
				Str("path", req.URL.Path).
				Str("route", route).
				Int("status", status).
				Dur("latency", elapsed).
				Str("request_id", res.Header().Get(echo.HeaderXRequestID)).
				Str("user_id", currentUserID(c)).
				Str("ip", c.RealIP()).
				Msg("request")
			return nil
		}
	}
}
