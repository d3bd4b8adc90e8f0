package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/iliyamo/clinic-management/internal/audit"
	"github.com/iliyamo/clinic-management/internal/session"
)

const requestTimeout = 5 * time.Second

// Auditor records an audit entry after a successful mutation.
type Auditor interface {
	Record(ctx context.Context, e audit.Entry) bool
}

func requestCtx(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), requestTimeout)
}

// caller returns the identity attached by the authorization guard. Routes
// are registered behind the guard, so a missing identity is a wiring bug
// and surfaces as 401.
func caller(c echo.Context) (session.Identity, bool) {
	return session.FromContext(c)
}

func fail(c echo.Context, status int, msg string) error {
	return c.JSON(status, echo.Map{"error": msg})
}

func unauthorized(c echo.Context) error { return fail(c, http.StatusUnauthorized, "Unauthorized") }

func forbidden(c echo.Context) error { return fail(c, http.StatusForbidden, "Forbidden") }

// internalError logs err and answers with a generic 500.
func internalError(c echo.Context, err error, op string) error {
	log.Error().Err(err).
		Str("op", op).
		Str("method", c.Request().Method).
		Str("path", c.Request().URL.Path).
		Msg("request failed")
	return fail(c, http.StatusInternalServerError, "Internal server error")
}
