package middleware

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/iliyamo/clinic-management/internal/config"
)

// captureWriter records the status and up to limit bytes of the body while
// forwarding everything to the client.
type captureWriter struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
	size   int64
	limit  int64
}

func (cw *captureWriter) WriteHeader(code int) {
	cw.status = code
	cw.ResponseWriter.WriteHeader(code)
}

func (cw *captureWriter) Write(b []byte) (int, error) {
	if cw.limit <= 0 {
		cw.buf.Write(b)
	} else if remain := cw.limit - cw.size; remain > 0 {
		if int64(len(b)) <= remain {
			cw.buf.Write(b)
		} else {
			cw.buf.Write(b[:remain])
		}
	}
	cw.size += int64(len(b))
	return cw.ResponseWriter.Write(b)
}

// scopePattern matches every entry cached under scope.
func scopePattern(cfg config.CacheConfig, scope string) string {
	return cfg.Prefix + ":" + scope + ":*"
}

func cacheKeyFrom(cfg config.CacheConfig, scope string, c echo.Context) string {
	r := c.Request()
	parts := []string{"route", c.Path()}
	switch strings.ToLower(cfg.KeyStrategy) {
	case "route":
	case "method_route":
		parts = append([]string{"method", r.Method}, parts...)
	case "method_route_query":
		parts = append([]string{"method", r.Method}, append(parts, "q", r.URL.RawQuery)...)
	default: // route_query
		parts = append(parts, "q", r.URL.RawQuery)
	}
	sum := sha1.Sum([]byte(strings.Join(parts, ":")))
	return fmt.Sprintf("%s:%s:%x", cfg.Prefix, scope, sum[:])
}

// encodePayload packs [4 bytes status][4 bytes header length][header JSON][body].
func encodePayload(status int, header http.Header, body []byte) ([]byte, error) {
	hdrJSON, err := json.Marshal(header)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 8+len(hdrJSON)+len(body))
	binary.BigEndian.PutUint32(out[0:4], uint32(status))
	binary.BigEndian.PutUint32(out[4:8], uint32(len(hdrJSON)))
	copy(out[8:], hdrJSON)
	copy(out[8+len(hdrJSON):], body)
	return out, nil
}

func decodePayload(bs []byte) (status int, header http.Header, body []byte, ok bool) {
	if len(bs) < 8 {
		return 0, nil, nil, false
	}
	status = int(binary.BigEndian.Uint32(bs[0:4]))
	hlen := int(binary.BigEndian.Uint32(bs[4:8]))
	if hlen < 0 || 8+hlen > len(bs) {
		return 0, nil, nil, false
	}
	header = make(http.Header)
	if hlen > 0 {
		if err := json.Unmarshal(bs[8:8+hlen], &header); err != nil {
			return 0, nil, nil, false
		}
	}
	return status, header, bs[8+hlen:], true
}

// NewRedisCache replays cached 200 responses (headers and body) for the
// configured methods. Entries live under scope so BustCache can drop them
// when the data behind them changes. Only attach it to routes whose
// response does not depend on who is asking.
func NewRedisCache(cfg config.CacheConfig, rdb *redis.Client, scope string) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	maxBody := int64(cfg.MaxBodyBytes)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !cfg.Methods[strings.ToUpper(c.Request().Method)] {
				return next(c)
			}
			ctx := c.Request().Context()
			key := cacheKeyFrom(cfg, scope, c)

			if bs, err := rdb.Get(ctx, key).Bytes(); err == nil {
				if status, hdr, body, ok := decodePayload(bs); ok {
					for k, vals := range hdr {
						if strings.EqualFold(k, "Content-Length") || strings.EqualFold(k, "Set-Cookie") {
							continue
						}
						for _, v := range vals {
							c.Response().Header().Add(k, v)
						}
					}
					c.Response().Header().Set("X-Cache", "HIT")
					c.Response().WriteHeader(status)
					_, _ = c.Response().Write(body)
					return nil
				}
			} else if err != redis.Nil {
				log.Warn().Err(err).Msg("cache: redis get failed")
			}

			cw := &captureWriter{ResponseWriter: c.Response().Writer, status: http.StatusOK, limit: maxBody}
			c.Response().Writer = cw
			c.Response().Header().Set("X-Cache", "MISS")

			if err := next(c); err != nil {
				return err
			}
			if cw.status != http.StatusOK || (maxBody > 0 && cw.size > maxBody) {
				return nil
			}

			hdr := c.Response().Header().Clone()
			hdr.Del("X-Cache")
			hdr.Del("Set-Cookie")
			payload, err := encodePayload(cw.status, hdr, cw.buf.Bytes())
			if err != nil {
				return nil
			}
			if err := rdb.Set(context.WithoutCancel(ctx), key, payload, ttl).Err(); err != nil {
				log.Warn().Err(err).Msg("cache: redis set failed")
			}
			return nil
		}
	}
}

// BustCache drops every entry NewRedisCache stored under scope once the
// wrapped handler has answered with a 2xx.
func BustCache(cfg config.CacheConfig, rdb *redis.Client, scope string) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if err := next(c); err != nil {
				return err
			}
			if st := c.Response().Status; st < 200 || st > 299 {
				return nil
			}
			ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request().Context()), 2*time.Second)
			defer cancel()
			n, err := dropScope(ctx, rdb, scopePattern(cfg, scope))
			if err != nil {
				log.Warn().Err(err).Str("scope", scope).Msg("cache: bust failed, entries expire by ttl")
				return nil
			}
			log.Debug().Str("scope", scope).Int("keys", n).Msg("cache: busted")
			return nil
		}
	}
}

func dropScope(ctx context.Context, rdb *redis.Client, pattern string) (int, error) {
	var dropped int
	iter := rdb.Scan(ctx, 0, pattern, 100).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 100 {
			if err := rdb.Del(ctx, batch...).Err(); err != nil {
				return dropped, err
			}
			dropped += len(batch)
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return dropped, err
	}
	if len(batch) > 0 {
		if err := rdb.Del(ctx, batch...).Err(); err != nil {
			return dropped, err
		}
		dropped += len(batch)
	}
	return dropped, nil
}
