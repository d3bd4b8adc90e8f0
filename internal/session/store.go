package session

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// Cookie names.
const (
	IDCookie    = "session_id"
	TokenCookie = "app_session"
)

// echo.Context keys for request-local session state, so a write is visible
// to later reads while handling the same request.
const (
	ctxPayload = "session.payload"
	ctxID      = "session.id"
)

// Store reads and writes named session values for the request in c.
// Get decodes the stored JSON into dst (dst may be nil to test presence).
type Store interface {
	Get(c echo.Context, key string, dst any) bool
	Set(c echo.Context, key string, value any) error
	Remove(c echo.Context, key string) (bool, error)
	RemoveKeys(c echo.Context, keys []string) ([]string, error)
	Clear(c echo.Context) error
}

// CookieOptions controls the attributes of every session cookie.
type CookieOptions struct {
	Secure bool
	Domain string
	MaxAge time.Duration
}

func (o CookieOptions) write(c echo.Context, name, value string) {
	c.SetCookie(&http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   o.Domain,
		MaxAge:   int(o.MaxAge / time.Second),
		Expires:  time.Now().Add(o.MaxAge),
		HttpOnly: true,
		Secure:   o.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (o CookieOptions) expire(c echo.Context, name string) {
	c.SetCookie(&http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   o.Domain,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   o.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// sessionID returns the id from the request cookie or an id issued earlier
// in this request, or "" when the browser has none.
func sessionID(c echo.Context) string {
	if v, ok := c.Get(ctxID).(string); ok {
		return v
	}
	if ck, err := c.Cookie(IDCookie); err == nil && ck.Value != "" {
		return ck.Value
	}
	return ""
}

// ensureID returns the current session id, issuing a random UUID when
// absent, and refreshes the id cookie's expiry.
func ensureID(c echo.Context, opts CookieOptions) string {
	id := sessionID(c)
	if id == "" {
		id = uuid.NewString()
	}
	c.Set(ctxID, id)
	opts.write(c, IDCookie, id)
	return id
}
