package session

import "github.com/labstack/echo/v4"

// UserKey is the session entry holding the signed-in Identity.
const UserKey = "user"

const ctxIdentity = "session.identity"

// Identity is the user snapshot stored in the session at login.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

// CurrentUser reads the Identity from s. Entries without an id or role
// count as no session.
func CurrentUser(s Store, c echo.Context) (Identity, bool) {
	var id Identity
	if !s.Get(c, UserKey, &id) || id.ID == "" || id.Role == "" {
		return Identity{}, false
	}
	return id, true
}

// Attach stores id on the request context for downstream handlers.
func Attach(c echo.Context, id Identity) { c.Set(ctxIdentity, id) }

// FromContext returns the Identity attached by the authorization guard.
func FromContext(c echo.Context) (Identity, bool) {
	id, ok := c.Get(ctxIdentity).(Identity)
	return id, ok
}
