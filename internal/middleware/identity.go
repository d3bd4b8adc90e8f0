package middleware

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/clinic-management/internal/session"
)

// currentUserID returns the id attached by Identify or Authenticate, or
// "anon" when the caller is not signed in.
func currentUserID(c echo.Context) string {
	if id, ok := session.FromContext(c); ok && id.ID != "" {
		return id.ID
	}
	return "anon"
}
