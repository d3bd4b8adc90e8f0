package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/clinic-management/internal/session"
)

// RequireRole aborts with 403 unless the identity attached by Authenticate
// has one of roles. A missing identity is treated as 401.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id, ok := session.FromContext(c)
			if !ok {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "Unauthorized"})
			}
			if !allowed[id.Role] {
				return c.JSON(http.StatusForbidden, echo.Map{"error": "Forbidden"})
			}
			return next(c)
		}
	}
}
