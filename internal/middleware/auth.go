package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/iliyamo/clinic-management/internal/model"
	"github.com/iliyamo/clinic-management/internal/repository"
	"github.com/iliyamo/clinic-management/internal/session"
)

// ctxResolved marks requests whose session Identify has already looked at.
const ctxResolved = "session.resolved"

// UserLookup loads the account behind a session.
type UserLookup interface {
	GetByID(ctx context.Context, id string) (model.User, error)
}

// Identify attaches the signed-in user, if any, without rejecting the
// request. It runs ahead of the rate limiter so per-user buckets see the
// caller. With users set, role, name and email come from the account row;
// a session whose account is gone is cleared.
func Identify(store session.Store, users UserLookup) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set(ctxResolved, true)
			id, ok := session.CurrentUser(store, c)
			if !ok {
				return next(c)
			}
			if users != nil {
				fresh, found := refresh(c, users, id)
				if !found {
					if err := store.Clear(c); err != nil {
						log.Warn().Err(err).Msg("auth: clear session of removed user")
					}
					return next(c)
				}
				id = fresh
			}
			session.Attach(c, id)
			return next(c)
		}
	}
}

// refresh reloads id from users. A lookup failure other than a missing row
// keeps the session snapshot.
func refresh(c echo.Context, users UserLookup, id session.Identity) (session.Identity, bool) {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()
	u, err := users.GetByID(ctx, id.ID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return session.Identity{}, false
	case err != nil:
		log.Warn().Err(err).Str("user_id", id.ID).Msg("auth: reload user, using session snapshot")
		return id, true
	}
	return session.Identity{ID: u.ID, Email: u.Email, Name: u.Name, Role: u.Role}, true
}

// Authenticate requires a signed-in user. It reuses the identity Identify
// attached; on routes without Identify it reads the session store itself.
// Requests without a readable session get 401.
func Authenticate(store session.Store) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if _, ok := session.FromContext(c); ok {
				return next(c)
			}
			if c.Get(ctxResolved) != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "Unauthorized"})
			}
			id, ok := session.CurrentUser(store, c)
			if !ok {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "Unauthorized"})
			}
			session.Attach(c, id)
			return next(c)
		}
	}
}

// Authorize combines Authenticate and RequireRole. With no roles every
// signed-in user passes.
func Authorize(store session.Store, roles ...string) echo.MiddlewareFunc {
	authn := Authenticate(store)
	if len(roles) == 0 {
		return authn
	}
	authz := RequireRole(roles...)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return authn(authz(next))
	}
}
