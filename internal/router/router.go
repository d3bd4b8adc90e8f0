// Package router wires handlers, guards and per-route middleware onto echo.
package router

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/clinic-management/internal/config"
	"github.com/iliyamo/clinic-management/internal/handler"
	"github.com/iliyamo/clinic-management/internal/middleware"
	"github.com/iliyamo/clinic-management/internal/session"
)

// Deps carries everything the routes need. Redis may be nil; rate limits
// then fall back to in-process buckets and the response cache is off.
// Accounts, when set, lets live sessions pick up role changes.
type Deps struct {
	Sessions       session.Store
	Accounts       middleware.UserLookup
	Redis          *redis.Client
	RateLimit      config.RateLimitConfig
	LoginRateLimit config.RateLimitConfig
	Cache          config.CacheConfig

	Health       *handler.HealthHandler
	Auth         *handler.AuthHandler
	Users        *handler.UserHandler
	Patients     *handler.PatientHandler
	Appointments *handler.AppointmentHandler
	Treatments   *handler.TreatmentHandler
	TimeSlots    *handler.TimeSlotHandler
	Settings     *handler.SettingsHandler
	Admin        *handler.AdminHandler
}

// Setup registers every route on e.
func Setup(e *echo.Echo, d Deps) {
	RegisterRoutes(e, d.Health)

	api := e.Group("", middleware.Identify(d.Sessions, d.Accounts), middleware.NewTokenBucket(d.RateLimit, d.Redis))
	RegisterAuth(api, d.Auth, d.Sessions, middleware.NewTokenBucket(d.LoginRateLimit, d.Redis))
	RegisterClinic(api, d)
	RegisterAdmin(api, d)
}

// RegisterRoutes registers the unauthenticated operational endpoints.
func RegisterRoutes(e *echo.Echo, h *handler.HealthHandler) {
	e.GET("/healthz", handler.Healthz)
	if h != nil {
		e.GET("/health", h.Health)
	}
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// RegisterAuth registers login, logout and the current-user endpoint.
// Login gets its own, stricter bucket on top of the API one.
func RegisterAuth(g *echo.Group, a *handler.AuthHandler, store session.Store, loginLimit echo.MiddlewareFunc) {
	auth := g.Group("/auth")
	auth.POST("/login", a.Login, loginLimit)
	auth.POST("/logout", a.Logout)
	auth.GET("/me", a.Me, middleware.Authorize(store))
}
