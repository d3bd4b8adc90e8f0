package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/iliyamo/clinic-management/internal/database"
)

// Healthz is the liveness probe used by load balancers. It returns plain
// "ok" without touching dependencies.
func Healthz(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

// HealthHandler reports readiness including the database.
type HealthHandler struct {
	DB      *gorm.DB
	Service string
}

func NewHealthHandler(db *gorm.DB, service string) *HealthHandler {
	return &HealthHandler{DB: db, Service: service}
}

// Health answers 200 when the database responds and 503 otherwise.
func (h *HealthHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	status, dbState, code := "healthy", "up", http.StatusOK
	if err := database.Ping(ctx, h.DB); err != nil {
		log.Warn().Err(err).Msg("health: database ping failed")
		status, dbState, code = "degraded", "down", http.StatusServiceUnavailable
	}
	return c.JSON(code, echo.Map{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   h.Service,
		"checks":    echo.Map{"database": dbState},
	})
}
