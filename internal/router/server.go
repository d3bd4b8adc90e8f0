package router

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/iliyamo/clinic-management/internal/audit"
	"github.com/iliyamo/clinic-management/internal/availability"
	"github.com/iliyamo/clinic-management/internal/config"
	"github.com/iliyamo/clinic-management/internal/handler"
	"github.com/iliyamo/clinic-management/internal/middleware"
	"github.com/iliyamo/clinic-management/internal/repository"
	"github.com/iliyamo/clinic-management/internal/service"
	"github.com/iliyamo/clinic-management/internal/session"
)

// Options are the runtime knobs New takes besides the application config.
type Options struct {
	Redis          *redis.Client
	Events         service.EventPublisher
	RateLimit      config.RateLimitConfig
	LoginRateLimit config.RateLimitConfig
	Cache          config.CacheConfig
}

// NewSessionStore picks the session backing from cfg. The redis backing
// needs a live client; without one the cookie store is used.
func NewSessionStore(cfg config.Config, rdb *redis.Client) (session.Store, error) {
	opts := session.CookieOptions{Secure: cfg.IsProduction(), MaxAge: cfg.SessionTTL}
	if cfg.SessionBackend == "redis" {
		if rdb != nil {
			return session.NewRedisStore(rdb, cfg.SessionTTL, opts), nil
		}
		log.Warn().Msg("session: SESSION_BACKEND=redis but redis is unavailable, using cookie sessions")
	}
	codec, err := session.NewCodec(cfg.SessionSecret, cfg.SessionTTL)
	if err != nil {
		return nil, err
	}
	return session.NewCookieStore(codec, opts), nil
}

// New builds the echo server with repositories, handlers and routes.
func New(cfg config.Config, db *gorm.DB, o Options) (*echo.Echo, error) {
	store, err := NewSessionStore(cfg, o.Redis)
	if err != nil {
		return nil, err
	}
	events := o.Events
	if events == nil {
		events = service.NoopPublisher{}
	}

	users := repository.NewUserRepo(db)
	patients := repository.NewPatientRepo(db)
	slots := repository.NewTimeSlotRepo(db)
	appointments := repository.NewAppointmentRepo(db)
	treatments := repository.NewTreatmentRepo(db)
	settings := repository.NewSettingRepo(db)
	audits := repository.NewAuditRepo(db)
	recorder := audit.NewRecorder(audits)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger())
	e.Use(echomw.Recover())
	e.Use(echomw.BodyLimit("1M"))
	if len(cfg.AllowedOrigins) > 0 {
		e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
			AllowOrigins:     cfg.AllowedOrigins,
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowHeaders:     []string{echo.HeaderContentType, echo.HeaderAccept},
			AllowCredentials: true,
			MaxAge:           int((12 * time.Hour).Seconds()),
		}))
	}

	Setup(e, Deps{
		Sessions:       store,
		Accounts:       users,
		Redis:          o.Redis,
		RateLimit:      o.RateLimit,
		LoginRateLimit: o.LoginRateLimit,
		Cache:          o.Cache,

		Health:       handler.NewHealthHandler(db, cfg.ServiceName),
		Auth:         handler.NewAuthHandler(store, users, recorder),
		Users:        handler.NewUserHandler(users, store, recorder, cfg.BcryptCost),
		Patients:     handler.NewPatientHandler(patients, users, recorder),
		Appointments: handler.NewAppointmentHandler(appointments, patients, users, availability.NewChecker(slots, appointments), events, recorder),
		Treatments:   handler.NewTreatmentHandler(treatments, appointments, recorder),
		TimeSlots:    handler.NewTimeSlotHandler(slots, recorder),
		Settings:     handler.NewSettingsHandler(settings, recorder),
		Admin:        handler.NewAdminHandler(appointments, users, patients, audits),
	})
	return e, nil
}
