package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/iliyamo/clinic-management/internal/config"
	"github.com/iliyamo/clinic-management/internal/database"
	"github.com/iliyamo/clinic-management/internal/queue"
	"github.com/iliyamo/clinic-management/internal/router"
	"github.com/iliyamo/clinic-management/internal/service"
	"github.com/iliyamo/clinic-management/internal/telemetry"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "clinic",
		Short:         "Clinic management API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			_ = godotenv.Load() // a missing .env is fine
			setupLogging()
		},
	}
	cmd.AddCommand(newServeCommand(), newMigrateCommand(), newSeedCommand())
	return cmd
}

func setupLogging() {
	zerolog.TimeFieldFormat = time.RFC3339
	if lvl, err := zerolog.ParseLevel(strings.ToLower(os.Getenv("LOG_LEVEL"))); err == nil && lvl != zerolog.NoLevel {
		zerolog.SetGlobalLevel(lvl)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	switch strings.ToLower(os.Getenv("APP_ENV")) {
	case "prod", "production":
	default:
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

func openDB(cfg config.Config) (*gorm.DB, error) {
	db, err := database.Open(cfg.DBDriver, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	return db, nil
}

func newServeCommand() *cobra.Command {
	var (
		consumeEvents bool
		autoMigrate   bool
		eventsLog     string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, consumeEvents, autoMigrate, eventsLog)
		},
	}
	cmd.Flags().BoolVar(&consumeEvents, "consume-events", false, "run the appointment event consumer alongside the API")
	cmd.Flags().BoolVar(&autoMigrate, "migrate", false, "apply schema migrations before serving")
	cmd.Flags().StringVar(&eventsLog, "events-log", "logs/appointments.log", "file the event consumer appends to")
	return cmd
}

func serve(ctx context.Context, consumeEvents, autoMigrate bool, eventsLog string) error {
	cfg := config.Load()

	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = database.Close(db) }()
	if autoMigrate {
		if err := database.Migrate(ctx, db); err != nil {
			return err
		}
	}

	rdb := config.NewRedisClient()
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
	}

	tracing, err := telemetry.Init(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracing.Shutdown(sctx)
	}()

	var events service.EventPublisher = service.NoopPublisher{}
	if cfg.EventsEnabled {
		events = service.NewRabbitPublisher(cfg.RabbitURL)
	}
	if consumeEvents {
		go func() {
			if err := queue.StartAppointmentConsumer(ctx, cfg.RabbitURL, eventsLog); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("appointment consumer stopped")
			}
		}()
	}

	e, err := router.New(cfg, db, router.Options{
		Redis:          rdb,
		Events:         events,
		RateLimit:      config.LoadRateLimitConfig(),
		LoginRateLimit: config.LoadLoginRateLimitConfig(),
		Cache:          config.LoadCacheConfig(),
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           tracing.Wrap(e),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("env", cfg.Env).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(sctx)
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = database.Close(db) }()
			if err := database.Migrate(cmd.Context(), db); err != nil {
				return err
			}
			log.Info().Msg("migrations applied")
			return nil
		},
	}
}

func newSeedCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Insert default users, time slots and settings (idempotent)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = database.Close(db) }()
			if err := database.Migrate(cmd.Context(), db); err != nil {
				return err
			}
			if err := database.Seed(cmd.Context(), db, cfg.BcryptCost); err != nil {
				return err
			}
			log.Info().Msg("seed data ensured")
			return nil
		},
	}
}
