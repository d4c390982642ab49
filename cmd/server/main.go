package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/telecare-labs/callbridge/internal/api"
	"github.com/telecare-labs/callbridge/internal/call"
	"github.com/telecare-labs/callbridge/internal/config"
	"github.com/telecare-labs/callbridge/internal/handlers"
	"github.com/telecare-labs/callbridge/internal/models"
	"github.com/telecare-labs/callbridge/internal/registry"
	"github.com/telecare-labs/callbridge/internal/store"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	ctx := context.Background()

	// Select session storage: PostgreSQL when configured, SQLite otherwise.
	var db store.DataStore
	var sqliteStore *store.SQLiteStore
	if cfg.DatabaseURL != "" {
		logger.Info().Msg("running database migrations...")
		if err := store.RunMigrations(cfg.DatabaseURL); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
		logger.Info().Msg("migrations completed")

		pgStore, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		defer pgStore.Close()
		db = pgStore
		logger.Info().Msg("connected to PostgreSQL")
	} else {
		var err error
		sqliteStore, err = store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("sqlite open failed")
		}
		defer sqliteStore.Close()
		db = sqliteStore
		logger.Info().Msg("using SQLite storage")

		if cfg.IsDevelopment() {
			seedDemoUsers(ctx, sqliteStore, logger)
		}
	}

	// Initialize Redis; its lists carry the signal mailboxes.
	var redisStore *store.RedisStore
	var mailbox store.Mailbox
	if cfg.RedisURL != "" {
		var err error
		redisStore, err = store.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisStore.Close()
		mailbox = redisStore
		logger.Info().Msg("connected to Redis")
	} else if sqliteStore != nil {
		mailbox = sqliteStore
		logger.Info().Msg("using SQLite mailbox")
	} else {
		logger.Fatal().Msg("PostgreSQL storage requires REDIS_URL for the signal mailbox")
	}

	// Wire components
	reg := registry.New(db, redisStore)
	manager := call.NewManager(db, mailbox, reg, cfg.RingTimeout, logger)
	history := call.NewHistory(db, mailbox, reg, logger)
	h := handlers.NewHandler(db, redisStore, manager, history, logger)

	// Create router
	router := api.NewRouter(logger, h, reg, redisStore)

	// Create server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Dur("ring_timeout", cfg.RingTimeout).
			Msg("starting callbridge server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	// Graceful shutdown with 30 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server stopped")
}

// seedDemoUsers inserts a linked patient/doctor pair for local testing when
// DEMO_PATIENT_TOKEN and DEMO_DOCTOR_TOKEN are set. Inserts are idempotent,
// so restarts reuse the same pair.
func seedDemoUsers(ctx context.Context, s *store.SQLiteStore, logger zerolog.Logger) {
	patientToken := os.Getenv("DEMO_PATIENT_TOKEN")
	doctorToken := os.Getenv("DEMO_DOCTOR_TOKEN")
	if patientToken == "" || doctorToken == "" {
		return
	}

	patientID := uuid.NewSHA1(uuid.NameSpaceOID, []byte("demo-patient"))
	doctorID := uuid.NewSHA1(uuid.NameSpaceOID, []byte("demo-doctor"))

	if err := s.SeedUser(ctx, patientID, models.RolePatient, "Demo Patient", "", registry.HashToken(patientToken)); err != nil {
		logger.Warn().Err(err).Msg("seed patient failed")
		return
	}
	if err := s.SeedUser(ctx, doctorID, models.RoleDoctor, "Demo Doctor", "", registry.HashToken(doctorToken)); err != nil {
		logger.Warn().Err(err).Msg("seed doctor failed")
		return
	}
	if err := s.SeedAssignment(ctx, patientID, doctorID); err != nil {
		logger.Warn().Err(err).Msg("seed assignment failed")
		return
	}
	logger.Info().
		Str("patient_id", patientID.String()).
		Str("doctor_id", doctorID.String()).
		Msg("seeded demo users")
}
