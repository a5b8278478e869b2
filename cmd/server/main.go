package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/2025tf20/KTB-LoadTest-team-20/internal/api"
	"github.com/2025tf20/KTB-LoadTest-team-20/internal/api/middleware"
	"github.com/2025tf20/KTB-LoadTest-team-20/internal/config"
	"github.com/2025tf20/KTB-LoadTest-team-20/internal/files"
	"github.com/2025tf20/KTB-LoadTest-team-20/internal/handlers"
	"github.com/2025tf20/KTB-LoadTest-team-20/internal/mention"
	"github.com/2025tf20/KTB-LoadTest-team-20/internal/moderation"
	"github.com/2025tf20/KTB-LoadTest-team-20/internal/pipeline"
	"github.com/2025tf20/KTB-LoadTest-team-20/internal/ratelimit"
	"github.com/2025tf20/KTB-LoadTest-team-20/internal/session"
	"github.com/2025tf20/KTB-LoadTest-team-20/internal/socket"
	"github.com/2025tf20/KTB-LoadTest-team-20/internal/store"
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

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Document store: PostgreSQL when configured, SQLite otherwise
	var data store.DataStore
	if cfg.DatabaseURL != "" {
		logger.Info().Msg("running database migrations...")
		if err := store.RunMigrations(ctx, cfg.DatabaseURL); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
		logger.Info().Msg("migrations completed")

		pg, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		data = pg
		logger.Info().Msg("connected to PostgreSQL")
	} else {
		lite, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Str("path", cfg.SQLitePath).Msg("sqlite open failed")
		}
		data = lite
		logger.Info().Str("path", cfg.SQLitePath).Msg("using SQLite")
	}
	defer data.Close()

	// Shared key/value store
	redisURL := cfg.RedisURL
	if redisURL == "" {
		redisURL = "redis://localhost:6379/0"
	}
	kv, err := store.NewRedisStore(ctx, redisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection failed")
	}
	defer kv.Close()
	logger.Info().Msg("connected to Redis")

	// Banned words
	words := append([]string(nil), cfg.BannedWords...)
	if _, err := os.Stat(cfg.BannedWordsFile); err == nil {
		fromFile, err := moderation.LoadWords(cfg.BannedWordsFile)
		if err != nil {
			logger.Fatal().Err(err).Msg("banned words load failed")
		}
		words = append(words, fromFile...)
	}
	checker, err := moderation.NewChecker(words)
	if err != nil {
		logger.Fatal().Err(err).Msg("pattern filter build failed")
	}
	logger.Info().Int("patterns", checker.Len()).Msg("pattern filter ready")

	sessions := session.NewValidator(kv, cfg.SessionTTL)
	limiter := ratelimit.NewLimiter(kv)
	resolver := files.NewResolver(cfg.FileBaseURL)

	hub := socket.NewHub(logger)
	fanout := socket.NewFanout(kv.Client(), hub, logger)
	go func() {
		if err := fanout.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("fanout stopped")
		}
	}()

	messages := pipeline.New(pipeline.Deps{
		Sessions:    sessions,
		Limiter:     limiter,
		Filter:      checker,
		Documents:   data,
		Broadcaster: fanout,
		Files:       resolver,
		Mentions:    mention.NewLogNotifier(logger, cfg.MentionTargets),
	}, pipeline.Config{
		RateLimit:  cfg.MessageRateLimit,
		RateWindow: cfg.MessageRateWindow,
	}, logger)

	dispatcher := socket.NewDispatcher(messages, data, resolver, fanout, hub, logger)

	// Create router
	router := api.NewRouter(logger, api.Deps{
		Data:     data,
		Redis:    kv,
		Limiter:  limiter,
		Sessions: sessions,
		Services: handlers.Services{
			Sessions: sessions,
			Messages: messages,
			Files:    resolver,
			Hub:      hub,
		},
		Socket: socket.NewHandler(ctx, hub, dispatcher, sessions, logger),
		RateLimit: middleware.RateLimiterConfig{
			Whitelist:        cfg.RateLimitWhitelist,
			AutoBlockEnabled: cfg.AutoBlockEnabled,
		},
	})

	// Create server. WriteTimeout is left to the socket pumps, which set
	// their own deadlines on long-lived connections.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Msg("starting chat server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	// Stop socket pumps and the fanout subscription
	stop()

	// Graceful shutdown with 30 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server stopped")
}
