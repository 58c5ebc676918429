package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"

	"github.com/mixelka/mailtriage/internal/config"
	"github.com/mixelka/mailtriage/internal/database"
	"github.com/mixelka/mailtriage/internal/email"
	"github.com/mixelka/mailtriage/internal/httpserver"
	"github.com/mixelka/mailtriage/internal/ingest"
	"github.com/mixelka/mailtriage/internal/orchestrator"
	"github.com/mixelka/mailtriage/internal/screening"
	"github.com/mixelka/mailtriage/internal/syncstatus"
	"github.com/mixelka/mailtriage/internal/vault"
	"github.com/mixelka/mailtriage/pkg/models"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup logger
	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting mailtriage")

	secrets, err := vault.New(cfg.EncryptionKey)
	if err != nil {
		logger.Error("failed to create vault", "error", err)
		os.Exit(1)
	}

	// Connect to database
	db, err := database.New(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Run migrations
	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("database migrations completed", "driver", cfg.DatabaseDriver)

	// Providers
	fetchers := email.NewFactory(logger)
	fetchers.Register(models.ProviderIMAP, email.NewIMAPFetcher(secrets, cfg.IMAPDialTimeout, logger))
	if cfg.GoogleEnabled() {
		fetchers.Register(models.ProviderGmail, email.NewGmailFetcher(cfg.GoogleClientID, cfg.GoogleClientSecret, secrets, db, logger))
		logger.Info("gmail provider enabled")
	}
	if cfg.MicrosoftEnabled() {
		fetchers.Register(models.ProviderMicrosoft, email.NewMicrosoftFetcher(cfg.MicrosoftClientID, cfg.MicrosoftClientSecret, cfg.MicrosoftTenant, secrets, db, logger))
		logger.Info("microsoft provider enabled", "tenant", cfg.MicrosoftTenant)
	}

	status, closeStatus, err := setupStatusStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to set up sync status store", "error", err)
		os.Exit(1)
	}
	defer closeStatus()

	// Create components
	screener := screening.NewManager(db, logger)
	orch := orchestrator.New(db, fetchers, ingest.NewPersister(db), screener, status, orchestrator.Config{
		BatchSize:      cfg.SyncBatchSize,
		Concurrency:    cfg.SyncConcurrency,
		FetchLimit:     cfg.SyncFetchLimit,
		SyncInterval:   cfg.SyncInterval,
		AccountTimeout: cfg.SyncAccountTimeout,
		StuckThreshold: cfg.StuckThreshold,
		StaleAfter:     cfg.StatusStaleAfter,
	}, logger)

	if cfg.CronSecret == "" {
		logger.Warn("CRON_SECRET is not set, the sync trigger will refuse every call")
	}

	gin.SetMode(gin.ReleaseMode)
	api := httpserver.New(httpserver.Options{
		JWTSecret:    cfg.JWTSecret,
		CronSecret:   cfg.CronSecret,
		BatchTimeout: cfg.SyncBatchTimeout,
	}, orch, screener, db, fetchers, secrets, logger)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.TriggerTimeout,
	}

	// Setup graceful shutdown
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reconcilerDone := make(chan struct{})
	go func() {
		defer close(reconcilerDone)
		orch.Run(ctx, cfg.StuckCheckInterval, cfg.ScheduleInterval)
	}()

	go func() {
		logger.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.TriggerTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "error", err)
	}

	// A scheduled batch keeps running its started accounts after cancellation
	select {
	case <-reconcilerDone:
	case <-shutdownCtx.Done():
		logger.Warn("scheduled sync did not finish before shutdown")
	}

	logger.Info("mailtriage stopped")
}

// setupStatusStore picks the sync status backend. Redis is shared by all instances;
// memory only suits a single one.
func setupStatusStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (syncstatus.Store, func(), error) {
	if cfg.StatusBackend != "redis" {
		logger.Info("using in-memory sync status store")
		return syncstatus.NewMemoryStore(), func() {}, nil
	}

	client := syncstatus.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	store := syncstatus.NewRedisStore(client, "mailtriage", cfg.StatusTTL)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		client.Close()
		return nil, nil, err
	}

	logger.Info("using redis sync status store", "addr", cfg.RedisAddr)
	return store, func() { client.Close() }, nil
}

func setupLogger(level, format string) *slog.Logger {
	var handler slog.Handler
	logLevel := parseLevel(level)

	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: logLevel,
		})
	} else {
		// Pretty colored output for console
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      logLevel,
			TimeFormat: time.DateTime,
		})
	}

	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
