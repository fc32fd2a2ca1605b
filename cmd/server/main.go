package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/issuebell/issuebell/internal/api"
	"github.com/issuebell/issuebell/internal/config"
	"github.com/issuebell/issuebell/internal/engine"
	"github.com/issuebell/issuebell/internal/github"
	"github.com/issuebell/issuebell/internal/notify"
	"github.com/issuebell/issuebell/internal/poller"
	"github.com/issuebell/issuebell/internal/store"
	ws "github.com/issuebell/issuebell/internal/websocket"
	"github.com/issuebell/issuebell/migrations"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if cfg.GitHubWebhookSecret == "" {
		logger.Warn("GITHUB_WEBHOOK_SECRET is not set, webhook signature verification is DISABLED (dev mode only)")
	}

	// Initialize PostgreSQL
	ctx := context.Background()
	pgStore, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pgStore.Close()
	logger.Info("connected to PostgreSQL")

	// Run database migrations
	if err := pgStore.RunMigrations(ctx, migrations.FS); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("database migrations applied")

	// Initialize Redis
	redisStore, err := store.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisStore.Close()
	logger.Info("connected to Redis")

	// Live notification feed
	hub := ws.NewHub(logger)
	go hub.Run()

	// Notification dispatch: Discord transport behind its guards
	transport, err := notify.NewDiscordTransport(cfg.DiscordBotToken)
	if err != nil {
		logger.Error("failed to create discord transport", "error", err)
		os.Exit(1)
	}
	breaker := engine.NewCircuitBreaker(redisStore.Client(), logger)
	limiter := engine.NewRateLimiter(redisStore.Client(), logger)
	marker := redisStore.NotifyMarker(logger)
	dispatcher := notify.NewDispatcher(transport, breaker, limiter, marker, hub, cfg.DispatchRatePerSec, logger)

	// Pull path: the reconciliation loop
	fetcher := github.NewFetcher(cfg.GitHubAPIURL, logger)
	pollCtx, cancelPoll := context.WithCancel(ctx)
	p := poller.New(pgStore, fetcher, dispatcher, cfg.PollInterval, cfg.PollWorkers, logger)
	if err := p.Start(pollCtx); err != nil {
		logger.Error("failed to start poller", "error", err)
		os.Exit(1)
	}

	// Push path and API
	webhookHandler := api.NewWebhookHandler(pgStore, dispatcher, cfg.GitHubWebhookSecret, logger)
	router := api.NewRouter(pgStore, webhookHandler, hub)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down...")

	// Stop scheduling new cycles; an in-flight cycle finishes its committed
	// subscribers and the rest are retried next boot.
	p.Stop()
	cancelPoll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
