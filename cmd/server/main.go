package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"postroom/internal/config"
	"postroom/internal/domain/notification"
	"postroom/internal/infra/queue"
	"postroom/internal/infra/store"
	"postroom/internal/infra/template"
	"postroom/internal/metrics"
	"postroom/internal/middleware"
	"postroom/internal/router"
)

func main() {
	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"mode", cfg.Server.Mode,
		"storage", cfg.Storage.Kind,
	)

	// ==========================================
	// Dependency Injection (Manual Wiring)
	// ==========================================

	// Notification and template store
	notifStore, closeStore, err := store.Open(context.Background(), cfg.Storage)
	if err != nil {
		slog.Error("failed to initialize store", "kind", cfg.Storage.Kind, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	// Asynq Client (for enqueuing resend tasks)
	asynqClient := queue.NewClient(cfg.Redis)
	defer asynqClient.Close()
	slog.Info("asynq client initialized", "redis", cfg.Redis.Address)
	inspector := queue.NewInspector(cfg.Redis)
	defer inspector.Close()

	enqueuer := queue.NewEnqueuer(asynqClient, inspector, cfg.Queue.MaxRetry)

	// Resolvers
	templateResolver := notification.NewTemplateResolver(notifStore)
	bodyResolver := notification.NewBodyResolver(templateResolver, template.NewEngine())

	// Service
	notificationService := notification.NewService(
		notifStore,
		templateResolver,
		bodyResolver,
		enqueuer,
		cfg.ApplicationAccounts,
	)

	// Handler
	notificationHandler := notification.NewHandler(notificationService)

	// Runtime metrics only; deliveries are counted by the worker.
	reg := metrics.NewRuntimeRegistry()

	// Inbound rate limiter
	rateLimiter := middleware.NewRateLimiter(
		cfg.RateLimit.RequestsPerSecond,
		cfg.RateLimit.Burst,
		time.Duration(cfg.RateLimit.IdleEvictSec)*time.Second,
	)
	stopEviction := make(chan struct{})
	go rateLimiter.RunEviction(stopEviction)

	// Router
	r := router.New(cfg, rateLimiter, notificationHandler, reg)

	// ==========================================
	// HTTP Server with Graceful Shutdown
	// ==========================================

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		slog.Info("server starting", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")
	close(stopEviction)

	// Give outstanding requests 10 seconds to complete
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("server exited gracefully")
}
