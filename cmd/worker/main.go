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
	"postroom/internal/infra/email"
	"postroom/internal/infra/queue"
	"postroom/internal/infra/ratelimit"
	"postroom/internal/infra/store"
	"postroom/internal/infra/template"
	"postroom/internal/metrics"

	"github.com/prometheus/client_golang/prometheus/promhttp"
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

	slog.Info("worker configuration loaded",
		"provider", cfg.Provider.Kind,
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

	// Delivery provider (exactly one per process)
	provider, err := email.NewProvider(cfg.Provider)
	if err != nil {
		slog.Error("failed to initialize provider", "kind", cfg.Provider.Kind, "error", err)
		os.Exit(1)
	}
	defer provider.Close()

	// Metrics
	reg := metrics.NewRuntimeRegistry()
	deliveryMetrics := metrics.New(reg)
	if pooled, ok := provider.(metrics.PoolSource); ok {
		deliveryMetrics.RegisterPool(pooled)
	}

	// Recipient Rate Limiter
	redisClient := ratelimit.NewRedisClient(cfg.Redis)
	defer redisClient.Close()
	recipientLimiter := ratelimit.NewRedisRecipientLimiter(redisClient, cfg.RecipientRateLimit.MaxPerHour)
	slog.Info("recipient rate limiter initialized", "max_per_hour", cfg.RecipientRateLimit.MaxPerHour)

	// Notification Worker
	templateResolver := notification.NewTemplateResolver(notifStore)
	bodyResolver := notification.NewBodyResolver(templateResolver, template.NewEngine())
	notifWorker := notification.NewWorker(notifStore, bodyResolver, provider, recipientLimiter, deliveryMetrics)

	// Asynq Client (for reaper re-enqueuing)
	asynqClient := queue.NewClient(cfg.Redis)
	defer asynqClient.Close()
	inspector := queue.NewInspector(cfg.Redis)
	defer inspector.Close()

	enqueuer := queue.NewEnqueuer(asynqClient, inspector, cfg.Queue.MaxRetry)

	// ==========================================
	// Asynq Server (task processing)
	// ==========================================

	asynqServer := queue.NewServer(cfg.Redis, cfg.Queue)
	mux := queue.NewServeMux(notifWorker)

	// Start the asynq worker in a goroutine
	go func() {
		slog.Info("worker starting",
			"concurrency", cfg.Queue.Concurrency,
			"redis", cfg.Redis.Address,
		)
		if err := asynqServer.Run(mux); err != nil {
			slog.Error("worker failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// ==========================================
	// Stale Task Reaper
	// ==========================================

	reaperCtx, reaperCancel := context.WithCancel(context.Background())
	defer reaperCancel()

	reaper := notification.NewReaper(notifStore, enqueuer, notification.ReaperConfig{
		Interval:       time.Duration(cfg.Reaper.IntervalSec) * time.Second,
		StaleThreshold: time.Duration(cfg.Reaper.StaleThresholdSec) * time.Second,
		BatchSize:      cfg.Reaper.BatchSize,
	})

	go reaper.Run(reaperCtx)

	// ==========================================
	// Metrics listener
	// ==========================================

	var metricsSrv *http.Server
	if cfg.Worker.MetricsPort > 0 {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Worker.MetricsPort),
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			slog.Info("metrics listener starting", "address", metricsSrv.Addr)
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("metrics listener failed", "error", err)
			}
		}()
	}

	// ==========================================
	// Graceful Shutdown
	// ==========================================

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down worker...")
	reaperCancel() // Stop the reaper first
	asynqServer.Shutdown()

	if metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(ctx)
	}
	slog.Info("worker exited gracefully")
}
