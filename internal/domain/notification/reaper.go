package notification

import (
	"context"
	"log/slog"
	"time"
)

// ReaperConfig holds configuration for the stale task reaper.
type ReaperConfig struct {
	// Interval is how often the reaper scans the store.
	Interval time.Duration

	// StaleThreshold is how long a record may stay in queued/processing
	// before it is re-enqueued.
	StaleThreshold time.Duration

	// BatchSize caps the records recovered per cycle.
	BatchSize int
}

// Reaper periodically re-enqueues records stuck in queued/processing, for
// example after a worker crash or a lost Redis queue. The notification store
// is the source of truth.
type Reaper struct {
	store    NotificationStore
	enqueuer Enqueuer
	config   ReaperConfig
}

// NewReaper creates a new stale task reaper.
func NewReaper(store NotificationStore, enqueuer Enqueuer, cfg ReaperConfig) *Reaper {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = 10 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}

	return &Reaper{
		store:    store,
		enqueuer: enqueuer,
		config:   cfg,
	}
}

// Run starts the reaper loop. It blocks until the context is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	slog.Info("reaper started",
		"interval", r.config.Interval,
		"stale_threshold", r.config.StaleThreshold,
		"batch_size", r.config.BatchSize,
	)

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("reaper stopped")
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

// sweep performs one reaper cycle and returns how many records were re-enqueued.
func (r *Reaper) sweep(ctx context.Context) int {
	olderThan := time.Now().Add(-r.config.StaleThreshold)

	stale, err := r.store.ListStale(ctx, olderThan, r.config.BatchSize)
	if err != nil {
		slog.Error("reaper: failed to list stale notifications", "error", err)
		return 0
	}
	if len(stale) == 0 {
		return 0
	}

	slog.Warn("reaper: found stale notifications", "count", len(stale))

	recovered := 0
	for _, rec := range stale {
		if err := r.store.UpdateStatus(ctx, rec.Application, rec.ID, StatusUpdate{Status: StatusQueued}); err != nil {
			slog.Error("reaper: failed to reset status",
				"notification_id", rec.ID,
				"error", err,
			)
			continue
		}

		if err := r.enqueuer.EnqueueSendNotification(rec.Application, rec.ID); err != nil {
			slog.Error("reaper: failed to re-enqueue notification",
				"application", rec.Application,
				"notification_id", rec.ID,
				"error", err,
			)
			continue
		}

		recovered++
		slog.Info("reaper: recovered stale notification",
			"application", rec.Application,
			"notification_id", rec.ID,
			"original_status", rec.Status,
			"age", time.Since(rec.UpdatedAt).Round(time.Second),
		)
	}

	if recovered > 0 {
		slog.Info("reaper: sweep complete", "recovered", recovered, "total_stale", len(stale))
	}
	return recovered
}
