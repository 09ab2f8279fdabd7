package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"postroom/internal/common"

	"github.com/hibiken/asynq"
)

// DeliveryObserver receives one call per send attempt. The metrics package implements it.
type DeliveryObserver interface {
	ObserveDelivery(provider string, outcome DeliveryOutcome, duration time.Duration)
}

// Worker processes send tasks from the queue.
// It fetches the record, resolves its body, sends through the configured
// provider and writes the outcome back to the store.
type Worker struct {
	store       NotificationStore
	bodies      *BodyResolver
	provider    Provider
	rateLimiter RecipientRateLimiter
	observer    DeliveryObserver
}

// NewWorker creates a new notification worker. rateLimiter and observer may be nil.
func NewWorker(store NotificationStore, bodies *BodyResolver, provider Provider, rateLimiter RecipientRateLimiter, observer DeliveryObserver) *Worker {
	return &Worker{
		store:       store,
		bodies:      bodies,
		provider:    provider,
		rateLimiter: rateLimiter,
		observer:    observer,
	}
}

// ProcessTask handles one send task. A returned error wrapping asynq.SkipRetry
// marks a permanent failure; any other error asks the queue to retry.
func (w *Worker) ProcessTask(ctx context.Context, application, notificationID string) error {
	start := time.Now()

	record, err := w.store.GetNotificationByID(ctx, notificationID, application)
	if err != nil {
		return fmt.Errorf("fetching notification %s: %w", notificationID, err)
	}
	if record == nil {
		slog.Error("notification not found", "application", application, "notification_id", notificationID)
		return fmt.Errorf("notification %s not found: %w", notificationID, asynq.SkipRetry)
	}
	if record.Status == StatusSent {
		slog.Info("notification already sent, skipping", "application", application, "notification_id", notificationID)
		return nil
	}

	if err := w.store.UpdateStatus(ctx, application, notificationID, StatusUpdate{Status: StatusProcessing}); err != nil {
		slog.Error("failed to update status to processing", "notification_id", notificationID, "error", err)
	}

	body, err := w.bodies.ResolveBody(ctx, application, record)
	if err != nil {
		return w.fail(ctx, record, fmt.Errorf("resolving body: %w", err))
	}
	if body.Content == "" {
		return w.fail(ctx, record, common.ErrEmptyBody)
	}

	msg := ToEmailMessage(record, body)

	if w.rateLimiter != nil {
		for _, rcpt := range msg.To {
			allowed, err := w.rateLimiter.Allow(ctx, application, rcpt)
			if err != nil {
				// Fail open when Redis is unavailable.
				slog.Error("recipient rate limit check failed, proceeding", "recipient", rcpt, "error", err)
				continue
			}
			if !allowed {
				w.requeue(ctx, record, ErrRecipientThrottled.Error(), false)
				return fmt.Errorf("recipient %s: %w", rcpt, ErrRecipientThrottled)
			}
		}
	}

	outcome := w.provider.Send(ctx, msg)
	if w.observer != nil {
		w.observer.ObserveDelivery(w.provider.Name(), outcome, time.Since(start))
	}

	switch {
	case outcome.OK():
		if err := w.store.UpdateStatus(ctx, application, notificationID, StatusUpdate{
			Status:       StatusSent,
			ProviderID:   outcome.ProviderID,
			IncrementTry: true,
		}); err != nil {
			slog.Error("failed to update status to sent", "notification_id", notificationID, "error", err)
		}
		slog.Info("notification sent",
			"application", application,
			"notification_id", notificationID,
			"provider", w.provider.Name(),
			"provider_id", outcome.ProviderID,
			"duration", time.Since(start),
		)
		return nil

	case outcome.Retryable:
		w.requeue(ctx, record, errorText(outcome.Err), true)
		slog.Warn("notification delivery failed, will retry",
			"application", application,
			"notification_id", notificationID,
			"provider", w.provider.Name(),
			"error", outcome.Err,
			"duration", time.Since(start),
		)
		return fmt.Errorf("delivering notification %s: %w", notificationID, outcome.Err)

	default:
		return w.fail(ctx, record, outcome.Err)
	}
}

// fail marks the record failed and returns a non-retryable error.
func (w *Worker) fail(ctx context.Context, record *Record, cause error) error {
	if cause == nil {
		cause = errors.New("delivery failed")
	}
	if err := w.store.UpdateStatus(ctx, record.Application, record.ID, StatusUpdate{
		Status:       StatusFailed,
		ErrorMessage: cause.Error(),
		IncrementTry: true,
	}); err != nil {
		slog.Error("failed to update status to failed", "notification_id", record.ID, "error", err)
	}

	slog.Error("notification delivery failed permanently",
		"application", record.Application,
		"notification_id", record.ID,
		"error", cause,
	)
	return fmt.Errorf("%w: %w", cause, asynq.SkipRetry)
}

// requeue puts the record back to queued so a retry or the reaper picks it up.
func (w *Worker) requeue(ctx context.Context, record *Record, reason string, attempted bool) {
	if err := w.store.UpdateStatus(ctx, record.Application, record.ID, StatusUpdate{
		Status:       StatusQueued,
		ErrorMessage: reason,
		IncrementTry: attempted,
	}); err != nil {
		slog.Error("failed to reset status to queued", "notification_id", record.ID, "error", err)
	}
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
