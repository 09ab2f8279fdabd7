package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"postroom/internal/config"
	"postroom/internal/domain/notification"

	"github.com/hibiken/asynq"
)

// QueueName is the asynq queue carrying send tasks.
const QueueName = "notifications"

var _ notification.Enqueuer = (*Enqueuer)(nil)

func redisOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

// NewClient creates a new asynq client connected to Redis.
func NewClient(cfg config.RedisConfig) *asynq.Client {
	return asynq.NewClient(redisOpt(cfg))
}

// NewServer creates a new asynq server connected to Redis.
func NewServer(redis config.RedisConfig, q config.QueueConfig) *asynq.Server {
	return asynq.NewServer(
		redisOpt(redis),
		asynq.Config{
			Concurrency: q.Concurrency,
			Queues: map[string]int{
				QueueName: 10, // priority weight
				"default": 1,
			},
			RetryDelayFunc: RetryDelay(time.Duration(q.RetryDelaySec) * time.Second),
			IsFailure: func(err error) bool {
				// Recipient throttling is expected back-pressure, not a failure.
				return !errors.Is(err, notification.ErrRecipientThrottled)
			},
		},
	)
}

// RetryDelay returns exponential backoff starting at base: base, 2*base, 4*base...
// capped at one hour.
func RetryDelay(base time.Duration) asynq.RetryDelayFunc {
	if base <= 0 {
		base = 30 * time.Second
	}
	return func(n int, _ error, _ *asynq.Task) time.Duration {
		if n < 1 {
			n = 1
		}
		if n > 8 {
			n = 8
		}
		d := base * time.Duration(1<<uint(n-1))
		return min(d, time.Hour)
	}
}

// TaskInspector looks up and removes tasks by id. *asynq.Inspector implements it.
type TaskInspector interface {
	GetTaskInfo(queue, id string) (*asynq.TaskInfo, error)
	DeleteTask(queue, id string) error
}

// NewInspector creates an asynq inspector connected to Redis.
func NewInspector(cfg config.RedisConfig) *asynq.Inspector {
	return asynq.NewInspector(redisOpt(cfg))
}

// TaskClient enqueues tasks. *asynq.Client implements it.
type TaskClient interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Enqueuer adapts the asynq client to the notification.Enqueuer interface.
type Enqueuer struct {
	client    TaskClient
	inspector TaskInspector
	maxRetry  int
}

// NewEnqueuer creates a new enqueuer.
func NewEnqueuer(client TaskClient, inspector TaskInspector, maxRetry int) *Enqueuer {
	return &Enqueuer{client: client, inspector: inspector, maxRetry: maxRetry}
}

// EnqueueSendNotification enqueues a send task. The task id is derived from
// the record, so a record that is waiting or running is not queued twice.
// A finished task with the same id (archived after a permanent failure or
// exhausted retries, or retained after completion) is replaced.
func (e *Enqueuer) EnqueueSendNotification(application, notificationID string) error {
	task, err := notification.NewSendNotificationTask(application, notificationID)
	if err != nil {
		return fmt.Errorf("creating task: %w", err)
	}
	id := TaskID(application, notificationID)

	err = e.enqueue(task, id)
	if !errors.Is(err, asynq.ErrTaskIDConflict) {
		return err
	}

	info, err := e.inspector.GetTaskInfo(QueueName, id)
	switch {
	case errors.Is(err, asynq.ErrTaskNotFound):
		// Finished between the conflict and the lookup.
		return e.enqueueAgain(task, id)
	case err != nil:
		return fmt.Errorf("inspecting task %s: %w", id, err)
	}

	switch info.State {
	case asynq.TaskStateArchived, asynq.TaskStateCompleted:
		if err := e.inspector.DeleteTask(QueueName, id); err != nil && !errors.Is(err, asynq.ErrTaskNotFound) {
			return fmt.Errorf("deleting finished task %s: %w", id, err)
		}
		slog.Info("replacing finished send task",
			"application", application,
			"notification_id", notificationID,
			"previous_state", info.State.String(),
		)
		return e.enqueueAgain(task, id)
	default:
		slog.Info("send task already queued",
			"application", application,
			"notification_id", notificationID,
			"state", info.State.String(),
		)
		return nil
	}
}

func (e *Enqueuer) enqueue(task *asynq.Task, id string) error {
	_, err := e.client.Enqueue(task,
		asynq.MaxRetry(e.maxRetry),
		asynq.Queue(QueueName),
		asynq.TaskID(id),
	)
	if err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
		return fmt.Errorf("enqueuing task: %w", err)
	}
	return err
}

// enqueueAgain treats a second conflict as a concurrent enqueue of the same record.
func (e *Enqueuer) enqueueAgain(task *asynq.Task, id string) error {
	if err := e.enqueue(task, id); !errors.Is(err, asynq.ErrTaskIDConflict) {
		return err
	}
	return nil
}

// TaskID is the asynq task id of a record's send task.
func TaskID(application, notificationID string) string {
	return "send:" + application + ":" + notificationID
}

// TaskProcessor handles one send task.
type TaskProcessor interface {
	ProcessTask(ctx context.Context, application, notificationID string) error
}

// NewServeMux registers the send task handler.
func NewServeMux(p TaskProcessor) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(notification.TaskTypeSendNotification, func(ctx context.Context, task *asynq.Task) error {
		payload, err := notification.ParseSendNotificationPayload(task.Payload())
		if err != nil {
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		return p.ProcessTask(ctx, payload.Application, payload.NotificationID)
	})
	return mux
}
