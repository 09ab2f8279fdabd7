package notification

import (
	"context"
	"time"
)

// NotificationReader is the read side of the notification store.
// Implementations live in infra/store/.
type NotificationReader interface {
	// GetEmailNotifications returns one page of records matching the filter,
	// ordered by creation time, and the cursor for the next page.
	// The cursor is opaque to callers; an empty cursor starts a scan and an
	// empty returned cursor ends it.
	GetEmailNotifications(ctx context.Context, filter ReportFilter, cursor string) ([]*Record, string, error)

	// GetNotificationByID retrieves a record by id within an application.
	// Returns nil, nil if no record is found.
	GetNotificationByID(ctx context.Context, id, application string) (*Record, error)
}

// NotificationStore is the full store used by the send worker and the reaper.
type NotificationStore interface {
	NotificationReader

	// UpdateStatus records a delivery outcome for a notification.
	UpdateStatus(ctx context.Context, application, id string, update StatusUpdate) error

	// ListStale retrieves records stuck in queued/processing since before olderThan.
	ListStale(ctx context.Context, olderThan time.Time, limit int) ([]*Record, error)
}

// StatusUpdate describes a status write-back.
type StatusUpdate struct {
	Status       NotificationStatus
	ProviderID   string
	ErrorMessage string
	// IncrementTry bumps the record's try count.
	IncrementTry bool
}

// TemplateStore reads templates owned by applications.
type TemplateStore interface {
	// GetTemplate returns nil, nil if the application has no such template.
	GetTemplate(ctx context.Context, application, templateID string) (*Template, error)

	// GetAllTemplates lists every template of an application.
	GetAllTemplates(ctx context.Context, application string) ([]*Template, error)
}
