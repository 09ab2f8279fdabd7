package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"postroom/internal/common"
)

// Enqueuer defines the contract for enqueuing send tasks.
// This allows the service to be decoupled from the specific queue implementation.
type Enqueuer interface {
	EnqueueSendNotification(application, notificationID string) error
}

// Service answers report queries and message lookups over stored notifications.
// It never mutates a record.
type Service struct {
	reader              NotificationReader
	templates           *TemplateResolver
	bodies              *BodyResolver
	enqueuer            Enqueuer
	applicationAccounts string
}

// NewService creates a new notification service. applicationAccounts is the
// raw JSON list from configuration.
func NewService(reader NotificationReader, templates *TemplateResolver, bodies *BodyResolver, enqueuer Enqueuer, applicationAccounts string) *Service {
	return &Service{
		reader:              reader,
		templates:           templates,
		bodies:              bodies,
		enqueuer:            enqueuer,
		applicationAccounts: applicationAccounts,
	}
}

// GetReportNotifications returns one page of report rows. The store's cursor
// is passed through unchanged. Records added while a scan is in progress may
// or may not appear in later pages.
func (s *Service) GetReportNotifications(ctx context.Context, filter *ReportFilter, cursor string) (*ReportPage, error) {
	if filter == nil {
		return nil, common.NewValidationError("notification report filter cannot be nil")
	}
	f, err := normalizeFilter(*filter)
	if err != nil {
		return nil, err
	}

	records, next, err := s.reader.GetEmailNotifications(ctx, f, cursor)
	if err != nil {
		slog.Error("report query failed",
			"application", f.Application,
			"error", err,
		)
		return nil, fmt.Errorf("querying notifications: %w", err)
	}

	rows := make([]ReportRow, 0, len(records))
	for _, r := range records {
		rows = append(rows, toReportRow(r))
	}

	return &ReportPage{Rows: rows, NextCursor: next}, nil
}

// GetNotificationMessage resolves a stored notification into a deliverable message.
func (s *Service) GetNotificationMessage(ctx context.Context, application, notificationID string) (*EmailMessage, error) {
	if application == "" {
		return nil, common.NewValidationError("application name cannot be empty")
	}
	if notificationID == "" {
		return nil, common.NewValidationError("notification id cannot be empty")
	}

	slog.Info("fetching notification message",
		"application", application,
		"notification_id", notificationID,
	)

	record, err := s.reader.GetNotificationByID(ctx, notificationID, application)
	if err != nil {
		slog.Error("fetching notification failed",
			"application", application,
			"notification_id", notificationID,
			"error", err,
		)
		return nil, fmt.Errorf("fetching notification: %w", err)
	}
	if record == nil {
		return nil, common.NewNotFoundError("notification", notificationID)
	}

	body, err := s.bodies.ResolveBody(ctx, application, record)
	if err != nil {
		return nil, err
	}

	return ToEmailMessage(record, body), nil
}

// GetAllTemplates lists the templates of an application.
func (s *Service) GetAllTemplates(ctx context.Context, application string) ([]TemplateInfo, error) {
	infos, err := s.templates.List(ctx, application)
	if err != nil {
		slog.Error("listing templates failed", "application", application, "error", err)
		return nil, err
	}
	return infos, nil
}

// GetApplications returns the application names from the configured accounts list.
func (s *Service) GetApplications() ([]string, error) {
	accounts, err := ParseApplicationAccounts(s.applicationAccounts)
	if err != nil {
		slog.Error("reading application accounts failed", "error", err)
		return nil, err
	}

	names := make([]string, 0, len(accounts))
	for _, a := range accounts {
		names = append(names, a.ApplicationName)
	}
	return names, nil
}

// RequestSend enqueues a (re)send of a stored notification.
func (s *Service) RequestSend(ctx context.Context, application, notificationID string) error {
	if application == "" || notificationID == "" {
		return common.NewValidationError("application name and notification id are required")
	}

	record, err := s.reader.GetNotificationByID(ctx, notificationID, application)
	if err != nil {
		return fmt.Errorf("fetching notification: %w", err)
	}
	if record == nil {
		return common.NewNotFoundError("notification", notificationID)
	}

	if err := s.enqueuer.EnqueueSendNotification(application, notificationID); err != nil {
		return fmt.Errorf("enqueuing notification: %w", err)
	}

	slog.Info("notification send enqueued",
		"application", application,
		"notification_id", notificationID,
	)
	return nil
}

// ParseApplicationAccounts decodes the configured application accounts list.
func ParseApplicationAccounts(raw string) ([]ApplicationAccounts, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, common.NewConfigurationError("application_accounts", errors.New("value is empty"))
	}

	var accounts []ApplicationAccounts
	if err := json.Unmarshal([]byte(raw), &accounts); err != nil {
		return nil, common.NewConfigurationError("application_accounts", err)
	}
	for i, a := range accounts {
		if a.ApplicationName == "" {
			return nil, common.NewConfigurationError("application_accounts",
				fmt.Errorf("entry %d has no ApplicationName", i))
		}
	}
	return accounts, nil
}

// ToEmailMessage projects a record and its resolved body into a deliverable message.
func ToEmailMessage(r *Record, body MessageBody) *EmailMessage {
	return &EmailMessage{
		NotificationID: r.ID,
		Application:    r.Application,
		From:           r.From,
		To:             r.To,
		CC:             r.CC,
		BCC:            r.BCC,
		ReplyTo:        r.ReplyTo,
		Subject:        r.Subject,
		Importance:     r.Importance,
		Body:           body,
	}
}

func toReportRow(r *Record) ReportRow {
	return ReportRow{
		NotificationID: r.ID,
		Application:    r.Application,
		From:           r.From,
		To:             r.To,
		CC:             r.CC,
		BCC:            r.BCC,
		Subject:        r.Subject,
		TemplateID:     r.TemplateID,
		Importance:     r.Importance,
		Status:         r.Status,
		TryCount:       r.TryCount,
		ErrorMessage:   r.ErrorMessage,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
		SentAt:         r.SentAt,
	}
}

// normalizeFilter validates a filter and applies the page size default.
func normalizeFilter(f ReportFilter) (ReportFilter, error) {
	if f.PageSize < 0 {
		return f, common.NewValidationError("page_size cannot be negative")
	}
	if f.PageSize == 0 {
		f.PageSize = DefaultReportPageSize
	}
	if f.PageSize > MaxReportPageSize {
		f.PageSize = MaxReportPageSize
	}
	if f.CreatedFrom != nil && f.CreatedTo != nil && f.CreatedFrom.After(*f.CreatedTo) {
		return f, common.NewValidationError("created_from must not be after created_to")
	}
	for _, st := range f.Statuses {
		if !IsValidStatus(st) {
			return f, common.NewValidationError(fmt.Sprintf("unsupported status: %s", st))
		}
	}
	return f, nil
}
