package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"postroom/internal/common"
	"postroom/internal/domain/notification"

	"github.com/supabase-community/postgrest-go"
	supa "github.com/supabase-community/supabase-go"
)

const (
	notificationsTable = "email_notifications"
	templatesTable     = "email_templates"
)

var (
	_ notification.NotificationStore = (*SupabaseStore)(nil)
	_ notification.TemplateStore     = (*SupabaseStore)(nil)
)

// SupabaseStore implements the notification and template stores using the Supabase Go SDK.
type SupabaseStore struct {
	client *supa.Client
}

// NewSupabaseStore creates a new Supabase-backed store.
func NewSupabaseStore(supabaseURL, serviceKey string) (*SupabaseStore, error) {
	client, err := supa.NewClient(supabaseURL, serviceKey, nil)
	if err != nil {
		return nil, fmt.Errorf("creating supabase client: %w", err)
	}
	return &SupabaseStore{client: client}, nil
}

// notificationRow is the PostgREST representation of an email notification.
type notificationRow struct {
	ID           string         `json:"id"`
	Application  string         `json:"application"`
	FromAddress  *string        `json:"from_address"`
	ToAddresses  []string       `json:"to_addresses"`
	CCAddresses  []string       `json:"cc_addresses"`
	BCCAddresses []string       `json:"bcc_addresses"`
	ReplyTo      *string        `json:"reply_to"`
	Subject      string         `json:"subject"`
	Body         *string        `json:"body"`
	TemplateID   *string        `json:"template_id"`
	TemplateData map[string]any `json:"template_data"`
	Importance   *string        `json:"importance"`
	Status       string         `json:"status"`
	TryCount     int            `json:"try_count"`
	ProviderID   *string        `json:"provider_id"`
	ErrorMessage *string        `json:"error_message"`
	CreatedAt    string         `json:"created_at"`
	UpdatedAt    string         `json:"updated_at"`
	SentAt       *string        `json:"sent_at"`
}

type templateRow struct {
	ID          string  `json:"id"`
	Application string  `json:"application"`
	Type        string  `json:"type"`
	Description *string `json:"description"`
	Content     string  `json:"content"`
	UpdatedAt   string  `json:"updated_at"`
}

// GetEmailNotifications returns one page of matching records in
// (created_at, id) order using keyset pagination.
func (s *SupabaseStore) GetEmailNotifications(ctx context.Context, filter notification.ReportFilter, cursor string) ([]*notification.Record, string, error) {
	key, err := decodeCursor(cursor)
	if err != nil {
		return nil, "", err
	}
	size := pageSize(filter)

	query := s.client.From(notificationsTable).Select("*", "", false)

	if filter.Application != "" {
		query = query.Eq("application", filter.Application)
	}
	if filter.CreatedFrom != nil {
		query = query.Gte("created_at", formatTime(*filter.CreatedFrom))
	}
	if filter.CreatedTo != nil {
		query = query.Lte("created_at", formatTime(*filter.CreatedTo))
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		query = query.In("status", statuses)
	}

	// PostgREST accepts a single "or" parameter, so the recipient match and
	// the keyset condition are combined into one logical tree.
	var groups []string
	if filter.Recipient != "" {
		r := quoteFilterValue(filter.Recipient)
		groups = append(groups, fmt.Sprintf("or(to_addresses.cs.{%s},cc_addresses.cs.{%s},bcc_addresses.cs.{%s})", r, r, r))
	}
	if key != nil {
		ts := quoteFilterValue(formatTime(key.CreatedAt))
		groups = append(groups, fmt.Sprintf("or(created_at.gt.%s,and(created_at.eq.%s,id.gt.%s))", ts, ts, quoteFilterValue(key.ID)))
	}
	if len(groups) > 0 {
		query = query.Or("and("+strings.Join(groups, ",")+")", "")
	}

	query = query.
		Order("created_at", &postgrest.OrderOpts{Ascending: true}).
		Order("id", &postgrest.OrderOpts{Ascending: true}).
		Range(0, size, "")

	data, _, err := query.Execute()
	if err != nil {
		return nil, "", fmt.Errorf("listing email notifications: %w", err)
	}

	var rows []notificationRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, "", fmt.Errorf("parsing email notifications: %w", err)
	}

	records := make([]*notification.Record, len(rows))
	for i := range rows {
		records[i] = rowToRecord(&rows[i])
	}

	page, next := trimPage(records, size)
	return page, next, nil
}

// GetNotificationByID retrieves a record. Returns nil, nil if not found.
func (s *SupabaseStore) GetNotificationByID(ctx context.Context, id, application string) (*notification.Record, error) {
	data, _, err := s.client.From(notificationsTable).
		Select("*", "", false).
		Eq("application", application).
		Eq("id", id).
		Execute()
	if err != nil {
		return nil, fmt.Errorf("fetching email notification: %w", err)
	}

	var rows []notificationRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("parsing email notification: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rowToRecord(&rows[0]), nil
}

// UpdateStatus writes a delivery outcome back to a record. PostgREST has no
// atomic increment, so the try count is read first.
func (s *SupabaseStore) UpdateStatus(ctx context.Context, application, id string, update notification.StatusUpdate) error {
	now := formatTime(time.Now())

	values := map[string]any{
		"status":        string(update.Status),
		"updated_at":    now,
		"error_message": nullable(update.ErrorMessage),
	}
	if update.ProviderID != "" {
		values["provider_id"] = update.ProviderID
	}
	if update.Status == notification.StatusSent {
		values["sent_at"] = now
	}

	if update.IncrementTry {
		current, err := s.GetNotificationByID(ctx, id, application)
		if err != nil {
			return err
		}
		if current == nil {
			return common.NewNotFoundError("notification", id)
		}
		values["try_count"] = current.TryCount + 1
	}

	_, _, err := s.client.From(notificationsTable).
		Update(values, "", "").
		Eq("application", application).
		Eq("id", id).
		Execute()
	if err != nil {
		return fmt.Errorf("updating notification status: %w", err)
	}
	return nil
}

// ListStale retrieves records stuck in queued/processing since before olderThan.
func (s *SupabaseStore) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]*notification.Record, error) {
	if limit <= 0 {
		limit = 50
	}

	query := s.client.From(notificationsTable).
		Select("*", "", false).
		In("status", []string{string(notification.StatusQueued), string(notification.StatusProcessing)}).
		Lt("updated_at", formatTime(olderThan)).
		Order("updated_at", &postgrest.OrderOpts{Ascending: true}).
		Range(0, limit-1, "")

	data, _, err := query.Execute()
	if err != nil {
		return nil, fmt.Errorf("listing stale notifications: %w", err)
	}

	var rows []notificationRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("parsing stale notifications: %w", err)
	}

	records := make([]*notification.Record, len(rows))
	for i := range rows {
		records[i] = rowToRecord(&rows[i])
	}
	return records, nil
}

// GetTemplate returns nil, nil if the application has no such template.
func (s *SupabaseStore) GetTemplate(ctx context.Context, application, templateID string) (*notification.Template, error) {
	data, _, err := s.client.From(templatesTable).
		Select("*", "", false).
		Eq("application", application).
		Eq("id", templateID).
		Execute()
	if err != nil {
		return nil, fmt.Errorf("fetching template: %w", err)
	}

	var rows []templateRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("parsing template: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rowToTemplate(&rows[0]), nil
}

// GetAllTemplates lists the templates of an application ordered by id.
func (s *SupabaseStore) GetAllTemplates(ctx context.Context, application string) ([]*notification.Template, error) {
	data, _, err := s.client.From(templatesTable).
		Select("*", "", false).
		Eq("application", application).
		Order("id", &postgrest.OrderOpts{Ascending: true}).
		Execute()
	if err != nil {
		return nil, fmt.Errorf("listing templates: %w", err)
	}

	var rows []templateRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("parsing templates: %w", err)
	}

	templates := make([]*notification.Template, len(rows))
	for i := range rows {
		templates[i] = rowToTemplate(&rows[i])
	}
	return templates, nil
}

// rowToRecord converts a notificationRow to a Record.
func rowToRecord(row *notificationRow) *notification.Record {
	r := &notification.Record{
		ID:           row.ID,
		Application:  row.Application,
		From:         deref(row.FromAddress),
		To:           row.ToAddresses,
		CC:           row.CCAddresses,
		BCC:          row.BCCAddresses,
		ReplyTo:      deref(row.ReplyTo),
		Subject:      row.Subject,
		Body:         deref(row.Body),
		TemplateID:   deref(row.TemplateID),
		TemplateData: templateData(row.TemplateData),
		Importance:   deref(row.Importance),
		Status:       notification.NotificationStatus(row.Status),
		TryCount:     row.TryCount,
		ProviderID:   deref(row.ProviderID),
		ErrorMessage: deref(row.ErrorMessage),
		CreatedAt:    parseTime(row.CreatedAt),
		UpdatedAt:    parseTime(row.UpdatedAt),
	}
	if row.SentAt != nil {
		if t := parseTime(*row.SentAt); !t.IsZero() {
			r.SentAt = &t
		}
	}
	return r
}

func rowToTemplate(row *templateRow) *notification.Template {
	return &notification.Template{
		ID:          row.ID,
		Application: row.Application,
		Type:        notification.TemplateType(row.Type),
		Description: deref(row.Description),
		Content:     row.Content,
		UpdatedAt:   parseTime(row.UpdatedAt),
	}
}
