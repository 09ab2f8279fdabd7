package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"postroom/internal/common"
	"postroom/internal/config"
	"postroom/internal/domain/notification"
)

var (
	_ notification.NotificationStore = (*PostgresStore)(nil)
	_ notification.TemplateStore     = (*PostgresStore)(nil)
)

// Connect creates a pgxpool connection pool and verifies connectivity.
func Connect(ctx context.Context, cfg config.PostgresConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// PostgresStore implements the notification and template stores directly on PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore returns a store backed by pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const notificationColumns = `
	id, application, from_address, to_addresses, cc_addresses, bcc_addresses,
	reply_to, subject, body, template_id, template_data, importance, status,
	try_count, provider_id, error_message, created_at, updated_at, sent_at`

// GetEmailNotifications returns one page of matching records in
// (created_at, id) order using keyset pagination.
func (s *PostgresStore) GetEmailNotifications(ctx context.Context, filter notification.ReportFilter, cursor string) ([]*notification.Record, string, error) {
	key, err := decodeCursor(cursor)
	if err != nil {
		return nil, "", err
	}
	size := pageSize(filter)

	where, args := buildReportWhere(filter, key)
	args = append(args, size+1)

	query := fmt.Sprintf(`
		SELECT %s
		FROM email_notifications%s
		ORDER BY created_at ASC, id ASC
		LIMIT $%d`, notificationColumns, where, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("list email notifications: %w", err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, "", err
	}

	page, next := trimPage(records, size)
	return page, next, nil
}

// GetNotificationByID retrieves a record. Returns nil, nil if not found.
func (s *PostgresStore) GetNotificationByID(ctx context.Context, id, application string) (*notification.Record, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+notificationColumns+`
		FROM email_notifications
		WHERE application = $1 AND id = $2`, application, id)

	r, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get email notification: %w", err)
	}
	return r, nil
}

// UpdateStatus writes a delivery outcome back to a record.
func (s *PostgresStore) UpdateStatus(ctx context.Context, application, id string, update notification.StatusUpdate) error {
	inc := 0
	if update.IncrementTry {
		inc = 1
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE email_notifications
		SET status        = $3,
		    provider_id   = COALESCE(NULLIF($4, ''), provider_id),
		    error_message = NULLIF($5, ''),
		    try_count     = try_count + $6,
		    updated_at    = NOW(),
		    sent_at       = CASE WHEN $3 = 'sent' THEN NOW() ELSE sent_at END
		WHERE application = $1 AND id = $2`,
		application, id, string(update.Status), update.ProviderID, update.ErrorMessage, inc,
	)
	if err != nil {
		return fmt.Errorf("update notification status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.NewNotFoundError("notification", id)
	}
	return nil
}

// ListStale retrieves records stuck in queued/processing since before olderThan.
func (s *PostgresStore) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]*notification.Record, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+notificationColumns+`
		FROM email_notifications
		WHERE status IN ('queued', 'processing')
		  AND updated_at < $1
		ORDER BY updated_at ASC
		LIMIT $2`, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale notifications: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// GetTemplate returns nil, nil if the application has no such template.
func (s *PostgresStore) GetTemplate(ctx context.Context, application, templateID string) (*notification.Template, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, application, type, description, content, updated_at
		FROM email_templates
		WHERE application = $1 AND id = $2`, application, templateID)

	t, err := scanTemplate(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	return t, nil
}

// GetAllTemplates lists the templates of an application ordered by id.
func (s *PostgresStore) GetAllTemplates(ctx context.Context, application string) ([]*notification.Template, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, application, type, description, content, updated_at
		FROM email_templates
		WHERE application = $1
		ORDER BY id`, application)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var templates []*notification.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, t)
	}
	return templates, rows.Err()
}

// ---- helpers ----

// scanRecord reads a single notification row from any pgx row type.
func scanRecord(row pgx.Row) (*notification.Record, error) {
	var (
		r          notification.Record
		from       *string
		replyTo    *string
		body       *string
		templateID *string
		importance *string
		providerID *string
		errMessage *string
		status     string
		data       map[string]any
	)
	err := row.Scan(
		&r.ID, &r.Application, &from, &r.To, &r.CC, &r.BCC,
		&replyTo, &r.Subject, &body, &templateID, &data, &importance, &status,
		&r.TryCount, &providerID, &errMessage, &r.CreatedAt, &r.UpdatedAt, &r.SentAt,
	)
	if err != nil {
		return nil, err
	}

	r.From = deref(from)
	r.ReplyTo = deref(replyTo)
	r.Body = deref(body)
	r.TemplateID = deref(templateID)
	r.TemplateData = templateData(data)
	r.Importance = deref(importance)
	r.Status = notification.NotificationStatus(status)
	r.ProviderID = deref(providerID)
	r.ErrorMessage = deref(errMessage)
	return &r, nil
}

func scanRecords(rows pgx.Rows) ([]*notification.Record, error) {
	var result []*notification.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan email notification: %w", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func scanTemplate(row pgx.Row) (*notification.Template, error) {
	var (
		t           notification.Template
		typ         string
		description *string
	)
	if err := row.Scan(&t.ID, &t.Application, &typ, &description, &t.Content, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Type = notification.TemplateType(typ)
	t.Description = deref(description)
	return &t, nil
}

// buildReportWhere builds a parameterised WHERE clause from a report filter
// and an optional keyset position.
func buildReportWhere(f notification.ReportFilter, key *pageKey) (string, []any) {
	var conditions []string
	var args []any

	add := func(condition string, val any) {
		args = append(args, val)
		conditions = append(conditions, strings.ReplaceAll(condition, "$?", fmt.Sprintf("$%d", len(args))))
	}

	if f.Application != "" {
		add("application = $?", f.Application)
	}
	if f.CreatedFrom != nil {
		add("created_at >= $?", *f.CreatedFrom)
	}
	if f.CreatedTo != nil {
		add("created_at <= $?", *f.CreatedTo)
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		add("status = ANY($?)", statuses)
	}
	if f.Recipient != "" {
		add("($? = ANY(to_addresses) OR $? = ANY(cc_addresses) OR $? = ANY(bcc_addresses))", f.Recipient)
	}
	if key != nil {
		args = append(args, key.CreatedAt, key.ID)
		conditions = append(conditions, fmt.Sprintf("(created_at, id) > ($%d, $%d)", len(args)-1, len(args)))
	}

	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}
