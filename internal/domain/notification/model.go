package notification

import "time"

// NotificationStatus represents the delivery status of a notification record.
type NotificationStatus string

const (
	StatusQueued     NotificationStatus = "queued"
	StatusProcessing NotificationStatus = "processing"
	StatusSent       NotificationStatus = "sent"
	StatusFailed     NotificationStatus = "failed"
)

// IsValidStatus checks whether a status is recognized.
func IsValidStatus(s NotificationStatus) bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusSent, StatusFailed:
		return true
	}
	return false
}

// TemplateType is the format of a template's content.
type TemplateType string

const (
	// TemplateTypeText substitutes {{ key }} placeholders verbatim.
	TemplateTypeText TemplateType = "Text"
	// TemplateTypeHTML substitutes {{ key }} placeholders with HTML-escaped values.
	TemplateTypeHTML TemplateType = "HTML"
	// TemplateTypeGo renders the content with text/template over the data map.
	TemplateTypeGo TemplateType = "GoTemplate"
)

// EmailBodyContentType is the content type tag attached to every resolved body.
const EmailBodyContentType = "HTML"

// Record is an email notification queued by an upstream producer.
// It is read-only to the resolution and reporting paths.
type Record struct {
	ID           string             `json:"id"`
	Application  string             `json:"application"`
	From         string             `json:"from,omitempty"`
	To           []string           `json:"to"`
	CC           []string           `json:"cc,omitempty"`
	BCC          []string           `json:"bcc,omitempty"`
	ReplyTo      string             `json:"reply_to,omitempty"`
	Subject      string             `json:"subject"`
	Body         string             `json:"body,omitempty"`
	TemplateID   string             `json:"template_id,omitempty"`
	TemplateData map[string]string  `json:"template_data,omitempty"`
	Importance   string             `json:"importance,omitempty"`
	Status       NotificationStatus `json:"status"`
	TryCount     int                `json:"try_count"`
	ProviderID   string             `json:"provider_id,omitempty"`
	ErrorMessage string             `json:"error_message,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
	SentAt       *time.Time         `json:"sent_at,omitempty"`
}

// Template is a named content skeleton owned by an application.
type Template struct {
	ID          string       `json:"id"`
	Application string       `json:"application"`
	Type        TemplateType `json:"type"`
	Description string       `json:"description,omitempty"`
	Content     string       `json:"content"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// TemplateInfo is the report-facing view of a template, without its content.
type TemplateInfo struct {
	ID          string       `json:"id"`
	Application string       `json:"application"`
	Type        TemplateType `json:"type"`
	Description string       `json:"description,omitempty"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// MessageBody is a rendered body with its content type.
type MessageBody struct {
	Content     string `json:"content"`
	ContentType string `json:"content_type"`
}

// EmailMessage is a notification record projected for delivery.
type EmailMessage struct {
	NotificationID string      `json:"notification_id"`
	Application    string      `json:"application"`
	From           string      `json:"from,omitempty"`
	To             []string    `json:"to"`
	CC             []string    `json:"cc,omitempty"`
	BCC            []string    `json:"bcc,omitempty"`
	ReplyTo        string      `json:"reply_to,omitempty"`
	Subject        string      `json:"subject"`
	Importance     string      `json:"importance,omitempty"`
	Body           MessageBody `json:"body"`
}

// Recipients returns every envelope recipient (to, cc, bcc).
func (m *EmailMessage) Recipients() []string {
	out := make([]string, 0, len(m.To)+len(m.CC)+len(m.BCC))
	out = append(out, m.To...)
	out = append(out, m.CC...)
	return append(out, m.BCC...)
}

// ReportFilter selects notification records for a report query.
type ReportFilter struct {
	Application string               `json:"application"`
	CreatedFrom *time.Time           `json:"created_from,omitempty"`
	CreatedTo   *time.Time           `json:"created_to,omitempty"`
	Statuses    []NotificationStatus `json:"statuses,omitempty"`
	Recipient   string               `json:"recipient,omitempty"`
	PageSize    int                  `json:"page_size,omitempty"`
}

const (
	DefaultReportPageSize = 50
	MaxReportPageSize     = 500
)

// ReportRow is a notification record projected for reporting.
// Body, template data and provider ids are not exposed.
type ReportRow struct {
	NotificationID string             `json:"notification_id"`
	Application    string             `json:"application"`
	From           string             `json:"from,omitempty"`
	To             []string           `json:"to"`
	CC             []string           `json:"cc,omitempty"`
	BCC            []string           `json:"bcc,omitempty"`
	Subject        string             `json:"subject"`
	TemplateID     string             `json:"template_id,omitempty"`
	Importance     string             `json:"importance,omitempty"`
	Status         NotificationStatus `json:"status"`
	TryCount       int                `json:"try_count"`
	ErrorMessage   string             `json:"error_message,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
	SentAt         *time.Time         `json:"sent_at,omitempty"`
}

// ReportPage is one page of a report query. An empty NextCursor means there are no more pages.
type ReportPage struct {
	Rows       []ReportRow `json:"rows"`
	NextCursor string      `json:"next_cursor"`
}

// ApplicationAccounts is one entry of the configured application accounts list.
type ApplicationAccounts struct {
	ApplicationName string   `json:"ApplicationName"`
	Accounts        []string `json:"Accounts,omitempty"`
}
