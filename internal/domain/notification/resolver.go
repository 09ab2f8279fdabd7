package notification

import (
	"context"
	"fmt"
	"log/slog"

	"postroom/internal/common"
)

// TemplateResolver looks up application templates. It does not cache: the
// template store is authoritative for every resolution.
type TemplateResolver struct {
	store TemplateStore
}

// NewTemplateResolver creates a new template resolver.
func NewTemplateResolver(store TemplateStore) *TemplateResolver {
	return &TemplateResolver{store: store}
}

// Resolve returns the named template of an application.
func (r *TemplateResolver) Resolve(ctx context.Context, application, templateID string) (*Template, error) {
	if application == "" {
		return nil, common.NewValidationError("application name cannot be empty")
	}
	if templateID == "" {
		return nil, common.NewValidationError("template id cannot be empty")
	}

	tmpl, err := r.store.GetTemplate(ctx, application, templateID)
	if err != nil {
		return nil, fmt.Errorf("fetching template %s: %w", templateID, err)
	}
	if tmpl == nil {
		return nil, common.NewTemplateNotFoundError(application, templateID)
	}
	return tmpl, nil
}

// List returns every template of an application without content.
func (r *TemplateResolver) List(ctx context.Context, application string) ([]TemplateInfo, error) {
	if application == "" {
		return nil, common.NewValidationError("application name cannot be empty")
	}

	templates, err := r.store.GetAllTemplates(ctx, application)
	if err != nil {
		return nil, fmt.Errorf("listing templates: %w", err)
	}

	infos := make([]TemplateInfo, 0, len(templates))
	for _, t := range templates {
		infos = append(infos, TemplateInfo{
			ID:          t.ID,
			Application: t.Application,
			Type:        t.Type,
			Description: t.Description,
			UpdatedAt:   t.UpdatedAt,
		})
	}
	return infos, nil
}

// BodyResolver produces the message body of a notification record.
type BodyResolver struct {
	templates *TemplateResolver
	merger    TemplateMerger
}

// NewBodyResolver creates a new body resolver.
func NewBodyResolver(templates *TemplateResolver, merger TemplateMerger) *BodyResolver {
	return &BodyResolver{templates: templates, merger: merger}
}

// ResolveBody picks the record's literal body when present, otherwise merges
// its template with the record's template data. A record with neither yields
// an empty body; deciding whether that is acceptable is up to the caller.
func (b *BodyResolver) ResolveBody(ctx context.Context, application string, record *Record) (MessageBody, error) {
	if application == "" {
		return MessageBody{}, common.NewValidationError("application name cannot be empty")
	}
	if record == nil {
		return MessageBody{}, common.NewValidationError("notification cannot be nil")
	}

	slog.Debug("resolving notification body",
		"application", application,
		"notification_id", record.ID,
	)

	var content string
	switch {
	case record.Body != "":
		content = record.Body
	case record.TemplateID != "":
		tmpl, err := b.templates.Resolve(ctx, application, record.TemplateID)
		if err != nil {
			slog.Error("template resolution failed",
				"application", application,
				"notification_id", record.ID,
				"template_id", record.TemplateID,
				"error", err,
			)
			return MessageBody{}, err
		}

		content, err = b.merger.Merge(tmpl.Type, tmpl.Content, record.TemplateData)
		if err != nil {
			slog.Error("template merge failed",
				"application", application,
				"notification_id", record.ID,
				"template_id", record.TemplateID,
				"error", err,
			)
			return MessageBody{}, err
		}
	}

	slog.Debug("resolved notification body",
		"application", application,
		"notification_id", record.ID,
		"length", len(content),
	)

	return MessageBody{Content: content, ContentType: EmailBodyContentType}, nil
}
