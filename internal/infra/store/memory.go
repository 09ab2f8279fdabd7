package store

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"sync"
	"time"

	"postroom/internal/common"
	"postroom/internal/domain/notification"
)

var (
	_ notification.NotificationStore = (*MemoryStore)(nil)
	_ notification.TemplateStore     = (*MemoryStore)(nil)
)

type recordKey struct {
	application string
	id          string
}

// MemoryStore keeps notifications and templates in process memory.
// It backs local development and tests.
type MemoryStore struct {
	mu            sync.RWMutex
	notifications map[recordKey]*notification.Record
	templates     map[recordKey]*notification.Template
	now           func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		notifications: make(map[recordKey]*notification.Record),
		templates:     make(map[recordKey]*notification.Template),
		now:           time.Now,
	}
}

// PutNotification inserts or replaces a record.
func (s *MemoryStore) PutNotification(r *notification.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications[recordKey{r.Application, r.ID}] = cloneRecord(r)
}

// PutTemplate inserts or replaces a template.
func (s *MemoryStore) PutTemplate(t *notification.Template) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tc := *t
	s.templates[recordKey{t.Application, t.ID}] = &tc
}

// LoadSeed reads a JSON document of the form
// {"notifications": [...], "templates": [...]} into the store.
func (s *MemoryStore) LoadSeed(r io.Reader) error {
	var seed struct {
		Notifications []*notification.Record   `json:"notifications"`
		Templates     []*notification.Template `json:"templates"`
	}
	if err := json.NewDecoder(r).Decode(&seed); err != nil {
		return fmt.Errorf("decoding seed: %w", err)
	}

	for _, n := range seed.Notifications {
		if n.ID == "" || n.Application == "" {
			return errors.New("seed notification without id or application")
		}
		if n.Status == "" {
			n.Status = notification.StatusQueued
		}
		if n.CreatedAt.IsZero() {
			n.CreatedAt = s.now().UTC()
		}
		if n.UpdatedAt.IsZero() {
			n.UpdatedAt = n.CreatedAt
		}
		s.PutNotification(n)
	}
	for _, t := range seed.Templates {
		if t.ID == "" || t.Application == "" {
			return errors.New("seed template without id or application")
		}
		s.PutTemplate(t)
	}
	return nil
}

// GetEmailNotifications returns one page of matching records in
// (created_at, id) order.
func (s *MemoryStore) GetEmailNotifications(ctx context.Context, filter notification.ReportFilter, cursor string) ([]*notification.Record, string, error) {
	key, err := decodeCursor(cursor)
	if err != nil {
		return nil, "", err
	}
	size := pageSize(filter)

	s.mu.RLock()
	matched := make([]*notification.Record, 0)
	for _, r := range s.notifications {
		if matchesFilter(filter, r) && (key == nil || key.after(r)) {
			matched = append(matched, cloneRecord(r))
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(matched, func(a, b *notification.Record) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	if len(matched) > size+1 {
		matched = matched[:size+1]
	}
	page, next := trimPage(matched, size)
	return page, next, nil
}

// GetNotificationByID retrieves a record. Returns nil, nil if not found.
func (s *MemoryStore) GetNotificationByID(ctx context.Context, id, application string) (*notification.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.notifications[recordKey{application, id}]
	if !ok {
		return nil, nil
	}
	return cloneRecord(r), nil
}

// UpdateStatus writes a delivery outcome back to a record.
func (s *MemoryStore) UpdateStatus(ctx context.Context, application, id string, update notification.StatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.notifications[recordKey{application, id}]
	if !ok {
		return common.NewNotFoundError("notification", id)
	}

	now := s.now().UTC()
	r.Status = update.Status
	r.UpdatedAt = now
	r.ErrorMessage = update.ErrorMessage
	if update.ProviderID != "" {
		r.ProviderID = update.ProviderID
	}
	if update.IncrementTry {
		r.TryCount++
	}
	if update.Status == notification.StatusSent {
		r.SentAt = &now
	}
	return nil
}

// ListStale retrieves records stuck in queued/processing since before olderThan.
func (s *MemoryStore) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]*notification.Record, error) {
	if limit <= 0 {
		limit = 50
	}

	s.mu.RLock()
	var stale []*notification.Record
	for _, r := range s.notifications {
		if (r.Status == notification.StatusQueued || r.Status == notification.StatusProcessing) && r.UpdatedAt.Before(olderThan) {
			stale = append(stale, cloneRecord(r))
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(stale, func(a, b *notification.Record) int {
		return a.UpdatedAt.Compare(b.UpdatedAt)
	})
	if len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}

// GetTemplate returns nil, nil if the application has no such template.
func (s *MemoryStore) GetTemplate(ctx context.Context, application, templateID string) (*notification.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.templates[recordKey{application, templateID}]
	if !ok {
		return nil, nil
	}
	tc := *t
	return &tc, nil
}

// GetAllTemplates lists the templates of an application ordered by id.
func (s *MemoryStore) GetAllTemplates(ctx context.Context, application string) ([]*notification.Template, error) {
	s.mu.RLock()
	out := make([]*notification.Template, 0)
	for k, t := range s.templates {
		if k.application == application {
			tc := *t
			out = append(out, &tc)
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b *notification.Template) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func matchesFilter(f notification.ReportFilter, r *notification.Record) bool {
	if f.Application != "" && r.Application != f.Application {
		return false
	}
	if f.CreatedFrom != nil && r.CreatedAt.Before(*f.CreatedFrom) {
		return false
	}
	if f.CreatedTo != nil && r.CreatedAt.After(*f.CreatedTo) {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, r.Status) {
		return false
	}
	if f.Recipient != "" &&
		!slices.Contains(r.To, f.Recipient) &&
		!slices.Contains(r.CC, f.Recipient) &&
		!slices.Contains(r.BCC, f.Recipient) {
		return false
	}
	return true
}

func cloneRecord(r *notification.Record) *notification.Record {
	c := *r
	c.To = slices.Clone(r.To)
	c.CC = slices.Clone(r.CC)
	c.BCC = slices.Clone(r.BCC)
	c.TemplateData = maps.Clone(r.TemplateData)
	if r.SentAt != nil {
		t := *r.SentAt
		c.SentAt = &t
	}
	return &c
}
