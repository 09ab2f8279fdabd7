package notification_test

import (
	"context"
	"sync"
	"time"

	"postroom/internal/domain/notification"
	"postroom/internal/infra/store"
	"postroom/internal/infra/template"
)

var created = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

type recordedSend struct {
	application    string
	notificationID string
}

type fakeEnqueuer struct {
	mu    sync.Mutex
	sends []recordedSend
	err   error
}

func (f *fakeEnqueuer) EnqueueSendNotification(application, notificationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sends = append(f.sends, recordedSend{application, notificationID})
	return nil
}

type fakeProvider struct {
	outcome notification.DeliveryOutcome
	sent    []*notification.EmailMessage
}

func (f *fakeProvider) Send(_ context.Context, msg *notification.EmailMessage) notification.DeliveryOutcome {
	f.sent = append(f.sent, msg)
	return f.outcome
}

func (f *fakeProvider) Name() string { return "fake" }

type fakeLimiter struct {
	allowed bool
	err     error
	calls   int
}

func (f *fakeLimiter) Allow(context.Context, string, string) (bool, error) {
	f.calls++
	return f.allowed, f.err
}

type observation struct {
	provider string
	outcome  notification.DeliveryOutcome
}

type fakeObserver struct {
	observed []observation
}

func (f *fakeObserver) ObserveDelivery(provider string, outcome notification.DeliveryOutcome, _ time.Duration) {
	f.observed = append(f.observed, observation{provider, outcome})
}

// seededStore returns a memory store with two applications, a few records and
// templates covering literal, Text and HTML bodies.
func seededStore() *store.MemoryStore {
	s := store.NewMemoryStore()

	s.PutTemplate(&notification.Template{
		ID: "welcome", Application: "billing", Type: notification.TemplateTypeText,
		Description: "Welcome mail", Content: "Hello {{name}}", UpdatedAt: created,
	})
	s.PutTemplate(&notification.Template{
		ID: "invoice", Application: "billing", Type: notification.TemplateTypeHTML,
		Content: "<p>Invoice for {{ name }}</p>", UpdatedAt: created,
	})
	s.PutTemplate(&notification.Template{
		ID: "broken", Application: "billing", Type: notification.TemplateTypeGo,
		Content: "{{ if }}", UpdatedAt: created,
	})

	s.PutNotification(&notification.Record{
		ID: "n-literal", Application: "billing", To: []string{"alice@example.com"},
		CC: []string{"carol@example.com"}, Subject: "Literal", Body: "<p>Hi</p>",
		Status: notification.StatusQueued, CreatedAt: created, UpdatedAt: created,
	})
	s.PutNotification(&notification.Record{
		ID: "n-template", Application: "billing", To: []string{"bob@example.com"},
		Subject: "Welcome", TemplateID: "welcome", TemplateData: map[string]string{"name": "Bob"},
		Status: notification.StatusQueued, CreatedAt: created.Add(time.Minute), UpdatedAt: created,
	})
	s.PutNotification(&notification.Record{
		ID: "n-html", Application: "billing", To: []string{"eve@example.com"},
		Subject: "Invoice", TemplateID: "invoice", TemplateData: map[string]string{"name": "<Eve>"},
		Status: notification.StatusFailed, CreatedAt: created.Add(2 * time.Minute), UpdatedAt: created,
	})
	s.PutNotification(&notification.Record{
		ID: "n-missing-template", Application: "billing", To: []string{"bob@example.com"},
		Subject: "Ghost", TemplateID: "ghost",
		Status: notification.StatusQueued, CreatedAt: created.Add(3 * time.Minute), UpdatedAt: created,
	})
	s.PutNotification(&notification.Record{
		ID: "n-empty", Application: "billing", To: []string{"bob@example.com"},
		Subject: "Nothing", Status: notification.StatusQueued,
		CreatedAt: created.Add(4 * time.Minute), UpdatedAt: created,
	})
	s.PutNotification(&notification.Record{
		ID: "n-broken", Application: "billing", To: []string{"bob@example.com"},
		Subject: "Broken", TemplateID: "broken", Status: notification.StatusQueued,
		CreatedAt: created.Add(5 * time.Minute), UpdatedAt: created,
	})
	s.PutNotification(&notification.Record{
		ID: "n-sent", Application: "alerts", To: []string{"ops@example.com"},
		Subject: "Done", Body: "done", Status: notification.StatusSent,
		CreatedAt: created, UpdatedAt: created,
	})

	return s
}

func newResolvers(s *store.MemoryStore) (*notification.TemplateResolver, *notification.BodyResolver) {
	templates := notification.NewTemplateResolver(s)
	return templates, notification.NewBodyResolver(templates, template.NewEngine())
}
