package notification

import "context"

// DeliveryStatus is the coarse result of a send.
type DeliveryStatus string

const (
	DeliverySent   DeliveryStatus = "sent"
	DeliveryFailed DeliveryStatus = "failed"
)

// DeliveryOutcome classifies the result of one send. Retry policy belongs to
// the caller; providers only classify.
type DeliveryOutcome struct {
	Status     DeliveryStatus
	Retryable  bool
	ProviderID string
	Err        error
}

// Sent builds a successful outcome.
func Sent(providerID string) DeliveryOutcome {
	return DeliveryOutcome{Status: DeliverySent, ProviderID: providerID}
}

// Failed builds a failed outcome.
func Failed(err error, retryable bool) DeliveryOutcome {
	return DeliveryOutcome{Status: DeliveryFailed, Retryable: retryable, Err: err}
}

// OK reports whether the message was accepted.
func (o DeliveryOutcome) OK() bool {
	return o.Status == DeliverySent
}

// Provider is the delivery capability. Exactly one implementation is
// instantiated per process (see infra/email.NewProvider). Implementations
// must be safe for concurrent use.
type Provider interface {
	// Send delivers a composed email message.
	Send(ctx context.Context, msg *EmailMessage) DeliveryOutcome

	// Name identifies the backend in logs and metrics.
	Name() string
}

// TemplateMerger combines template content with a data payload.
// Implementations live in infra/template/.
type TemplateMerger interface {
	Merge(templateType TemplateType, content string, data map[string]string) (string, error)
}
