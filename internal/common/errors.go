package common

import (
	"errors"
	"fmt"
)

// ErrPoolExhausted is returned when no pooled connection became free before
// the acquire deadline. Callers may retry with backoff.
var ErrPoolExhausted = errors.New("connection pool exhausted")

// ErrEmptyBody is returned when a notification resolves to an empty body at send time.
var ErrEmptyBody = errors.New("notification resolved to an empty body")

// NotFoundError indicates a resource was not found.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with id '%s' not found", e.Resource, e.ID)
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// NewTemplateNotFoundError reports a template id with no match for the application.
func NewTemplateNotFoundError(application, templateID string) *NotFoundError {
	return &NotFoundError{Resource: "template", ID: application + "/" + templateID}
}

// IsTemplateNotFound reports whether err is a missing template.
func IsTemplateNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf) && nf.Resource == "template"
}

// ValidationError indicates a caller supplied a missing or invalid argument.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{Message: message}
}

// TemplateSyntaxError indicates template content that is malformed for its declared type.
type TemplateSyntaxError struct {
	TemplateType string
	Reason       string
	Err          error
}

func (e *TemplateSyntaxError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("template syntax error (%s): %s: %v", e.TemplateType, e.Reason, e.Err)
	}
	return fmt.Sprintf("template syntax error (%s): %s", e.TemplateType, e.Reason)
}

func (e *TemplateSyntaxError) Unwrap() error { return e.Err }

// NewTemplateSyntaxError creates a new TemplateSyntaxError.
func NewTemplateSyntaxError(templateType, reason string, err error) *TemplateSyntaxError {
	return &TemplateSyntaxError{TemplateType: templateType, Reason: reason, Err: err}
}

// ConfigurationError indicates static configuration that cannot be used.
// It is fatal at startup.
type ConfigurationError struct {
	Key string
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration %q: %v", e.Key, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// NewConfigurationError creates a new ConfigurationError.
func NewConfigurationError(key string, err error) *ConfigurationError {
	return &ConfigurationError{Key: key, Err: err}
}

// UnknownProviderTypeError indicates a provider kind with no registered backend.
type UnknownProviderTypeError struct {
	Kind string
}

func (e *UnknownProviderTypeError) Error() string {
	return fmt.Sprintf("unknown notification provider type: %q", e.Kind)
}

// ProviderError indicates an external delivery provider failure.
type ProviderError struct {
	Provider  string
	Message   string
	Retryable bool
	Err       error
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg += ": " + e.Err.Error()
		}
	}
	return fmt.Sprintf("%s provider error: %s", e.Provider, msg)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError creates a new ProviderError.
func NewProviderError(provider, message string, retryable bool) *ProviderError {
	return &ProviderError{Provider: provider, Message: message, Retryable: retryable}
}

// WrapProviderError classifies err as a provider failure.
func WrapProviderError(provider, message string, err error, retryable bool) *ProviderError {
	return &ProviderError{Provider: provider, Message: message, Retryable: retryable, Err: err}
}

// IsRetryable reports whether err is classified as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPoolExhausted) {
		return true
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}
