// Package email implements the delivery backends: direct SMTP send over a
// connection pool and a hosted mail API.
package email

import (
	"io"
	"log/slog"

	"postroom/internal/common"
	"postroom/internal/config"
	"postroom/internal/domain/notification"
)

// Provider is a delivery backend that owns resources released by Close.
type Provider interface {
	notification.Provider
	io.Closer
}

// NewProvider instantiates the backend named by cfg.Kind. It is called once
// at startup; an unknown kind returns *common.UnknownProviderTypeError.
func NewProvider(cfg config.ProviderConfig) (Provider, error) {
	switch cfg.Kind {
	case config.ProviderDirectSend:
		slog.Info("using direct-send provider",
			"smtp_server", cfg.DirectSend.SMTPServer,
			"smtp_port", cfg.DirectSend.SMTPPort,
			"pool_size", cfg.DirectSend.Pool.MaxSize,
		)
		return NewDirectSendProvider(cfg.DirectSend), nil

	case config.ProviderHostedAPI:
		slog.Info("using hosted-api provider",
			"base_url", cfg.HostedAPI.BaseURL,
			"sender", cfg.HostedAPI.SenderAddress,
		)
		tokens := NewClientCredentialsTokenProvider(cfg.HostedAPI, nil)
		return NewHostedAPIProvider(cfg.HostedAPI, tokens, nil), nil

	default:
		return nil, &common.UnknownProviderTypeError{Kind: cfg.Kind}
	}
}
