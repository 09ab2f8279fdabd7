package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postroom/internal/common"
	"postroom/internal/config"
)

func TestLoad_DirectSendFromEnv(t *testing.T) {
	t.Setenv("POSTROOM_PROVIDER_KIND", "direct-send")
	t.Setenv("POSTROOM_PROVIDER_DIRECT_SEND_SMTP_SERVER", "smtp.example.com")
	t.Setenv("POSTROOM_PROVIDER_DIRECT_SEND_SMTP_PORT", "2525")
	t.Setenv("POSTROOM_PROVIDER_DIRECT_SEND_FROM_ADDRESS", "noreply@example.com")
	t.Setenv("POSTROOM_STORAGE_KIND", "memory")
	t.Setenv("POSTROOM_APPLICATION_ACCOUNTS", `[{"ApplicationName":"app1"},{"ApplicationName":"app2"}]`)

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, config.ProviderDirectSend, cfg.Provider.Kind)
	assert.Equal(t, "smtp.example.com", cfg.Provider.DirectSend.SMTPServer)
	assert.Equal(t, 2525, cfg.Provider.DirectSend.SMTPPort)
	assert.Equal(t, "noreply@example.com", cfg.Provider.DirectSend.FromAddress)
	assert.Equal(t, 10, cfg.Provider.DirectSend.Pool.MaxSize)
	assert.Equal(t, config.StorageMemory, cfg.Storage.Kind)
	assert.Equal(t, 8081, cfg.Server.Port)
}

func TestLoad_HostedAPIFromEnv(t *testing.T) {
	t.Setenv("POSTROOM_PROVIDER_KIND", "hosted-api")
	t.Setenv("POSTROOM_PROVIDER_HOSTED_API_CLIENT_ID", "client")
	t.Setenv("POSTROOM_PROVIDER_HOSTED_API_CLIENT_CREDENTIAL", "secret")
	t.Setenv("POSTROOM_PROVIDER_HOSTED_API_TOKEN_URL", "https://login.example.com/token")
	t.Setenv("POSTROOM_PROVIDER_HOSTED_API_SENDER_ADDRESS", "mailer@example.com")
	t.Setenv("POSTROOM_STORAGE_KIND", "memory")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, config.ProviderHostedAPI, cfg.Provider.Kind)
	assert.Equal(t, "client", cfg.Provider.HostedAPI.ClientID)
	assert.Equal(t, "mailer@example.com", cfg.Provider.HostedAPI.SenderAddress)
	assert.NotEmpty(t, cfg.Provider.HostedAPI.Scopes)
	assert.Equal(t, "https://graph.microsoft.com/v1.0", cfg.Provider.HostedAPI.BaseURL)
}

func TestLoad_MissingSenderAddress(t *testing.T) {
	t.Setenv("POSTROOM_PROVIDER_KIND", "direct-send")
	t.Setenv("POSTROOM_PROVIDER_DIRECT_SEND_SMTP_SERVER", "smtp.example.com")
	t.Setenv("POSTROOM_STORAGE_KIND", "memory")

	_, err := config.Load()

	var cfgErr *common.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "provider.direct_send.from_address", cfgErr.Key)
}

func TestLoad_UnknownProviderKind(t *testing.T) {
	t.Setenv("POSTROOM_PROVIDER_KIND", "carrier-pigeon")
	t.Setenv("POSTROOM_STORAGE_KIND", "memory")

	_, err := config.Load()
	require.Error(t, err)

	var unknown *common.UnknownProviderTypeError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "carrier-pigeon", unknown.Kind)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := func() config.Config {
		return config.Config{
			Storage: config.StorageConfig{Kind: config.StorageMemory},
			Provider: config.ProviderConfig{
				Kind:       config.ProviderDirectSend,
				DirectSend: config.DirectSendConfig{SMTPServer: "localhost", SMTPPort: 25, FromAddress: "noreply@example.com"},
			},
			ApplicationAccounts: `[{"ApplicationName":"app1"}]`,
		}
	}

	tests := []struct {
		name   string
		mutate func(c *config.Config)
		key    string
	}{
		{"unknown storage", func(c *config.Config) { c.Storage.Kind = "cassandra" }, "storage.kind"},
		{"missing smtp server", func(c *config.Config) { c.Provider.DirectSend.SMTPServer = "" }, "provider.direct_send.smtp_server"},
		{"bad smtp port", func(c *config.Config) { c.Provider.DirectSend.SMTPPort = 70000 }, "provider.direct_send.smtp_port"},
		{"malformed accounts", func(c *config.Config) { c.ApplicationAccounts = "{not json" }, "application_accounts"},
		{"missing from address", func(c *config.Config) { c.Provider.DirectSend.FromAddress = " " }, "provider.direct_send.from_address"},
		{"hosted api without credentials", func(c *config.Config) { c.Provider.Kind = config.ProviderHostedAPI }, "provider.hosted_api"},
		{"hosted api without sender", func(c *config.Config) {
			c.Provider.Kind = config.ProviderHostedAPI
			c.Provider.HostedAPI = config.HostedAPIConfig{
				ClientID:         "client",
				ClientCredential: "secret",
				TokenURL:         "https://login.example.com/token",
			}
		}, "provider.hosted_api.sender_address"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := valid()
			tt.mutate(&cfg)

			err := cfg.Validate()
			var cfgErr *common.ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.key, cfgErr.Key)
		})
	}

	t.Run("valid", func(t *testing.T) {
		t.Parallel()
		cfg := valid()
		assert.NoError(t, cfg.Validate())
	})
}
