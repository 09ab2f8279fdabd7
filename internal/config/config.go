package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"postroom/internal/common"
	"postroom/internal/domain/notification"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Provider kinds.
const (
	ProviderDirectSend = "direct-send"
	ProviderHostedAPI  = "hosted-api"
)

// Storage kinds.
const (
	StorageSupabase = "supabase"
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Config holds all application configuration.
type Config struct {
	Server             ServerConfig             `mapstructure:"server"`
	Worker             WorkerConfig             `mapstructure:"worker"`
	CORS               CORSConfig               `mapstructure:"cors"`
	RateLimit          RateLimitConfig          `mapstructure:"rate_limit"`
	Redis              RedisConfig              `mapstructure:"redis"`
	Queue              QueueConfig              `mapstructure:"queue"`
	RecipientRateLimit RecipientRateLimitConfig `mapstructure:"recipient_rate_limit"`
	Reaper             ReaperConfigYAML         `mapstructure:"reaper"`
	Storage            StorageConfig            `mapstructure:"storage"`
	Provider           ProviderConfig           `mapstructure:"provider"`

	// ApplicationAccounts is a JSON list of {"ApplicationName", "Accounts"} entries.
	ApplicationAccounts string `mapstructure:"application_accounts"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// WorkerConfig holds settings of the delivery worker process.
type WorkerConfig struct {
	// MetricsPort serves /metrics from the worker; 0 disables the listener.
	MetricsPort int `mapstructure:"metrics_port"`
}

// CORSConfig holds CORS policy settings.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
	MaxAgeSec      int      `mapstructure:"max_age_sec"`
}

// RateLimitConfig holds inbound request rate limiting settings.
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
	IdleEvictSec      int     `mapstructure:"idle_evict_sec"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// QueueConfig holds async queue settings.
type QueueConfig struct {
	Concurrency   int `mapstructure:"concurrency"`
	MaxRetry      int `mapstructure:"max_retry"`
	RetryDelaySec int `mapstructure:"retry_delay_sec"`
}

// RecipientRateLimitConfig holds per-recipient rate limiting settings.
type RecipientRateLimitConfig struct {
	MaxPerHour int `mapstructure:"max_per_hour"`
}

// ReaperConfigYAML holds stale notification reaper settings (durations as seconds for YAML/env compat).
type ReaperConfigYAML struct {
	IntervalSec       int `mapstructure:"interval_sec"`
	StaleThresholdSec int `mapstructure:"stale_threshold_sec"`
	BatchSize         int `mapstructure:"batch_size"`
}

// StorageConfig selects and configures the notification/template store.
type StorageConfig struct {
	Kind     string         `mapstructure:"kind"`
	Supabase SupabaseConfig `mapstructure:"supabase"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Memory   MemoryConfig   `mapstructure:"memory"`
}

// MemoryConfig holds settings for the in-process store.
type MemoryConfig struct {
	// SeedFile is an optional JSON file loaded at startup.
	SeedFile string `mapstructure:"seed_file"`
}

// SupabaseConfig holds Supabase project settings.
type SupabaseConfig struct {
	URL        string `mapstructure:"url"`
	ServiceKey string `mapstructure:"service_key"`
}

// PostgresConfig holds direct PostgreSQL settings.
type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// ProviderConfig selects exactly one delivery backend.
type ProviderConfig struct {
	Kind       string           `mapstructure:"kind"`
	DirectSend DirectSendConfig `mapstructure:"direct_send"`
	HostedAPI  HostedAPIConfig  `mapstructure:"hosted_api"`
}

// DirectSendConfig holds SMTP connection parameters.
type DirectSendConfig struct {
	SMTPServer  string     `mapstructure:"smtp_server"`
	SMTPPort    int        `mapstructure:"smtp_port"`
	Username    string     `mapstructure:"username"`
	Password    string     `mapstructure:"password"`
	FromAddress string     `mapstructure:"from_address"`
	DisplayName string     `mapstructure:"display_name"`
	HeloName    string     `mapstructure:"helo_name"`
	Pool        PoolConfig `mapstructure:"pool"`
}

// PoolConfig holds SMTP connection pool limits.
type PoolConfig struct {
	MaxSize           int `mapstructure:"max_size"`
	AcquireTimeoutSec int `mapstructure:"acquire_timeout_sec"`
	IdleTTLSec        int `mapstructure:"idle_ttl_sec"`
	LeaseTimeoutSec   int `mapstructure:"lease_timeout_sec"`
	SweepIntervalSec  int `mapstructure:"sweep_interval_sec"`
}

// HostedAPIConfig holds hosted mail API parameters.
type HostedAPIConfig struct {
	BaseURL          string   `mapstructure:"base_url"`
	TokenURL         string   `mapstructure:"token_url"`
	ClientID         string   `mapstructure:"client_id"`
	ClientCredential string   `mapstructure:"client_credential"`
	Scopes           []string `mapstructure:"scopes"`
	SenderAddress    string   `mapstructure:"sender_address"`
	TimeoutSec       int      `mapstructure:"timeout_sec"`
}

// Timeout returns the per-request timeout of the hosted API.
func (c HostedAPIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// Load reads configuration from config.yaml and environment variables.
// Environment variables use the POSTROOM_ prefix and underscore separators.
// Example: POSTROOM_PROVIDER_KIND overrides provider.kind in config.yaml.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	_ = godotenv.Load()

	v.SetEnvPrefix("POSTROOM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Every key needs a default so AutomaticEnv can populate it during Unmarshal.
	setDefaults(v)

	// Read config file (optional, env vars can provide everything)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Comma-separated scope list from env var
	if scopes := v.GetString("provider.hosted_api.scopes"); scopes != "" && len(cfg.Provider.HostedAPI.Scopes) == 0 {
		cfg.Provider.HostedAPI.Scopes = splitList(scopes)
	}
	if origins := v.GetString("cors.allowed_origins"); origins != "" && len(cfg.CORS.AllowedOrigins) == 0 {
		cfg.CORS.AllowedOrigins = splitList(origins)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8081)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("worker.metrics_port", 9091)
	v.SetDefault("cors.allowed_origins", []string{})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST"})
	v.SetDefault("cors.allowed_headers", []string{"Content-Type", "X-Request-ID"})
	v.SetDefault("cors.max_age_sec", 600)
	v.SetDefault("rate_limit.requests_per_second", 10)
	v.SetDefault("rate_limit.burst", 20)
	v.SetDefault("rate_limit.idle_evict_sec", 600)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("queue.concurrency", 10)
	v.SetDefault("queue.max_retry", 5)
	v.SetDefault("queue.retry_delay_sec", 30)
	v.SetDefault("recipient_rate_limit.max_per_hour", 20)
	v.SetDefault("reaper.interval_sec", 300)       // 5 minutes
	v.SetDefault("reaper.stale_threshold_sec", 600) // 10 minutes
	v.SetDefault("reaper.batch_size", 50)
	v.SetDefault("storage.kind", StorageSupabase)
	v.SetDefault("storage.supabase.url", "")
	v.SetDefault("storage.supabase.service_key", "")
	v.SetDefault("storage.postgres.url", "")
	v.SetDefault("storage.postgres.max_conns", 10)
	v.SetDefault("storage.postgres.min_conns", 1)
	v.SetDefault("storage.memory.seed_file", "")
	v.SetDefault("provider.kind", ProviderDirectSend)
	v.SetDefault("provider.direct_send.smtp_server", "")
	v.SetDefault("provider.direct_send.smtp_port", 25)
	v.SetDefault("provider.direct_send.username", "")
	v.SetDefault("provider.direct_send.password", "")
	v.SetDefault("provider.direct_send.from_address", "")
	v.SetDefault("provider.direct_send.display_name", "")
	v.SetDefault("provider.direct_send.helo_name", "localhost")
	v.SetDefault("provider.direct_send.pool.max_size", 10)
	v.SetDefault("provider.direct_send.pool.acquire_timeout_sec", 5)
	v.SetDefault("provider.direct_send.pool.idle_ttl_sec", 120)
	v.SetDefault("provider.direct_send.pool.lease_timeout_sec", 120)
	v.SetDefault("provider.direct_send.pool.sweep_interval_sec", 30)
	v.SetDefault("provider.hosted_api.base_url", "https://graph.microsoft.com/v1.0")
	v.SetDefault("provider.hosted_api.token_url", "")
	v.SetDefault("provider.hosted_api.client_id", "")
	v.SetDefault("provider.hosted_api.client_credential", "")
	v.SetDefault("provider.hosted_api.sender_address", "")
	v.SetDefault("provider.hosted_api.scopes", []string{"https://graph.microsoft.com/.default"})
	v.SetDefault("provider.hosted_api.timeout_sec", 15)
	v.SetDefault("application_accounts", "[]")
}

// Validate rejects configuration the service cannot start with.
func (c *Config) Validate() error {
	switch c.Storage.Kind {
	case StorageSupabase, StoragePostgres, StorageMemory:
	default:
		return common.NewConfigurationError("storage.kind", fmt.Errorf("unsupported storage kind %q", c.Storage.Kind))
	}

	switch c.Provider.Kind {
	case ProviderDirectSend:
		if c.Provider.DirectSend.SMTPServer == "" {
			return common.NewConfigurationError("provider.direct_send.smtp_server", errors.New("value is required"))
		}
		if c.Provider.DirectSend.SMTPPort <= 0 || c.Provider.DirectSend.SMTPPort > 65535 {
			return common.NewConfigurationError("provider.direct_send.smtp_port",
				fmt.Errorf("invalid port %d", c.Provider.DirectSend.SMTPPort))
		}
		if strings.TrimSpace(c.Provider.DirectSend.FromAddress) == "" {
			return common.NewConfigurationError("provider.direct_send.from_address", errors.New("value is required"))
		}
	case ProviderHostedAPI:
		if c.Provider.HostedAPI.ClientID == "" || c.Provider.HostedAPI.ClientCredential == "" {
			return common.NewConfigurationError("provider.hosted_api", errors.New("client_id and client_credential are required"))
		}
		if c.Provider.HostedAPI.TokenURL == "" {
			return common.NewConfigurationError("provider.hosted_api.token_url", errors.New("value is required"))
		}
		if strings.TrimSpace(c.Provider.HostedAPI.SenderAddress) == "" {
			return common.NewConfigurationError("provider.hosted_api.sender_address", errors.New("value is required"))
		}
	default:
		return &common.UnknownProviderTypeError{Kind: c.Provider.Kind}
	}

	if _, err := notification.ParseApplicationAccounts(c.ApplicationAccounts); err != nil {
		return err
	}
	return nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
