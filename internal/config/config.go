// Package config loads and validates the gateway configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Unlike most services, the environment variables here carry no
// application prefix: the deployment contract names bare keys (PORT,
// MONGODB_URI, ENCRYPTION_KEY, ...) because they are injected by
// infrastructure tooling (Kubernetes secrets, PaaS dashboards) that treats
// them as generic secret names. Every recognized key is explicitly bound via
// viper.BindEnv — AutomaticEnv alone does not populate nested structs during
// Unmarshal.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Forwarder ForwarderConfig `mapstructure:"forwarder"`
	Mongo     MongoConfig     `mapstructure:"mongo"`
	Redis     RedisConfig     `mapstructure:"redis"`
	// Encryption holds the master key material for the credential vault
	Encryption EncryptionConfig `mapstructure:"encryption"`
	Identity   IdentityConfig   `mapstructure:"identity"`
	Admin      AdminConfig      `mapstructure:"admin"`
	Defaults   DefaultsConfig   `mapstructure:"defaults"`
	Quota      QuotaConfig      `mapstructure:"quota"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	MaxRequestSize int64         `mapstructure:"max_request_size"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ForwarderConfig holds upstream forwarding policy
type ForwarderConfig struct {
	// RequestTimeout is the per-attempt upstream timeout
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	// MaxRetries bounds retry attempts for transport errors and idempotent 5xx
	MaxRetries int `mapstructure:"max_retries"`
	// RetryDelay is the base delay for linear backoff between attempts
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

// MongoConfig holds document store connection configuration
type MongoConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
	// MaxPoolSize caps pooled connections to the store
	MaxPoolSize uint64 `mapstructure:"max_pool_size"`
}

// RedisConfig holds the optional shared rate-limit backend configuration.
// An empty URL selects the in-process rate limiter.
type RedisConfig struct {
	URL string `mapstructure:"url"`
}

// EncryptionConfig holds the vault master key material
type EncryptionConfig struct {
	Key string `mapstructure:"key"`
}

// IdentityConfig holds the external identity verifier configuration.
// Initialization failure is non-fatal: the proxy continues in PAT-only mode.
type IdentityConfig struct {
	// IssuerURL is the OIDC issuer used for discovery and JWKS fetching
	IssuerURL string `mapstructure:"issuer_url"`
	// ProjectID is the expected token audience (FIREBASE_PROJECT_ID)
	ProjectID string `mapstructure:"project_id"`
	// ClientEmail and PrivateKey are accepted for service-account style
	// deployments; PrivateKey doubles as the HS256 secret for the dev-mode
	// verifier when no issuer URL is configured.
	ClientEmail string `mapstructure:"client_email"`
	PrivateKey  string `mapstructure:"private_key"`
}

// AdminConfig holds the admin override secret
type AdminConfig struct {
	SecretKey string `mapstructure:"secret_key"`
}

// DefaultsConfig holds process-default provider credentials, the last tier of
// credential resolution.
type DefaultsConfig struct {
	OpenAIKey    string `mapstructure:"openai_key"`
	AnthropicKey string `mapstructure:"anthropic_key"`
	GeminiKey    string `mapstructure:"gemini_key"`
}

// QuotaConfig holds quota rollover configuration
type QuotaConfig struct {
	// ResetTimezone is the IANA zone whose midnight zeroes the daily counters
	ResetTimezone string `mapstructure:"reset_timezone"`
	// ResetJobEnabled disables the in-process reset job when an external
	// scheduler owns counter rollover
	ResetJobEnabled bool `mapstructure:"reset_job_enabled"`
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	MetricsEnabled bool `mapstructure:"metrics_enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// envBindings maps config keys to the bare environment variables the
// deployment contract recognizes.
var envBindings = map[string]string{
	"server.port":               "PORT",
	"server.max_request_size":   "MAX_REQUEST_SIZE",
	"logging.level":             "LOG_LEVEL",
	"forwarder.request_timeout": "REQUEST_TIMEOUT",
	"forwarder.max_retries":     "MAX_RETRIES",
	"forwarder.retry_delay":     "RETRY_DELAY",
	"mongo.uri":                 "MONGODB_URI",
	"mongo.database":            "MONGODB_DB_NAME",
	"redis.url":                 "REDIS_URL",
	"encryption.key":            "ENCRYPTION_KEY",
	"identity.issuer_url":       "IDENTITY_ISSUER_URL",
	"identity.project_id":       "FIREBASE_PROJECT_ID",
	"identity.client_email":     "FIREBASE_CLIENT_EMAIL",
	"identity.private_key":      "FIREBASE_PRIVATE_KEY",
	"admin.secret_key":          "ADMIN_SECRET_KEY",
	"defaults.openai_key":       "OPENAI_API_KEY",
	"defaults.anthropic_key":    "ANTHROPIC_API_KEY",
	"defaults.gemini_key":       "GEMINI_API_KEY",
	"quota.reset_timezone":      "QUOTA_RESET_TZ",
}

// bindEnvVars explicitly binds environment variables to config keys.
// viper.BindEnv only errors when called with zero keys; since every key here
// is a non-empty hardcoded string, any error indicates a programming bug and
// is surfaced to the caller.
func bindEnvVars(v *viper.Viper) error {
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("failed to bind env var %q: %w", env, err)
		}
	}
	return nil
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/ai-guard")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment variables
	}

	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// Re-apply the log level when the config file changes on disk. Only the
	// logging section is hot-reloadable; everything else feeds constructors
	// that run once and requires a restart.
	v.OnConfigChange(func(e fsnotify.Event) {
		lvl := v.GetString("logging.level")
		slog.Info("config file changed, re-applying log level", "file", e.Name, "level", lvl)
		cfg.Logging.Level = lvl
	})
	v.WatchConfig()

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.read_timeout", "60s")
	// Write timeout must exceed the forwarder's full retry budget or long
	// streaming responses get cut mid-flight.
	v.SetDefault("server.write_timeout", "300s")
	v.SetDefault("server.max_request_size", 10<<20)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("forwarder.request_timeout", "30s")
	v.SetDefault("forwarder.max_retries", 3)
	v.SetDefault("forwarder.retry_delay", "1s")

	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "ai-guard")
	v.SetDefault("mongo.max_pool_size", 100)

	v.SetDefault("quota.reset_timezone", "UTC")
	v.SetDefault("quota.reset_job_enabled", true)

	v.SetDefault("telemetry.metrics_enabled", true)
	v.SetDefault("telemetry.prometheus_port", 9090)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	if c.Encryption.Key == "" {
		return fmt.Errorf("encryption.key (ENCRYPTION_KEY) is required")
	}

	if c.Mongo.URI == "" {
		return fmt.Errorf("mongo.uri (MONGODB_URI) is required")
	}

	if c.Forwarder.MaxRetries < 0 {
		return fmt.Errorf("forwarder.max_retries must be >= 0")
	}

	if c.Server.MaxRequestSize < 1 {
		return fmt.Errorf("server.max_request_size must be positive")
	}

	if _, err := time.LoadLocation(c.Quota.ResetTimezone); err != nil {
		return fmt.Errorf("invalid quota.reset_timezone: %w", err)
	}

	return nil
}

// GetAddress returns the server address in host:port format
func (c *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DefaultKeyFor returns the process-default credential for a provider tag,
// or "" when none is configured.
func (d *DefaultsConfig) DefaultKeyFor(provider string) string {
	switch strings.ToLower(provider) {
	case "openai":
		return d.OpenAIKey
	case "anthropic":
		return d.AnthropicKey
	case "gemini":
		return d.GeminiKey
	default:
		return ""
	}
}
