package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           3000,
			MaxRequestSize: 10 << 20,
		},
		Logging:    LoggingConfig{Level: "info", Format: "json"},
		Mongo:      MongoConfig{URI: "mongodb://localhost:27017", Database: "ai-guard"},
		Encryption: EncryptionConfig{Key: "0123456789abcdef0123456789abcdef"},
		Quota:      QuotaConfig{ResetTimezone: "UTC"},
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENCRYPTION_KEY", "0123456789abcdef0123456789abcdef")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, int64(10<<20), cfg.Server.MaxRequestSize)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "ai-guard", cfg.Mongo.Database)
	assert.Equal(t, 3, cfg.Forwarder.MaxRetries)
	assert.Equal(t, "30s", cfg.Forwarder.RequestTimeout.String())
	assert.Empty(t, cfg.Redis.URL, "redis must default to unset (local limiter)")
	assert.True(t, cfg.Quota.ResetJobEnabled)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("ENCRYPTION_KEY", "k")
	t.Setenv("PORT", "8081")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("MONGODB_URI", "mongodb://db:27017")
	t.Setenv("MONGODB_DB_NAME", "guard-test")
	t.Setenv("REDIS_URL", "redis://cache:6379/0")
	t.Setenv("MAX_RETRIES", "5")
	t.Setenv("REQUEST_TIMEOUT", "10s")
	t.Setenv("OPENAI_API_KEY", "sk-proc-default")
	t.Setenv("ADMIN_SECRET_KEY", "super-secret")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "mongodb://db:27017", cfg.Mongo.URI)
	assert.Equal(t, "guard-test", cfg.Mongo.Database)
	assert.Equal(t, "redis://cache:6379/0", cfg.Redis.URL)
	assert.Equal(t, 5, cfg.Forwarder.MaxRetries)
	assert.Equal(t, "10s", cfg.Forwarder.RequestTimeout.String())
	assert.Equal(t, "sk-proc-default", cfg.Defaults.OpenAIKey)
	assert.Equal(t, "super-secret", cfg.Admin.SecretKey)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "invalid server port"},
		{"bad level", func(c *Config) { c.Logging.Level = "verbose" }, "invalid logging level"},
		{"missing encryption key", func(c *Config) { c.Encryption.Key = "" }, "ENCRYPTION_KEY"},
		{"missing mongo uri", func(c *Config) { c.Mongo.URI = "" }, "MONGODB_URI"},
		{"negative retries", func(c *Config) { c.Forwarder.MaxRetries = -1 }, "max_retries"},
		{"bad timezone", func(c *Config) { c.Quota.ResetTimezone = "Mars/Olympus" }, "reset_timezone"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestDefaultKeyFor(t *testing.T) {
	d := &DefaultsConfig{OpenAIKey: "a", AnthropicKey: "b", GeminiKey: "c"}
	assert.Equal(t, "a", d.DefaultKeyFor("openai"))
	assert.Equal(t, "b", d.DefaultKeyFor("ANTHROPIC"))
	assert.Equal(t, "c", d.DefaultKeyFor("gemini"))
	assert.Empty(t, d.DefaultKeyFor("mistral"))
}
