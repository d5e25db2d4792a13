package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestNewConfig verifies the defaults of a fresh configuration.
func TestNewConfig(t *testing.T) {
	config := NewConfig()

	if config == nil {
		t.Fatal("NewConfig returned nil")
	}

	if config.Port != ":8080" {
		t.Errorf("Expected default port :8080, got %s", config.Port)
	}
	if config.HistoryLimit != 100 {
		t.Errorf("Expected default history limit 100, got %d", config.HistoryLimit)
	}
	if config.RedisURL != "" {
		t.Errorf("Expected no Redis URL by default, got %q", config.RedisURL)
	}
	if config.PingInterval >= config.PongTimeout {
		t.Errorf("Ping interval %s must be below pong timeout %s", config.PingInterval, config.PongTimeout)
	}
}

// TestNewConfigFromEnv verifies that every supported variable is read.
func TestNewConfigFromEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", ":9090")
	t.Setenv("ALLOWED_ORIGINS", " http://a.example , https://b.example ")
	t.Setenv("MAX_MESSAGE_SIZE", "2048")
	t.Setenv("RATE_LIMIT_BURST", "3")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "2")
	t.Setenv("HISTORY_LIMIT", "25")
	t.Setenv("SEND_BUFFER", "32")
	t.Setenv("PING_INTERVAL", "10")
	t.Setenv("PONG_TIMEOUT", "30")
	t.Setenv("REDIS_URL", "redis://cache:6379/0")
	t.Setenv("REDIS_CHANNEL", "relay:test")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "json")

	cfg := NewConfigFromEnv()

	assert.Equal(t, ":9090", cfg.Port)
	assert.Equal(t, []string{"http://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, int64(2048), cfg.MaxMessageSize)
	assert.Equal(t, RateLimitConfig{Burst: 3, RefillInterval: 2 * time.Second}, cfg.RateLimit)
	assert.Equal(t, 25, cfg.HistoryLimit)
	assert.Equal(t, 32, cfg.SendBuffer)
	assert.Equal(t, 10*time.Second, cfg.PingInterval)
	assert.Equal(t, 30*time.Second, cfg.PongTimeout)
	assert.Equal(t, "redis://cache:6379/0", cfg.RedisURL)
	assert.Equal(t, "relay:test", cfg.RedisChannel)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
}

// TestNewConfigFromEnvInvalidValues verifies that unusable values fall back to defaults.
func TestNewConfigFromEnvInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
		check func(t *testing.T, cfg *Config)
	}{
		{
			name: "negative message size", key: "MAX_MESSAGE_SIZE", value: "-1",
			check: func(t *testing.T, cfg *Config) { assert.Equal(t, int64(defaultMaxMessageSize), cfg.MaxMessageSize) },
		},
		{
			name: "non numeric burst", key: "RATE_LIMIT_BURST", value: "lots",
			check: func(t *testing.T, cfg *Config) { assert.Equal(t, 10, cfg.RateLimit.Burst) },
		},
		{
			name: "zero history", key: "HISTORY_LIMIT", value: "0",
			check: func(t *testing.T, cfg *Config) { assert.Equal(t, 100, cfg.HistoryLimit) },
		},
		{
			name: "ping above pong", key: "PING_INTERVAL", value: "120",
			check: func(t *testing.T, cfg *Config) { assert.Equal(t, 54*time.Second, cfg.PingInterval) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			tt.check(t, NewConfigFromEnv())
		})
	}
}

func TestSanitizeConfigCopiesOrigins(t *testing.T) {
	origins := []string{"http://localhost:8080"}
	cfg := sanitizeConfig(Config{AllowedOrigins: origins})
	origins[0] = "http://evil.example"

	assert.Equal(t, "http://localhost:8080", cfg.AllowedOrigins[0])
	assert.Equal(t, defaultPort, cfg.Port)
	assert.Equal(t, "roomrelay:events", cfg.RedisChannel)
}
