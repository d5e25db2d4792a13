// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the relay service.
package server

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Tyrowin/roomrelay/internal/relay"
	"github.com/Tyrowin/roomrelay/internal/scaling"
)

const (
	defaultPort           = ":8080"
	defaultMaxMessageSize = 4096
	defaultPingInterval   = 25 * time.Second
	defaultPongTimeout    = 60 * time.Second
	writeWait             = 10 * time.Second
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the server configuration settings including security controls,
// room history capacity, connection liveness and the optional scaling backend.
type Config struct {
	Port           string
	AllowedOrigins []string
	MaxMessageSize int64
	RateLimit      RateLimitConfig

	HistoryLimit int
	SendBuffer   int
	PingInterval time.Duration
	PongTimeout  time.Duration

	// RedisURL enables the Redis scaling adapter when non-empty.
	RedisURL     string
	RedisChannel string

	LogLevel  string
	LogFormat string
}

func defaultConfig() Config {
	return Config{
		Port: defaultPort,
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize: defaultMaxMessageSize,
		RateLimit: RateLimitConfig{
			Burst:          10,
			RefillInterval: time.Second,
		},
		HistoryLimit: relay.DefaultHistoryLimit,
		SendBuffer:   relay.DefaultSendBuffer,
		PingInterval: defaultPingInterval,
		PongTimeout:  defaultPongTimeout,
		RedisChannel: scaling.DefaultChannel,
		LogLevel:     "info",
		LogFormat:    "console",
	}
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Falls back to default values if environment variables are not set or invalid.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()

	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}

	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseMaxMessageSize(maxSize, cfg.MaxMessageSize)
	}

	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseIntValue(burst, cfg.RateLimit.Burst)
	}

	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseSeconds(interval, cfg.RateLimit.RefillInterval)
	}

	if limit := os.Getenv("HISTORY_LIMIT"); limit != "" {
		cfg.HistoryLimit = parseIntValue(limit, cfg.HistoryLimit)
	}

	if buffer := os.Getenv("SEND_BUFFER"); buffer != "" {
		cfg.SendBuffer = parseIntValue(buffer, cfg.SendBuffer)
	}

	if ping := os.Getenv("PING_INTERVAL"); ping != "" {
		cfg.PingInterval = parseSeconds(ping, cfg.PingInterval)
	}

	if pong := os.Getenv("PONG_TIMEOUT"); pong != "" {
		cfg.PongTimeout = parseSeconds(pong, cfg.PongTimeout)
	}

	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	if channel := os.Getenv("REDIS_CHANNEL"); channel != "" {
		cfg.RedisChannel = channel
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.LogFormat = format
	}

	sanitized := sanitizeConfig(cfg)
	return &sanitized
}

// sanitizeConfig replaces out-of-range values with defaults. The ping
// interval is kept below the pong timeout so a healthy peer is never dropped.
func sanitizeConfig(cfg Config) Config {
	defaults := defaultConfig()

	if cfg.Port == "" {
		cfg.Port = defaults.Port
	}

	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaults.MaxMessageSize
	}

	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = defaults.RateLimit.Burst
	}

	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = defaults.RateLimit.RefillInterval
	}

	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaults.HistoryLimit
	}

	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaults.SendBuffer
	}

	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = defaults.PongTimeout
	}

	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.PongTimeout {
		cfg.PingInterval = cfg.PongTimeout * 9 / 10
	}

	if cfg.RedisChannel == "" {
		cfg.RedisChannel = defaults.RedisChannel
	}

	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseSeconds(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
