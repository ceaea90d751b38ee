// Package config loads and validates application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Database settings. An empty DatabaseURL selects the in-memory ledger
	// store; knowledge does not survive a restart.
	DatabaseURL string

	// Redis settings. An empty RedisURL selects the in-memory rate limiter.
	RedisURL string

	// JWT settings.
	JWTSecret     string
	JWTExpiration time.Duration

	// APIKey gates POST /auth/token. Token issuance is disabled when empty.
	APIKey string

	// LLM provider settings. A member only joins the council when its
	// provider has a key.
	GroqAPIKey   string
	GeminiAPIKey string

	// Rate limit settings (requests per second per user, burst).
	RateLimitRPS   float64
	RateLimitBurst int

	// Watcher settings.
	WatcherEnabled   bool
	WatcherBatchSize int

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel            string
	MaxRequestBodyBytes int64
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		Port:                envInt("YGGDRASIL_PORT", 8080),
		ReadTimeout:         envDuration("YGGDRASIL_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:        envDuration("YGGDRASIL_WRITE_TIMEOUT", 150*time.Second),
		DatabaseURL:         envStr("DATABASE_URL", ""),
		RedisURL:            envStr("REDIS_URL", ""),
		JWTSecret:           envStr("JWT_SECRET", ""),
		JWTExpiration:       envDuration("JWT_EXPIRES_IN", 15*time.Minute),
		APIKey:              envStr("YGGDRASIL_API_KEY", ""),
		GroqAPIKey:          envStr("GROQ_API_KEY", ""),
		GeminiAPIKey:        envStr("GEMINI_API_KEY", ""),
		RateLimitRPS:        envFloat("YGGDRASIL_RATE_LIMIT_RPS", 1),
		RateLimitBurst:      envInt("YGGDRASIL_RATE_LIMIT_BURST", 10),
		WatcherEnabled:      envBool("YGGDRASIL_WATCHER_ENABLED", true),
		WatcherBatchSize:    envInt("YGGDRASIL_WATCHER_BATCH_SIZE", 50),
		OTELEndpoint:        envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:        envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:         envStr("OTEL_SERVICE_NAME", "yggdrasil"),
		LogLevel:            envStr("YGGDRASIL_LOG_LEVEL", "info"),
		MaxRequestBodyBytes: int64(envInt("YGGDRASIL_MAX_REQUEST_BODY_BYTES", 1*1024*1024)),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present.
func (c Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("config: JWT_SECRET is required")
	}
	if c.JWTExpiration <= 0 {
		return fmt.Errorf("config: JWT_EXPIRES_IN must be positive")
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("config: YGGDRASIL_MAX_REQUEST_BODY_BYTES must be positive")
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("config: rate limit settings must be positive")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
