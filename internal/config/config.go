// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string

	StoreDriver string
	DBPath      string
	RedisAddr   string

	SessionTTL     time.Duration
	AuthSessionTTL time.Duration
	TurnTimeout    time.Duration

	ConfidenceThreshold   float64
	MaxApprovalIterations int

	RateLimitRequests int
	RateLimitWindow   time.Duration

	LLM     LLMConfig
	Handoff HandoffConfig
}

// LLMConfig holds model access settings.
type LLMConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// HandoffConfig controls NDJSON handoff delivery.
type HandoffConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),

		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", DriverSQLite)),
		DBPath:      getEnv("DB_PATH", "./data/concierge.db"),
		RedisAddr:   getEnv("REDIS_ADDR", "localhost:6379"),

		SessionTTL:     getEnvDuration("SESSION_TTL", 24*time.Hour),
		AuthSessionTTL: getEnvDuration("AUTH_SESSION_TTL", 30*time.Minute),
		TurnTimeout:    getEnvDuration("TURN_TIMEOUT", 60*time.Second),

		ConfidenceThreshold:   getEnvFloat("CONFIDENCE_THRESHOLD", 0.5),
		MaxApprovalIterations: getEnvInt("MAX_APPROVAL_ITERATIONS", 5),

		RateLimitRequests: getEnvInt("RATE_LIMIT_REQUESTS", 30),
		RateLimitWindow:   getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),

		LLM: LLMConfig{
			APIKey:  getEnv("OPENAI_API_KEY", ""),
			BaseURL: getEnv("OPENAI_BASE_URL", ""),
			Model:   getEnv("OPENAI_MODEL", ""),
		},
		Handoff: HandoffConfig{
			Enabled:       getEnvBool("HANDOFF_LOG_ENABLED", true),
			Dir:           getEnv("HANDOFF_LOG_DIR", "./data/handoffs"),
			GlobalEnabled: getEnvBool("HANDOFF_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("HANDOFF_LOG_GLOBAL_PATH", "./data/handoffs/all.ndjson"),
			QueueSize:     getEnvInt("HANDOFF_LOG_QUEUE_SIZE", 256),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	switch c.StoreDriver {
	case DriverMemory:
	case DriverSQLite:
		if c.DBPath == "" {
			return fmt.Errorf("DB_PATH cannot be empty with the sqlite driver")
		}
	case DriverRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR cannot be empty with the redis driver")
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be one of memory, sqlite, redis; got %q", c.StoreDriver)
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("CONFIDENCE_THRESHOLD must be in [0,1], got %v", c.ConfidenceThreshold)
	}
	if c.MaxApprovalIterations <= 0 {
		return fmt.Errorf("MAX_APPROVAL_ITERATIONS must be > 0")
	}
	if c.Handoff.Enabled {
		if c.Handoff.Dir == "" {
			return fmt.Errorf("HANDOFF_LOG_DIR cannot be empty")
		}
		if c.Handoff.GlobalEnabled && c.Handoff.GlobalPath == "" {
			return fmt.Errorf("HANDOFF_LOG_GLOBAL_PATH cannot be empty")
		}
		if c.Handoff.QueueSize <= 0 {
			return fmt.Errorf("HANDOFF_LOG_QUEUE_SIZE must be > 0")
		}
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	if env := os.Getenv("APP_ENV"); env != "" {
		return env == "development"
	}
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
