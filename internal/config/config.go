package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server     ServerConfig
	Escalation EscalationConfig
	RateLimit  RateLimitConfig
	Worker     WorkerConfig
	Telephony  TelephonyConfig
	DB         DatabaseConfig
	Logging    LoggingConfig

	// CallbackBaseURL is the externally reachable base URL for vendor
	// webhooks, e.g. https://alerts.example.com.
	CallbackBaseURL string
}

type ServerConfig struct {
	Host string
	Port int
}

type EscalationConfig struct {
	// SLAThreshold is how long an unanswered alert may sit before the
	// backup coordinator is dialed.
	SLAThreshold time.Duration
	// SLAReference is the timestamp the threshold is measured from:
	// "initiated" or "answered".
	SLAReference string
	Interval     time.Duration
}

type RateLimitConfig struct {
	Limit  int
	Window time.Duration
	// Shared selects the database-backed counter store; when false each
	// instance counts locally.
	Shared bool
	// Policy decides requests when the shared store is unreachable:
	// "open" admits them, "closed" rejects them.
	Policy string
}

type WorkerConfig struct {
	Count      int
	BufferSize int
}

type TelephonyConfig struct {
	AccountID string
	AuthToken string
	BaseURL   string
	From      string
}

type DatabaseConfig struct {
	Path string
}

type LoggingConfig struct {
	Level string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "localhost"),
			Port: getEnvInt("SERVER_PORT", 8080),
		},
		Escalation: EscalationConfig{
			SLAThreshold: getEnvDuration("SLA_THRESHOLD", 2*time.Minute),
			SLAReference: getEnv("SLA_REFERENCE", "initiated"),
			Interval:     getEnvDuration("ESCALATION_INTERVAL", 15*time.Second),
		},
		RateLimit: RateLimitConfig{
			Limit:  getEnvInt("RATE_LIMIT", 60),
			Window: getEnvDuration("RATE_WINDOW", time.Minute),
			Shared: getEnvBool("RATE_LIMIT_SHARED", true),
			Policy: getEnv("RATE_LIMIT_POLICY", "closed"),
		},
		Worker: WorkerConfig{
			Count:      getEnvInt("WORKER_COUNT", 2),
			BufferSize: getEnvInt("WORKER_BUFFER_SIZE", 20),
		},
		Telephony: TelephonyConfig{
			AccountID: getEnv("TELEPHONY_ACCOUNT_ID", ""),
			AuthToken: getEnv("TELEPHONY_AUTH_TOKEN", ""),
			BaseURL:   getEnv("TELEPHONY_BASE_URL", "https://api.telephony.example.com/v1"),
			From:      getEnv("TELEPHONY_FROM", ""),
		},
		DB: DatabaseConfig{
			Path: getEnv("DB_PATH", "./data/care-alerts.db"),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		CallbackBaseURL: getEnv("CALLBACK_BASE_URL", "http://localhost:8080"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Escalation.SLAThreshold < 10*time.Second {
		return fmt.Errorf("SLA threshold must be at least 10 seconds")
	}
	if c.Escalation.SLAReference != "initiated" && c.Escalation.SLAReference != "answered" {
		return fmt.Errorf("invalid SLA reference: %s", c.Escalation.SLAReference)
	}
	if c.Escalation.Interval < time.Second {
		return fmt.Errorf("escalation interval must be at least 1 second")
	}

	if c.RateLimit.Limit < 1 {
		return fmt.Errorf("rate limit must be at least 1: %d", c.RateLimit.Limit)
	}
	if c.RateLimit.Window < time.Second {
		return fmt.Errorf("rate window must be at least 1 second")
	}
	if c.RateLimit.Policy != "open" && c.RateLimit.Policy != "closed" {
		return fmt.Errorf("invalid rate limit policy: %s", c.RateLimit.Policy)
	}

	if c.Telephony.AccountID == "" || c.Telephony.AuthToken == "" {
		return fmt.Errorf("telephony credentials are required")
	}
	if c.Telephony.From == "" {
		return fmt.Errorf("telephony from number is required")
	}

	if !strings.HasPrefix(c.CallbackBaseURL, "http://") && !strings.HasPrefix(c.CallbackBaseURL, "https://") {
		return fmt.Errorf("invalid callback base URL: %s", c.CallbackBaseURL)
	}

	return nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}
