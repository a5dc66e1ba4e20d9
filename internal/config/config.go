// Package config loads the service configuration from the environment.
// A .env file in the working directory is read first when present.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/netresearch/timetracker-sub002/internal/timezone"
)

// Default configuration values
const (
	DefaultPort               = "8080"
	DefaultLogLevel           = "info"
	DefaultDatabaseDriver     = "sqlite3"
	DefaultDatabaseDSN        = "timetracker.db"
	DefaultJiraRateLimit      = 10
	DefaultJiraRateBurst      = 10
	DefaultJiraTimeoutSeconds = 30
	DefaultSyncBatchLimit     = 50
	DefaultTracingSampleRate  = 1.0
	DefaultServiceName        = "timetracker-jira"
)

// Config holds all configuration for the application
type Config struct {
	Port      string
	PublicURL string
	LogLevel  string

	// OAuthReturnURL is where the browser goes after connecting a Jira
	// account. Empty answers the callback with JSON.
	OAuthReturnURL string

	DatabaseDriver string
	DatabaseDSN    string
	// Timezone entry clock times are recorded in
	Timezone       string

	TokenEncryptionSecret string

	JiraRateLimit      int
	JiraRateBurst      int
	JiraTimeoutSeconds int

	SyncBatchLimit int
	SyncSchedule   string // cron spec, empty disables the scheduler

	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64
	ServiceName       string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// a missing .env is fine
	_ = godotenv.Load()

	cfg := FromEnv()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// FromEnv reads the environment without validating
func FromEnv() *Config {
	return &Config{
		Port:                  getEnv("PORT", DefaultPort),
		PublicURL:             strings.TrimRight(getEnv("PUBLIC_URL", ""), "/"),
		OAuthReturnURL:        getEnv("OAUTH_RETURN_URL", ""),
		LogLevel:              getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseDriver:        getEnv("DATABASE_DRIVER", DefaultDatabaseDriver),
		DatabaseDSN:           getEnv("DATABASE_DSN", DefaultDatabaseDSN),
		Timezone:              getEnv("TIMEZONE", timezone.DefaultTimezone),
		TokenEncryptionSecret: getEnv("TOKEN_ENCRYPTION_SECRET", ""),
		JiraRateLimit:         parseIntEnv("JIRA_RATE_LIMIT", DefaultJiraRateLimit),
		JiraRateBurst:         parseIntEnv("JIRA_RATE_BURST", DefaultJiraRateBurst),
		JiraTimeoutSeconds:    parseIntEnv("JIRA_TIMEOUT_SECONDS", DefaultJiraTimeoutSeconds),
		SyncBatchLimit:        parseIntEnv("SYNC_BATCH_LIMIT", DefaultSyncBatchLimit),
		SyncSchedule:          strings.TrimSpace(os.Getenv("SYNC_SCHEDULE")),
		TracingEnabled:        parseBoolEnv("TRACING_ENABLED", false),
		OTLPEndpoint:          getEnv("OTLP_ENDPOINT", ""),
		TracingSampleRate:     parseFloatEnv("TRACING_SAMPLE_RATE", DefaultTracingSampleRate),
		ServiceName:           getEnv("SERVICE_NAME", DefaultServiceName),
	}
}

// JiraTimeout returns the Jira HTTP client timeout
func (c *Config) JiraTimeout() time.Duration {
	return time.Duration(c.JiraTimeoutSeconds) * time.Second
}

// CallbackURL returns the OAuth callback the browser is sent back to after
// authorizing ticket system tsID.
func (c *Config) CallbackURL(tsID int64) string {
	return fmt.Sprintf("%s/oauth/jira/%d/callback", c.PublicURL, tsID)
}

// validate checks if all required configuration fields are set
func (c *Config) validate() error {
	if c.PublicURL == "" {
		return fmt.Errorf("PUBLIC_URL is required")
	}
	if u, err := url.Parse(c.PublicURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("PUBLIC_URL must be an absolute URL")
	}
	if c.TokenEncryptionSecret == "" {
		return fmt.Errorf("TOKEN_ENCRYPTION_SECRET is required")
	}

	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("PORT must be a valid number: %w", err)
	}

	switch c.DatabaseDriver {
	case "sqlite3", "pgx":
	default:
		return fmt.Errorf("DATABASE_DRIVER must be sqlite3 or pgx, got %q", c.DatabaseDriver)
	}

	if !timezone.IsValidTimezone(c.Timezone) {
		return fmt.Errorf("TIMEZONE %q is not a known location", c.Timezone)
	}

	if c.JiraRateLimit <= 0 || c.JiraRateBurst <= 0 {
		return fmt.Errorf("JIRA_RATE_LIMIT and JIRA_RATE_BURST must be positive")
	}
	if c.JiraTimeoutSeconds <= 0 {
		return fmt.Errorf("JIRA_TIMEOUT_SECONDS must be positive")
	}
	if c.SyncBatchLimit <= 0 {
		return fmt.Errorf("SYNC_BATCH_LIMIT must be positive")
	}
	if c.SyncSchedule != "" {
		if _, err := cron.ParseStandard(c.SyncSchedule); err != nil {
			return fmt.Errorf("SYNC_SCHEDULE is not a valid cron expression: %w", err)
		}
	}
	if c.TracingSampleRate < 0 || c.TracingSampleRate > 1 {
		return fmt.Errorf("TRACING_SAMPLE_RATE must be between 0 and 1")
	}

	return nil
}

// getEnv gets an environment variable with a fallback value
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// parseIntEnv parses an integer environment variable with a fallback value
func parseIntEnv(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func parseFloatEnv(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func parseBoolEnv(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}
