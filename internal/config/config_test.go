package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var configKeys = []string{
	"PORT", "PUBLIC_URL", "OAUTH_RETURN_URL", "LOG_LEVEL", "DATABASE_DRIVER", "DATABASE_DSN", "TIMEZONE",
	"TOKEN_ENCRYPTION_SECRET", "JIRA_RATE_LIMIT", "JIRA_RATE_BURST",
	"JIRA_TIMEOUT_SECONDS", "SYNC_BATCH_LIMIT", "SYNC_SCHEDULE",
	"TRACING_ENABLED", "OTLP_ENDPOINT", "TRACING_SAMPLE_RATE", "SERVICE_NAME",
}

// clearEnv blanks every config variable for the duration of the test
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range configKeys {
		t.Setenv(key, "")
	}
}

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("PUBLIC_URL", "https://timetracker.example.com/")
	t.Setenv("TOKEN_ENCRYPTION_SECRET", "s3cr3t")
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, "https://timetracker.example.com", cfg.PublicURL)
	assert.Equal(t, DefaultLogLevel, cfg.LogLevel)
	assert.Equal(t, "sqlite3", cfg.DatabaseDriver)
	assert.Equal(t, "timetracker.db", cfg.DatabaseDSN)
	assert.Equal(t, "UTC", cfg.Timezone)
	assert.Equal(t, 10, cfg.JiraRateLimit)
	assert.Equal(t, 10, cfg.JiraRateBurst)
	assert.Equal(t, 30*time.Second, cfg.JiraTimeout())
	assert.Equal(t, 50, cfg.SyncBatchLimit)
	assert.Empty(t, cfg.SyncSchedule)
	assert.False(t, cfg.TracingEnabled)
	assert.Equal(t, 1.0, cfg.TracingSampleRate)
	assert.Equal(t, "timetracker-jira", cfg.ServiceName)
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	setRequired(t)
	t.Setenv("PORT", "9090")
	t.Setenv("DATABASE_DRIVER", "pgx")
	t.Setenv("DATABASE_DSN", "postgres://tt@localhost/tt")
	t.Setenv("JIRA_RATE_LIMIT", "3")
	t.Setenv("JIRA_TIMEOUT_SECONDS", "5")
	t.Setenv("SYNC_SCHEDULE", "*/15 * * * *")
	t.Setenv("TRACING_ENABLED", "true")
	t.Setenv("TRACING_SAMPLE_RATE", "0.25")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "pgx", cfg.DatabaseDriver)
	assert.Equal(t, 3, cfg.JiraRateLimit)
	assert.Equal(t, 5*time.Second, cfg.JiraTimeout())
	assert.Equal(t, "*/15 * * * *", cfg.SyncSchedule)
	assert.True(t, cfg.TracingEnabled)
	assert.Equal(t, 0.25, cfg.TracingSampleRate)
}

func TestLoad_InvalidNumbersFallBack(t *testing.T) {
	clearEnv(t)
	setRequired(t)
	t.Setenv("JIRA_RATE_LIMIT", "fast")
	t.Setenv("TRACING_ENABLED", "maybe")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultJiraRateLimit, cfg.JiraRateLimit)
	assert.False(t, cfg.TracingEnabled)
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"missing public url", map[string]string{"PUBLIC_URL": ""}, "PUBLIC_URL is required"},
		{"relative public url", map[string]string{"PUBLIC_URL": "/timetracker"}, "PUBLIC_URL must be an absolute URL"},
		{"missing secret", map[string]string{"TOKEN_ENCRYPTION_SECRET": ""}, "TOKEN_ENCRYPTION_SECRET is required"},
		{"bad port", map[string]string{"PORT": "http"}, "PORT must be a valid number"},
		{"bad driver", map[string]string{"DATABASE_DRIVER": "mysql"}, "DATABASE_DRIVER must be sqlite3 or pgx"},
		{"bad timezone", map[string]string{"TIMEZONE": "Mars/Olympus"}, "TIMEZONE \"Mars/Olympus\" is not a known location"},
		{"zero rate", map[string]string{"JIRA_RATE_LIMIT": "0"}, "JIRA_RATE_LIMIT and JIRA_RATE_BURST must be positive"},
		{"zero timeout", map[string]string{"JIRA_TIMEOUT_SECONDS": "-1"}, "JIRA_TIMEOUT_SECONDS must be positive"},
		{"zero batch", map[string]string{"SYNC_BATCH_LIMIT": "0"}, "SYNC_BATCH_LIMIT must be positive"},
		{"bad schedule", map[string]string{"SYNC_SCHEDULE": "every minute"}, "SYNC_SCHEDULE is not a valid cron expression"},
		{"bad sample rate", map[string]string{"TRACING_SAMPLE_RATE": "2"}, "TRACING_SAMPLE_RATE must be between 0 and 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			setRequired(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := Load()
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_DotEnv(t *testing.T) {
	clearEnv(t)
	// godotenv does not override variables that are already set
	for _, key := range []string{"PUBLIC_URL", "TOKEN_ENCRYPTION_SECRET"} {
		original, had := os.LookupEnv(key)
		require.NoError(t, os.Unsetenv(key))
		t.Cleanup(func() {
			if had {
				_ = os.Setenv(key, original)
			} else {
				_ = os.Unsetenv(key)
			}
		})
	}

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("PUBLIC_URL=https://tt.example.com\nTOKEN_ENCRYPTION_SECRET=from-dotenv\n"), 0o600))
	t.Chdir(dir)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://tt.example.com", cfg.PublicURL)
	assert.Equal(t, "from-dotenv", cfg.TokenEncryptionSecret)
}

func TestCallbackURL(t *testing.T) {
	cfg := &Config{PublicURL: "https://tt.example.com"}
	assert.Equal(t, "https://tt.example.com/oauth/jira/7/callback", cfg.CallbackURL(7))
}
