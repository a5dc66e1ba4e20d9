package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	testCases := []struct {
		name     string
		value    string
		expected slog.Level
	}{
		{"debug level", "debug", slog.LevelDebug},
		{"info level", "info", slog.LevelInfo},
		{"warn level", "warn", slog.LevelWarn},
		{"warning alias", "WARNING", slog.LevelWarn},
		{"error level", " error ", slog.LevelError},
		{"invalid level", "invalid", slog.LevelInfo},
		{"empty level", "", slog.LevelInfo},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, ParseLevel(tc.value))
		})
	}
}

func TestNewLogger_SetsDefault(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")

	logger := NewLogger()
	require.NotNil(t, logger)
	assert.Equal(t, logger, slog.Default())
}

func TestNew_StructuredOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := New("info", &buf)

	logger.Info("Jira worklog saved",
		"entry_id", 42,
		"ticket", "ABC-123",
		"worklog_id", 99999,
	)

	var logEntry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &logEntry))

	assert.Equal(t, "INFO", logEntry["level"])
	assert.Equal(t, "Jira worklog saved", logEntry["msg"])
	assert.Equal(t, "ABC-123", logEntry["ticket"])
	assert.Equal(t, float64(42), logEntry["entry_id"])
	assert.Contains(t, logEntry, "source")
}

func TestNew_FiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New("warn", &buf)

	logger.Info("hidden")
	assert.Empty(t, buf.String())

	logger.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}
