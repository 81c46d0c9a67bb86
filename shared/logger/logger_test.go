package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		config    *Config
		wantErr   bool
		checkFunc func(t *testing.T, logger *Logger, output *bytes.Buffer)
	}{
		{
			name: "json format with debug level",
			config: &Config{
				Level:        "debug",
				Format:       "json",
				Output:       "stdout",
				EnableSource: false,
				TimeFormat:   time.RFC3339,
			},
			wantErr: false,
			checkFunc: func(t *testing.T, logger *Logger, output *bytes.Buffer) {
				logger.Debug("Job claimed", slog.String("job_id", "value"))

				var logEntry map[string]interface{}
				err := json.Unmarshal(output.Bytes(), &logEntry)
				require.NoError(t, err)

				assert.Equal(t, "DEBUG", logEntry["level"])
				assert.Equal(t, "Job claimed", logEntry["msg"])
				assert.Equal(t, "value", logEntry["job_id"])
				assert.Contains(t, logEntry, "time")
			},
		},
		{
			name: "json format with info level",
			config: &Config{
				Level:        "info",
				Format:       "json",
				Output:       "stdout",
				EnableSource: false,
				TimeFormat:   time.RFC3339,
			},
			wantErr: false,
			checkFunc: func(t *testing.T, logger *Logger, output *bytes.Buffer) {
				logger.Debug("debug message")
				logger.Info("info message", slog.String("type", "test"))

				lines := strings.Split(strings.TrimSpace(output.String()), "\n")
				// Debug should not be logged
				assert.Len(t, lines, 1)

				var logEntry map[string]interface{}
				err := json.Unmarshal([]byte(lines[0]), &logEntry)
				require.NoError(t, err)

				assert.Equal(t, "INFO", logEntry["level"])
				assert.Equal(t, "info message", logEntry["msg"])
				assert.Equal(t, "test", logEntry["type"])
			},
		},
		{
			name: "json format with warn level",
			config: &Config{
				Level:        "warn",
				Format:       "json",
				Output:       "stdout",
				EnableSource: false,
				TimeFormat:   time.RFC3339,
			},
			wantErr: false,
			checkFunc: func(t *testing.T, logger *Logger, output *bytes.Buffer) {
				logger.Info("info message")
				logger.Warn("warn message", slog.String("severity", "high"))

				lines := strings.Split(strings.TrimSpace(output.String()), "\n")
				// Info should not be logged
				assert.Len(t, lines, 1)

				var logEntry map[string]interface{}
				err := json.Unmarshal([]byte(lines[0]), &logEntry)
				require.NoError(t, err)

				assert.Equal(t, "WARN", logEntry["level"])
				assert.Equal(t, "warn message", logEntry["msg"])
				assert.Equal(t, "high", logEntry["severity"])
			},
		},
		{
			name: "json format with error level",
			config: &Config{
				Level:        "error",
				Format:       "json",
				Output:       "stdout",
				EnableSource: false,
				TimeFormat:   time.RFC3339,
			},
			wantErr: false,
			checkFunc: func(t *testing.T, logger *Logger, output *bytes.Buffer) {
				logger.Warn("warn message")
				logger.Error("error message", slog.String("code", "500"))

				lines := strings.Split(strings.TrimSpace(output.String()), "\n")
				// Warn should not be logged
				assert.Len(t, lines, 1)

				var logEntry map[string]interface{}
				err := json.Unmarshal([]byte(lines[0]), &logEntry)
				require.NoError(t, err)

				assert.Equal(t, "ERROR", logEntry["level"])
				assert.Equal(t, "error message", logEntry["msg"])
				assert.Equal(t, "500", logEntry["code"])
			},
		},
		{
			name: "console format with colors",
			config: &Config{
				Level:        "info",
				Format:       "console",
				Output:       "stdout",
				EnableSource: false,
				TimeFormat:   time.RFC3339,
			},
			wantErr: false,
			checkFunc: func(t *testing.T, logger *Logger, output *bytes.Buffer) {
				logger.Info("console test")

				// Console format should contain the message (tint uses "INF" not "INFO")
				logOutput := output.String()
				assert.Contains(t, logOutput, "INF")
				assert.Contains(t, logOutput, "console test")
			},
		},
		{
			name: "unwritable log file",
			config: &Config{
				Level:  "info",
				Format: "json",
				Output: "/nonexistent-dir/pricecards/api.log",
			},
			wantErr: true,
		},
		{
			name: "with source location enabled",
			config: &Config{
				Level:        "info",
				Format:       "json",
				Output:       "stdout",
				EnableSource: true,
				TimeFormat:   time.RFC3339,
			},
			wantErr: false,
			checkFunc: func(t *testing.T, logger *Logger, output *bytes.Buffer) {
				logger.Info("message with source")

				var logEntry map[string]interface{}
				err := json.Unmarshal(output.Bytes(), &logEntry)
				require.NoError(t, err)

				assert.Contains(t, logEntry, "source")
				source := logEntry["source"].(map[string]interface{})
				assert.Contains(t, source, "function")
				assert.Contains(t, source, "file")
				assert.Contains(t, source, "line")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Capture output
			output := &bytes.Buffer{}

			// Override output for testing
			originalConfig := *tt.config
			if !tt.wantErr {
				originalConfig.writer = output
			}

			logger, err := New(&originalConfig)

			if tt.wantErr {
				require.Error(t, err)
				assert.Nil(t, logger)
			} else {
				require.NoError(t, err)
				require.NotNil(t, logger)

				if tt.checkFunc != nil {
					tt.checkFunc(t, logger, output)
				}
			}
		})
	}
}

func TestNew_FileOutput(t *testing.T) {
	path := t.TempDir() + "/worker.log"

	logger, err := New(&Config{Level: "info", Format: "json", Output: path})
	require.NoError(t, err)

	logger.ForComponent("media").Info("Media resolved", slog.String("strategy", "direct"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var logEntry map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &logEntry))
	assert.Equal(t, "media", logEntry["component"])
	assert.Equal(t, "direct", logEntry["strategy"])
}

func TestNewDefault(t *testing.T) {
	logger := NewDefault()
	require.NotNil(t, logger)
	assert.NotNil(t, logger.Logger)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name     string
		level    string
		expected slog.Level
	}{
		{
			name:     "debug level",
			level:    "debug",
			expected: slog.LevelDebug,
		},
		{
			name:     "info level",
			level:    "info",
			expected: slog.LevelInfo,
		},
		{
			name:     "warn level",
			level:    "warn",
			expected: slog.LevelWarn,
		},
		{
			name:     "error level",
			level:    "error",
			expected: slog.LevelError,
		},
		{
			name:     "uppercase debug",
			level:    "DEBUG",
			expected: slog.LevelInfo, // parseLevel is case-sensitive, defaults to info
		},
		{
			name:     "uppercase info",
			level:    "INFO",
			expected: slog.LevelInfo, // parseLevel is case-sensitive, but "INFO" also defaults to info
		},
		{
			name:     "invalid level defaults to info",
			level:    "invalid",
			expected: slog.LevelInfo,
		},
		{
			name:     "empty string defaults to info",
			level:    "",
			expected: slog.LevelInfo,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := parseLevel(tt.level)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func newJSONLogger(t *testing.T) (*Logger, *bytes.Buffer) {
	t.Helper()
	output := &bytes.Buffer{}
	logger, err := New(&Config{Level: "info", Format: "json", writer: output})
	require.NoError(t, err)
	return logger, output
}

func decodeEntry(t *testing.T, output *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var logEntry map[string]interface{}
	require.NoError(t, json.Unmarshal(output.Bytes(), &logEntry))
	return logEntry
}

func TestLogger_WithGroup(t *testing.T) {
	logger, output := newJSONLogger(t)

	logger.WithGroup("resolver").Info("Media resolved", slog.String("strategy", "cors-proxy"))

	logEntry := decodeEntry(t, output)
	group := logEntry["resolver"].(map[string]interface{})
	assert.Equal(t, "cors-proxy", group["strategy"])
}

func TestLogger_WithAttrs(t *testing.T) {
	logger, output := newJSONLogger(t)

	logger.WithAttrs(
		slog.String("request_id", "c1d6"),
		slog.String("job_id", "4b1f6f8e"),
	).Info("Job submitted")

	logEntry := decodeEntry(t, output)
	assert.Equal(t, "c1d6", logEntry["request_id"])
	assert.Equal(t, "4b1f6f8e", logEntry["job_id"])
	assert.Equal(t, "Job submitted", logEntry["msg"])
}

func TestLogger_With(t *testing.T) {
	logger, output := newJSONLogger(t)

	logger.With(slog.String("service", "worker"), slog.Int("worker_slot", 3)).
		Info("Job completed", slog.Int("progress", 100), slog.Bool("cached", false), slog.Float64("elapsed_s", 1.5))

	logEntry := decodeEntry(t, output)
	assert.Equal(t, "worker", logEntry["service"])
	assert.Equal(t, float64(3), logEntry["worker_slot"])
	assert.Equal(t, float64(100), logEntry["progress"])
	assert.Equal(t, false, logEntry["cached"])
	assert.Equal(t, 1.5, logEntry["elapsed_s"])
}

func TestLogger_RedactsSecrets(t *testing.T) {
	logger, output := newJSONLogger(t)

	logger.Info("LLM client configured",
		slog.String("model", "gpt-4o-mini"),
		slog.String("api_key", "sk-live-123"),
		slog.String("Password", "postgres"),
	)

	logEntry := decodeEntry(t, output)
	assert.Equal(t, "gpt-4o-mini", logEntry["model"])
	assert.Equal(t, redacted, logEntry["api_key"])
	assert.Equal(t, redacted, logEntry["Password"])
	assert.NotContains(t, output.String(), "sk-live-123")
}

func TestLogger_ConsoleRedactsSecrets(t *testing.T) {
	output := &bytes.Buffer{}
	logger, err := New(&Config{Level: "info", Format: "console", writer: output})
	require.NoError(t, err)

	logger.Info("Connecting", slog.String("secret_key", "minio123"))
	assert.NotContains(t, output.String(), "minio123")
	assert.Contains(t, output.String(), redacted)
}
