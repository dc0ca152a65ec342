package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/taskflow-client/pkg/logging"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "http://127.0.0.1:8000/api", cfg.API.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.API.Timeout)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.InitialBackoff)
	assert.Equal(t, 10*time.Minute, cfg.Cache.SweepInterval)
	assert.Equal(t, "taskflow:", cfg.Storage.Namespace)
	assert.Empty(t, cfg.Storage.RedisAddr)
	assert.Equal(t, logging.LevelWarn, cfg.LogLevel())
	assert.Equal(t, "development", cfg.Sentry.Environment)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
api:
  base_url: https://tasks.example.com/api
  timeout: 3s
storage:
  redis_addr: localhost:6379
  redis_db: 2
retry:
  max_attempts: 5
  max_backoff: 10s
log:
  level: debug
sentry:
  dsn: https://public@sentry.example.com/1
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://tasks.example.com/api", cfg.API.BaseURL)
	assert.Equal(t, 3*time.Second, cfg.API.Timeout)
	assert.Equal(t, "localhost:6379", cfg.Storage.RedisAddr)
	assert.Equal(t, 2, cfg.Storage.RedisDB)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 10*time.Second, cfg.Retry.MaxBackoff)
	assert.Equal(t, logging.LevelDebug, cfg.LogLevel())
	assert.Equal(t, "https://public@sentry.example.com/1", cfg.Sentry.DSN)

	// Unset keys keep their defaults.
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.InitialBackoff)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "api:\n  base_url: https://file.example.com/api\n")
	t.Setenv("TASKFLOW_API_BASE_URL", "https://env.example.com/api")
	t.Setenv("TASKFLOW_RETRY_MAX_ATTEMPTS", "7")
	t.Setenv("TASKFLOW_LOG_LEVEL", "error")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://env.example.com/api", cfg.API.BaseURL)
	assert.Equal(t, 7, cfg.Retry.MaxAttempts)
	assert.Equal(t, logging.LevelError, cfg.LogLevel())
}

func TestLoad_ExplicitFileMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "read config")
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"relative base url", "api:\n  base_url: /api\n", "api.base_url"},
		{"zero attempts", "retry:\n  max_attempts: 0\n", "retry.max_attempts"},
		{"backoff order", "retry:\n  initial_backoff: 10s\n  max_backoff: 1s\n", "retry.max_backoff"},
		{"log level", "log:\n  level: loud\n", "log.level"},
		{"negative sweep", "cache:\n  sweep_interval: -1s\n", "cache.sweep_interval"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
