package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	require.Equal(t, "http://localhost:8080", cfg.API.BaseURL)
	require.Equal(t, 30*time.Second, cfg.API.Timeout)
	require.Equal(t, 50, cfg.Session.PageSize)
	require.Equal(t, "Quick chat", cfg.Session.QuickChatTitle)
	require.True(t, cfg.History.Enabled)
	require.False(t, cfg.Redis.Enabled)
	require.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "cricket.yaml")
	content := `
api:
  base_url: "https://dash.example.com"
  token: "secret"
session:
  page_size: 10
redis:
  enabled: true
  addr: "redis:6379"
logging:
  level: "debug"
`
	require.NoError(t, os.WriteFile(yamlPath, []byte(content), 0o644))

	cfg := Defaults()
	require.NoError(t, loadYAML(&cfg, yamlPath))

	require.Equal(t, "https://dash.example.com", cfg.API.BaseURL)
	require.Equal(t, "secret", cfg.API.Token)
	require.Equal(t, 10, cfg.Session.PageSize)
	require.True(t, cfg.Redis.Enabled)
	require.Equal(t, "redis:6379", cfg.Redis.Addr)
	require.Equal(t, "debug", cfg.Logging.Level)
	// Unchanged fields keep defaults.
	require.Equal(t, "Quick chat", cfg.Session.QuickChatTitle)
	require.Equal(t, "cricket-history.db", cfg.History.Path)
}

func TestLoadYAMLMissing(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, loadYAML(&cfg, "/nonexistent/cricket.yaml"))
}

func TestEnvOverride(t *testing.T) {
	cfg := Defaults()

	t.Setenv("CRICKET_API_BASE_URL", "http://backend:9000")
	t.Setenv("CRICKET_API_TIMEOUT", "1m")
	t.Setenv("CRICKET_PAGE_SIZE", "5")
	t.Setenv("CRICKET_HISTORY_ENABLED", "false")
	t.Setenv("CRICKET_REDIS_ADDR", "redis.internal:6379")
	t.Setenv("CRICKET_LOG_LEVEL", "warn")

	loadEnv(&cfg)

	require.Equal(t, "http://backend:9000", cfg.API.BaseURL)
	require.Equal(t, time.Minute, cfg.API.Timeout)
	require.Equal(t, 5, cfg.Session.PageSize)
	require.False(t, cfg.History.Enabled)
	require.Equal(t, "redis.internal:6379", cfg.Redis.Addr)
	require.Equal(t, "warn", cfg.Logging.Level)
}

func TestEnvWinsOverYAML(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "cricket.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("api:\n  base_url: \"http://from-yaml\"\n"), 0o644))
	t.Setenv("CRICKET_API_BASE_URL", "http://from-env")

	cfg, err := LoadFrom(yamlPath)
	require.NoError(t, err)
	require.Equal(t, "http://from-env", cfg.API.BaseURL)
}

func TestValidateRequired(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{
			name:   "empty base url",
			modify: func(c *Config) { c.API.BaseURL = "" },
			errMsg: "api.base_url is required",
		},
		{
			name:   "zero timeout",
			modify: func(c *Config) { c.API.Timeout = 0 },
			errMsg: "api.timeout must be positive",
		},
		{
			name:   "zero page size",
			modify: func(c *Config) { c.Session.PageSize = 0 },
			errMsg: "session.page_size must be >= 1",
		},
		{
			name:   "history enabled without path",
			modify: func(c *Config) { c.History.Path = "" },
			errMsg: "history.path is required when history is enabled",
		},
		{
			name:   "redis enabled without addr",
			modify: func(c *Config) { c.Redis.Enabled = true; c.Redis.Addr = "" },
			errMsg: "redis.addr is required when redis is enabled",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.modify(&cfg)
			err := validate(&cfg)
			require.Error(t, err)
			require.EqualError(t, err, tt.errMsg)
		})
	}
}

func TestValidateDefaults(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, validate(&cfg))
}
