package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-alerts/internal/errors"
)

func TestLoad_CreatesTemplateAndAppliesDefaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, "config.toml"))
	assert.NoError(t, err, "template written")

	assert.Equal(t, time.Second, cfg.Engine.TickInterval)
	assert.Equal(t, 600, cfg.Engine.HistoryCapacity)
	assert.Equal(t, 30*time.Second, cfg.Engine.StalenessTTL)
	assert.Equal(t, 4, cfg.Dispatcher.Workers)
	assert.Equal(t, 10*time.Second, cfg.Dispatcher.SendTimeout)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, filepath.Join(dir, "alerts.db"), cfg.Store.Path)
	assert.True(t, cfg.Notifications.Desktop.Enabled)

	// A second load reads the template back.
	again, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, cfg.Engine, again.Engine)
	assert.Equal(t, 6, again.Notifications.SMS.RatePerMinute)
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	content := `
[engine]
tick_interval = "250ms"
history_capacity = 100

[notifications.slack]
enabled = true
webhook_url = "https://hooks.example/file"

[store]
driver = "memory"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(content), 0600))
	t.Setenv("ALERTS_SLACK_WEBHOOK", "https://hooks.example/env")
	t.Setenv("ALERTS_LOG_LEVEL", "debug")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 250*time.Millisecond, cfg.Engine.TickInterval)
	assert.Equal(t, 100, cfg.Engine.HistoryCapacity)
	assert.Equal(t, 30*time.Second, cfg.Engine.StalenessTTL)
	assert.True(t, cfg.Notifications.Slack.Enabled)
	assert.Equal(t, "https://hooks.example/env", cfg.Notifications.Slack.WebhookURL)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("ALERTS_API_LISTEN=127.0.0.1:9999\n"), 0600))
	t.Cleanup(func() { os.Unsetenv("ALERTS_API_LISTEN") })

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9999", cfg.API.Listen)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"zero tick", func(c *Config) { c.Engine.TickInterval = 0 }},
		{"zero capacity", func(c *Config) { c.Engine.HistoryCapacity = 0 }},
		{"zero ttl", func(c *Config) { c.Engine.StalenessTTL = 0 }},
		{"zero workers", func(c *Config) { c.Dispatcher.Workers = 0 }},
		{"zero queue", func(c *Config) { c.Dispatcher.QueueSize = 0 }},
		{"unknown driver", func(c *Config) { c.Store.Driver = "postgres" }},
		{"feed without url", func(c *Config) { c.Feed.Enabled = true; c.Feed.URL = "" }},
	}

	require.NoError(t, Default().Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrConfigInvalid))
		})
	}
}
