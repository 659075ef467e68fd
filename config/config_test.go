package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, "/ws", cfg.Server.Path)
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL())
	assert.Equal(t, 5000, cfg.Windows.JoinFlushIntervalMillis)
	assert.Equal(t, 60000, cfg.Windows.AggregateWindowMillis)
}

func TestLoad(t *testing.T) {
	t.Run("empty path returns defaults", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, Default(), cfg)
	})

	t.Run("file overrides defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.json")
		content := `{
			"server": {"port": 9090, "path": "/stream"},
			"store": {"path": ":memory:"},
			"windows": {"join_flush_interval_ms": 250}
		}`
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, 9090, cfg.Server.Port)
		assert.Equal(t, "/stream", cfg.Server.Path)
		assert.Equal(t, ":memory:", cfg.Store.Path)
		assert.Equal(t, 250, cfg.Windows.JoinFlushIntervalMillis)
		// Untouched sections keep their defaults.
		assert.Equal(t, []string{"nats://localhost:4222"}, cfg.NATS.URLs)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load("/nonexistent/config.json")
		assert.Error(t, err)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.json")
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
		_, err := Load(path)
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"privileged port", func(c *Config) { c.Server.Port = 80 }},
		{"port too large", func(c *Config) { c.Server.Port = 70000 }},
		{"relative path", func(c *Config) { c.Server.Path = "ws" }},
		{"empty path", func(c *Config) { c.Server.Path = "" }},
		{"no nats urls", func(c *Config) { c.NATS.URLs = nil }},
		{"bad client name", func(c *Config) { c.NATS.ClientName = "has spaces" }},
		{"negative reconnects", func(c *Config) { c.NATS.MaxReconnects = -1 }},
		{"negative reconnect wait", func(c *Config) { c.NATS.ReconnectWait = -time.Second }},
		{"empty store path", func(c *Config) { c.Store.Path = "" }},
		{"negative join interval", func(c *Config) { c.Windows.JoinFlushIntervalMillis = -1 }},
		{"negative aggregate window", func(c *Config) { c.Windows.AggregateWindowMillis = -1 }},
		{"negative key bound", func(c *Config) { c.Windows.MaxWindowKeys = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
