// Package config loads and validates the service configuration from a
// JSON file, with defaults suitable for a local single-node deployment.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	"unicode"
)

// Config is the complete service configuration.
type Config struct {
	Server  ServerConfig `json:"server"`
	NATS    NATSConfig   `json:"nats"`
	Store   StoreConfig  `json:"store"`
	Windows WindowConfig `json:"windows"`
}

// ServerConfig holds the WebSocket endpoint settings.
type ServerConfig struct {
	Port               int    `json:"port"`
	Path               string `json:"path"`
	WriteTimeoutMillis int    `json:"write_timeout_ms,omitempty"`
}

// NATSConfig holds the durable-log connection settings.
type NATSConfig struct {
	URLs          []string      `json:"urls,omitempty"`
	ClientName    string        `json:"client_name,omitempty"`
	MaxReconnects int           `json:"max_reconnects,omitempty"`
	ReconnectWait time.Duration `json:"reconnect_wait,omitempty"`
}

// URL returns the connection string for the configured servers.
func (c NATSConfig) URL() string {
	return strings.Join(c.URLs, ",")
}

// StoreConfig holds the snapshot store settings.
type StoreConfig struct {
	// Path is the SQLite database file; ":memory:" keeps the snapshot
	// store in process memory.
	Path string `json:"path"`
}

// WindowConfig holds the window transform tunables.
type WindowConfig struct {
	JoinFlushIntervalMillis int `json:"join_flush_interval_ms,omitempty"`
	AggregateWindowMillis   int `json:"aggregate_window_ms,omitempty"`
	MaxWindowKeys           int `json:"max_window_keys,omitempty"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:               8081,
			Path:               "/ws",
			WriteTimeoutMillis: 10000,
		},
		NATS: NATSConfig{
			URLs:          []string{"nats://localhost:4222"},
			ClientName:    "event-streamer",
			MaxReconnects: 10,
			ReconnectWait: 2 * time.Second,
		},
		Store: StoreConfig{
			Path: "events.db",
		},
		Windows: WindowConfig{
			JoinFlushIntervalMillis: 5000,
			AggregateWindowMillis:   60000,
			MaxWindowKeys:           1024,
		},
	}
}

// Load reads a JSON config file over the defaults and validates the
// result. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks if the config is valid.
func (c *Config) Validate() error {
	if c.Server.Port < 1024 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range 1024-65535", c.Server.Port)
	}
	if c.Server.Path == "" || c.Server.Path[0] != '/' {
		return errors.New("server.path must start with '/'")
	}

	if len(c.NATS.URLs) == 0 {
		return errors.New("nats.urls is required")
	}
	if c.NATS.ClientName != "" && !isValidClientName(c.NATS.ClientName) {
		return fmt.Errorf("nats.client_name %q contains invalid characters", c.NATS.ClientName)
	}
	if c.NATS.MaxReconnects < 0 {
		return errors.New("nats.max_reconnects cannot be negative")
	}
	if c.NATS.ReconnectWait < 0 {
		return errors.New("nats.reconnect_wait cannot be negative")
	}

	if c.Store.Path == "" {
		return errors.New("store.path is required")
	}

	if c.Windows.JoinFlushIntervalMillis < 0 {
		return errors.New("windows.join_flush_interval_ms cannot be negative")
	}
	if c.Windows.AggregateWindowMillis < 0 {
		return errors.New("windows.aggregate_window_ms cannot be negative")
	}
	if c.Windows.MaxWindowKeys < 0 {
		return errors.New("windows.max_window_keys cannot be negative")
	}

	return nil
}

// isValidClientName checks the name is safe for NATS connection naming.
func isValidClientName(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_' {
			return false
		}
	}
	return true
}
