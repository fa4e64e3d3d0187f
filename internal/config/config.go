// Package config loads termmux daemon configuration from an optional YAML
// file overlaid by TERMMUX_-prefixed environment variables.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/dshills/termmux/internal/terminal"
)

// Config holds all daemon configuration.
type Config struct {
	// ListenAddr is the HTTP/WebSocket bind address.
	ListenAddr string `yaml:"listen_addr" envconfig:"LISTEN_ADDR"`

	// AuthToken, when non-empty, is required on every API request.
	AuthToken string `yaml:"auth_token" envconfig:"AUTH_TOKEN"`

	// AllowedOrigins lists origins permitted to open WebSocket streams.
	// Empty allows same-host and localhost only.
	AllowedOrigins []string `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`

	// LogLevel is a zerolog level name (debug, info, warn, error).
	LogLevel string `yaml:"log_level" envconfig:"LOG_LEVEL"`

	// Session multiplexer tunables.
	MaxSessions    int           `yaml:"max_sessions" envconfig:"MAX_SESSIONS"`
	IdleTimeout    time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	ReapInterval   time.Duration `yaml:"reap_interval" envconfig:"REAP_INTERVAL"`
	ReadChunkBytes int           `yaml:"read_chunk_bytes" envconfig:"READ_CHUNK_BYTES"`
	PollTimeout    time.Duration `yaml:"poll_timeout" envconfig:"POLL_TIMEOUT"`
	TerminateGrace time.Duration `yaml:"terminate_grace" envconfig:"TERMINATE_GRACE"`
	DefaultShell   string        `yaml:"default_shell" envconfig:"DEFAULT_SHELL"`
	DefaultRows    int           `yaml:"default_rows" envconfig:"DEFAULT_ROWS"`
	DefaultCols    int           `yaml:"default_cols" envconfig:"DEFAULT_COLS"`
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() Config {
	return Config{
		ListenAddr:     "127.0.0.1:7070",
		LogLevel:       "info",
		MaxSessions:    20,
		IdleTimeout:    15 * time.Minute,
		ReapInterval:   time.Minute,
		ReadChunkBytes: 20480,
		PollTimeout:    10 * time.Millisecond,
		TerminateGrace: 100 * time.Millisecond,
		DefaultRows:    24,
		DefaultCols:    80,
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// path is non-empty), then TERMMUX_ environment variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := envconfig.Process("termmux", &cfg); err != nil {
		return Config{}, fmt.Errorf("process environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the multiplexer cannot run with.
func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr must not be empty")
	}
	if c.MaxSessions <= 0 {
		return fmt.Errorf("max_sessions must be positive, got %d", c.MaxSessions)
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("idle_timeout must be positive, got %s", c.IdleTimeout)
	}
	if c.ReapInterval <= 0 {
		return fmt.Errorf("reap_interval must be positive, got %s", c.ReapInterval)
	}
	if c.ReadChunkBytes <= 0 {
		return fmt.Errorf("read_chunk_bytes must be positive, got %d", c.ReadChunkBytes)
	}
	if c.PollTimeout <= 0 {
		return fmt.Errorf("poll_timeout must be positive, got %s", c.PollTimeout)
	}
	if c.DefaultRows <= 0 || c.DefaultCols <= 0 {
		return fmt.Errorf("default dimensions must be positive, got %dx%d", c.DefaultRows, c.DefaultCols)
	}
	return nil
}

// Terminal maps the daemon configuration onto the multiplexer's Config.
func (c Config) Terminal() terminal.Config {
	return terminal.Config{
		MaxSessions:    c.MaxSessions,
		IdleTimeout:    c.IdleTimeout,
		ReapInterval:   c.ReapInterval,
		ReadChunkBytes: c.ReadChunkBytes,
		PollTimeout:    c.PollTimeout,
		TerminateGrace: c.TerminateGrace,
		DefaultShell:   c.DefaultShell,
		DefaultRows:    c.DefaultRows,
		DefaultCols:    c.DefaultCols,
	}
}
