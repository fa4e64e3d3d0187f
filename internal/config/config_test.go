package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.MaxSessions != 20 {
		t.Errorf("expected default max_sessions 20, got %d", cfg.MaxSessions)
	}
	if cfg.IdleTimeout != 15*time.Minute {
		t.Errorf("expected default idle_timeout 15m, got %s", cfg.IdleTimeout)
	}
}

func TestLoadNoFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != Default().ListenAddr {
		t.Errorf("expected default listen addr, got %s", cfg.ListenAddr)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestLoadYAMLOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "termmux.yaml")
	data := []byte("listen_addr: 0.0.0.0:9000\nmax_sessions: 3\ndefault_shell: /bin/bash\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != "0.0.0.0:9000" {
		t.Errorf("expected listen addr from file, got %s", cfg.ListenAddr)
	}
	if cfg.MaxSessions != 3 {
		t.Errorf("expected max_sessions 3, got %d", cfg.MaxSessions)
	}
	if cfg.DefaultShell != "/bin/bash" {
		t.Errorf("expected default_shell from file, got %s", cfg.DefaultShell)
	}
	// Untouched fields keep their defaults.
	if cfg.ReadChunkBytes != 20480 {
		t.Errorf("expected default read_chunk_bytes, got %d", cfg.ReadChunkBytes)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "termmux.yaml")
	if err := os.WriteFile(path, []byte("max_sessions: 3\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("TERMMUX_MAX_SESSIONS", "7")
	t.Setenv("TERMMUX_IDLE_TIMEOUT", "90s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MaxSessions != 7 {
		t.Errorf("expected env to win over file, got max_sessions %d", cfg.MaxSessions)
	}
	if cfg.IdleTimeout != 90*time.Second {
		t.Errorf("expected idle_timeout 90s from env, got %s", cfg.IdleTimeout)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty listen addr", func(c *Config) { c.ListenAddr = "" }},
		{"zero max sessions", func(c *Config) { c.MaxSessions = 0 }},
		{"negative idle timeout", func(c *Config) { c.IdleTimeout = -time.Second }},
		{"zero reap interval", func(c *Config) { c.ReapInterval = 0 }},
		{"zero chunk size", func(c *Config) { c.ReadChunkBytes = 0 }},
		{"zero poll timeout", func(c *Config) { c.PollTimeout = 0 }},
		{"zero rows", func(c *Config) { c.DefaultRows = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestTerminalMapping(t *testing.T) {
	cfg := Default()
	cfg.MaxSessions = 9
	cfg.DefaultShell = "/bin/zsh"

	tc := cfg.Terminal()
	if tc.MaxSessions != 9 {
		t.Errorf("expected MaxSessions 9, got %d", tc.MaxSessions)
	}
	if tc.DefaultShell != "/bin/zsh" {
		t.Errorf("expected DefaultShell /bin/zsh, got %s", tc.DefaultShell)
	}
	if tc.PollTimeout != cfg.PollTimeout {
		t.Errorf("PollTimeout not carried over")
	}
}
