package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Sandbox.MemoryLimitMB != 128 {
		t.Errorf("Sandbox.MemoryLimitMB = %d, want 128", cfg.Sandbox.MemoryLimitMB)
	}
	if cfg.Sandbox.QueryTimeout != 30*time.Second {
		t.Errorf("Sandbox.QueryTimeout = %s, want 30s", cfg.Sandbox.QueryTimeout)
	}
	if cfg.Sandbox.MaxResultRows != 1000 {
		t.Errorf("Sandbox.MaxResultRows = %d, want 1000", cfg.Sandbox.MaxResultRows)
	}
	if cfg.Validator.MaxQueryLength != 10000 {
		t.Errorf("Validator.MaxQueryLength = %d, want 10000", cfg.Validator.MaxQueryLength)
	}
	if cfg.Queue.ResultTTL != 5*time.Minute {
		t.Errorf("Queue.ResultTTL = %s, want 5m", cfg.Queue.ResultTTL)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"valid defaults", func(c *Config) {}, false},
		{"server port 0", func(c *Config) { c.Server.Port = 0 }, true},
		{"server port 99999", func(c *Config) { c.Server.Port = 99999 }, true},
		{"memory below floor", func(c *Config) { c.Sandbox.MemoryLimitMB = 8 }, true},
		{"zero query timeout", func(c *Config) { c.Sandbox.QueryTimeout = 0 }, true},
		{"zero result rows", func(c *Config) { c.Sandbox.MaxResultRows = 0 }, true},
		{"zero sandboxes", func(c *Config) { c.Sandbox.MaxSandboxes = 0 }, true},
		{"zero tables", func(c *Config) { c.Sandbox.MaxTables = 0 }, true},
		{"zero query length", func(c *Config) { c.Validator.MaxQueryLength = 0 }, true},
		{"negative epsilon", func(c *Config) { c.Grader.NumericEpsilon = -1 }, true},
		{"perturb fraction 1", func(c *Config) { c.Grader.PerturbFraction = 1 }, true},
		{"zero workers", func(c *Config) { c.Queue.Workers = 0 }, true},
		{"zero result TTL", func(c *Config) { c.Queue.ResultTTL = 0 }, true},
		{"zero stale after", func(c *Config) { c.Queue.StaleAfter = 0 }, true},
		{"stale after below query timeout", func(c *Config) { c.Queue.StaleAfter = time.Second }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	yaml := `
server:
  port: 9090
sandbox:
  memory_limit_mb: 256
  query_timeout: 10s
queue:
  workers: 8
`
	if err := os.WriteFile(path, []byte(yaml), 0600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Sandbox.MemoryLimitMB != 256 {
		t.Errorf("Sandbox.MemoryLimitMB = %d, want 256", cfg.Sandbox.MemoryLimitMB)
	}
	if cfg.Sandbox.QueryTimeout != 10*time.Second {
		t.Errorf("Sandbox.QueryTimeout = %s, want 10s", cfg.Sandbox.QueryTimeout)
	}
	if cfg.Queue.Workers != 8 {
		t.Errorf("Queue.Workers = %d, want 8", cfg.Queue.Workers)
	}
	// Untouched sections keep defaults.
	if cfg.Sandbox.MaxResultRows != 1000 {
		t.Errorf("Sandbox.MaxResultRows = %d, want default 1000", cfg.Sandbox.MaxResultRows)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("Load() of missing file succeeded, want error")
	}
}

func TestLoadInvalidValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	if err := os.WriteFile(path, []byte("server:\n  port: -5\n"), 0600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Error("Load() with invalid port succeeded, want error")
	}
}
