package config

import (
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	if cfg.Agent.MaxIterations != 24 {
		t.Errorf("MaxIterations = %d, want 24", cfg.Agent.MaxIterations)
	}
	if cfg.Agent.ApprovalMode != "default" {
		t.Errorf("ApprovalMode = %q, want %q", cfg.Agent.ApprovalMode, "default")
	}
	if cfg.Context.CompressionTrigger != 0.70 {
		t.Errorf("CompressionTrigger = %v, want 0.70", cfg.Context.CompressionTrigger)
	}
	if cfg.Scheduler.PerToolTimeout != 5*time.Minute {
		t.Errorf("PerToolTimeout = %v, want 5m", cfg.Scheduler.PerToolTimeout)
	}
	if cfg.Scheduler.SerialDelay != 500*time.Millisecond {
		t.Errorf("SerialDelay = %v, want 500ms", cfg.Scheduler.SerialDelay)
	}
	if cfg.Retry.MaxAttempts != 3 {
		t.Errorf("Retry.MaxAttempts = %d, want 3", cfg.Retry.MaxAttempts)
	}
	if cfg.Storage.Backend != "sqlite" {
		t.Errorf("Storage.Backend = %q, want %q", cfg.Storage.Backend, "sqlite")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() on defaults: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown approval mode", func(c *Config) { c.Agent.ApprovalMode = "ask-me-maybe" }},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "postgres" }},
		{"unknown log format", func(c *Config) { c.Logging.Format = "logfmt" }},
		{"trigger above overflow", func(c *Config) {
			c.Context.CompressionTrigger = 0.96
			c.Context.OverflowWarning = 0.95
		}},
		{"preserve at 1", func(c *Config) { c.Context.CompressionPreserve = 1.0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}

func TestValidateAcceptsApprovalModeSpellings(t *testing.T) {
	for _, mode := range []string{"default", "auto_edit", "autoedit", "auto-edit", "yolo"} {
		cfg := Default()
		cfg.Agent.ApprovalMode = mode
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate() with mode %q: %v", mode, err)
		}
	}
}
