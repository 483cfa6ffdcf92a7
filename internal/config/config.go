// Package config loads and validates conductor configuration from
// YAML or JSON5 files, with include resolution and environment
// variable expansion.
package config

import (
	"fmt"
	"time"

	agentctx "github.com/haasonsaas/conductor/internal/agent/context"
	"github.com/haasonsaas/conductor/internal/observability"
)

// Config is the root conductor configuration.
type Config struct {
	Agent     AgentConfig             `yaml:"agent"`
	Context   agentctx.Thresholds     `yaml:"context"`
	Scheduler SchedulerConfig         `yaml:"scheduler"`
	Retry     RetryConfig             `yaml:"retry"`
	Logging   observability.LogConfig `yaml:"logging"`
	Storage   StorageConfig           `yaml:"storage"`
	Tools     ToolsConfig             `yaml:"tools"`
}

// AgentConfig controls the agent loop and approval policy.
type AgentConfig struct {
	// Model is the model identifier passed to the provider.
	Model string `yaml:"model"`

	// SystemPrompt is prepended to every assembled context.
	SystemPrompt string `yaml:"system_prompt"`

	// MaxIterations caps model round-trips per turn.
	MaxIterations int `yaml:"max_iterations"`

	// MaxTokens limits each model response. 0 uses the provider default.
	MaxTokens int `yaml:"max_tokens"`

	// EnableThinking requests extended reasoning from the model.
	EnableThinking bool `yaml:"enable_thinking"`

	// ApprovalMode is one of "default", "auto_edit", or "yolo".
	ApprovalMode string `yaml:"approval_mode"`
}

// SchedulerConfig controls tool execution timing.
type SchedulerConfig struct {
	PerToolTimeout time.Duration `yaml:"per_tool_timeout"`
	SerialDelay    time.Duration `yaml:"serial_delay"`
}

// RetryConfig controls provider request retries.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Factor       float64       `yaml:"factor"`
	Jitter       bool          `yaml:"jitter"`
}

// StorageConfig controls session persistence.
type StorageConfig struct {
	// Backend is "sqlite" or "memory".
	Backend string `yaml:"backend"`

	// Path is the SQLite database file. Ignored for the memory backend.
	Path string `yaml:"path"`
}

// ToolsConfig controls the built-in tool set.
type ToolsConfig struct {
	// WorkDir is the directory tools operate in. Defaults to the
	// process working directory.
	WorkDir string `yaml:"work_dir"`

	// ShellTimeout bounds shell command execution within the
	// scheduler's per-tool timeout.
	ShellTimeout time.Duration `yaml:"shell_timeout"`

	// MaxFileSize caps read_file output in bytes.
	MaxFileSize int64 `yaml:"max_file_size"`
}

// Default returns a configuration with all defaults applied.
func Default() *Config {
	cfg := &Config{}
	cfg.normalize()
	return cfg
}

func (c *Config) normalize() {
	if c.Agent.Model == "" {
		c.Agent.Model = "claude-sonnet-4-5"
	}
	if c.Agent.MaxIterations <= 0 {
		c.Agent.MaxIterations = 24
	}
	if c.Agent.ApprovalMode == "" {
		c.Agent.ApprovalMode = "default"
	}
	d := agentctx.DefaultThresholds()
	if c.Context.CompressionTrigger <= 0 {
		c.Context.CompressionTrigger = d.CompressionTrigger
	}
	if c.Context.CompressionPreserve <= 0 {
		c.Context.CompressionPreserve = d.CompressionPreserve
	}
	if c.Context.OverflowWarning <= 0 {
		c.Context.OverflowWarning = d.OverflowWarning
	}
	if c.Context.ToolOutputSummaryTokens <= 0 {
		c.Context.ToolOutputSummaryTokens = d.ToolOutputSummaryTokens
	}
	if c.Scheduler.PerToolTimeout <= 0 {
		c.Scheduler.PerToolTimeout = 5 * time.Minute
	}
	if c.Scheduler.SerialDelay < 0 {
		c.Scheduler.SerialDelay = 0
	}
	if c.Scheduler.SerialDelay == 0 {
		c.Scheduler.SerialDelay = 500 * time.Millisecond
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.InitialDelay <= 0 {
		c.Retry.InitialDelay = 500 * time.Millisecond
	}
	if c.Retry.MaxDelay <= 0 {
		c.Retry.MaxDelay = 15 * time.Second
	}
	if c.Retry.Factor <= 1 {
		c.Retry.Factor = 2.0
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "sqlite"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "conductor.db"
	}
	if c.Tools.ShellTimeout <= 0 {
		c.Tools.ShellTimeout = 2 * time.Minute
	}
	if c.Tools.MaxFileSize <= 0 {
		c.Tools.MaxFileSize = 1 << 20
	}
}

// Validate reports configuration values that cannot be repaired by
// normalization.
func (c *Config) Validate() error {
	switch c.Agent.ApprovalMode {
	case "default", "auto_edit", "autoedit", "auto-edit", "yolo":
	default:
		return fmt.Errorf("config: unknown approval_mode %q", c.Agent.ApprovalMode)
	}
	switch c.Storage.Backend {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.Storage.Backend)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Logging.Format)
	}
	if c.Context.CompressionTrigger >= c.Context.OverflowWarning {
		return fmt.Errorf("config: compression_trigger %.2f must be below overflow_warning %.2f",
			c.Context.CompressionTrigger, c.Context.OverflowWarning)
	}
	if c.Context.CompressionPreserve >= 1 {
		return fmt.Errorf("config: compression_preserve %.2f must be below 1", c.Context.CompressionPreserve)
	}
	return nil
}
