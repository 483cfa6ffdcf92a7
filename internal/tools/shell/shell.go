// Package shell provides a confirmed shell execution tool.
package shell

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/conductor/internal/agent"
	"github.com/haasonsaas/conductor/internal/exec"
	"github.com/haasonsaas/conductor/internal/process"
	"github.com/haasonsaas/conductor/pkg/models"
)

// Config controls shell tool defaults.
type Config struct {
	// WorkDir is the directory commands run in.
	WorkDir string

	// Timeout bounds command execution. Defaults to 2 minutes.
	Timeout time.Duration

	// MaxOutputBytes caps captured stdout and stderr each.
	MaxOutputBytes int
}

// Tool runs shell commands. Every call requires confirmation; allow
// always is remembered per root command, and only for commands with no
// chaining or redirection.
type Tool struct {
	config Config
}

// New creates a shell tool.
func New(cfg Config) *Tool {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &Tool{config: cfg}
}

func (t *Tool) Name() string { return "shell" }

func (t *Tool) Description() string {
	return "Run a shell command in the workspace and return its output and exit code."
}

// Schema returns the JSON schema for the tool parameters.
func (t *Tool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"command": {"type": "string", "description": "Shell command to run."},
			"timeout_seconds": {"type": "integer", "description": "Override the default timeout.", "minimum": 1, "maximum": 600}
		},
		"required": ["command"]
	}`)
}

type shellInput struct {
	Command        string `json:"command"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// ConfirmDetails describes the pending command for the approval prompt.
// RootCommand is only set for simple commands so chained commands never
// become allowlistable.
func (t *Tool) ConfirmDetails(ctx context.Context, args json.RawMessage) (*agent.ConfirmDetails, error) {
	var input shellInput
	if err := json.Unmarshal(args, &input); err != nil {
		return nil, err
	}
	details := &agent.ConfirmDetails{
		Kind:    agent.ConfirmExec,
		Title:   fmt.Sprintf("Run: %s", clipCommand(input.Command)),
		Command: input.Command,
	}
	if exec.IsSimpleCommand(input.Command) {
		details.RootCommand = exec.RootCommand(input.Command)
	}
	return details, nil
}

// Execute runs the command and reports stdout, stderr and exit status.
func (t *Tool) Execute(ctx context.Context, args json.RawMessage) (*models.ToolResult, error) {
	var input shellInput
	if err := json.Unmarshal(args, &input); err != nil {
		return toolError(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(input.Command) == "" {
		return toolError("command is required"), nil
	}

	timeout := t.config.Timeout
	if input.TimeoutSeconds > 0 {
		timeout = time.Duration(input.TimeoutSeconds) * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := process.Run(runCtx, input.Command, process.Options{
		Dir:            t.config.WorkDir,
		MaxOutputBytes: t.config.MaxOutputBytes,
	})
	if err != nil {
		return toolError(fmt.Sprintf("run command: %v", err)), nil
	}

	result := map[string]any{
		"stdout":    res.Stdout,
		"stderr":    res.Stderr,
		"exit_code": res.ExitCode,
		"truncated": res.Truncated,
	}
	if res.Killed {
		result["killed"] = true
		if runCtx.Err() == context.DeadlineExceeded {
			result["reason"] = fmt.Sprintf("timed out after %s", timeout)
		}
	}
	if res.Signal != "" {
		result["signal"] = res.Signal
	}
	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return toolError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return &models.ToolResult{Content: string(payload), IsError: res.ExitCode != 0}, nil
}

func clipCommand(command string) string {
	const limit = 120
	command = strings.TrimSpace(command)
	if len(command) <= limit {
		return command
	}
	return command[:limit] + "..."
}

func toolError(message string) *models.ToolResult {
	payload, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		return &models.ToolResult{Content: message, IsError: true}
	}
	return &models.ToolResult{Content: string(payload), IsError: true}
}
