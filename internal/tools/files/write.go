package files

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/haasonsaas/conductor/internal/agent"
	"github.com/haasonsaas/conductor/pkg/models"
)

// WriteTool writes files within the workspace. Writes require
// confirmation unless the session policy auto-approves edits.
type WriteTool struct {
	resolver Resolver
}

// NewWriteTool creates a write tool scoped to the workspace.
func NewWriteTool(cfg Config) *WriteTool {
	return &WriteTool{resolver: Resolver{Root: cfg.Workspace}}
}

func (t *WriteTool) Name() string { return "write_file" }

func (t *WriteTool) Description() string {
	return "Write content to a file in the workspace (overwrites by default)."
}

// Schema returns the JSON schema for the tool parameters.
func (t *WriteTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "Path to write (relative to workspace)."},
			"content": {"type": "string", "description": "File contents to write."},
			"append": {"type": "boolean", "description": "Append instead of overwrite (default: false)."}
		},
		"required": ["path", "content"]
	}`)
}

// ConfirmDetails describes the pending write for the approval prompt.
func (t *WriteTool) ConfirmDetails(ctx context.Context, args json.RawMessage) (*agent.ConfirmDetails, error) {
	var input struct {
		Path    string `json:"path"`
		Content string `json:"content"`
		Append  bool   `json:"append"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return nil, err
	}
	resolved, err := t.resolver.Resolve(input.Path)
	if err != nil {
		return nil, err
	}
	verb := "Write"
	if input.Append {
		verb = "Append to"
	}
	return &agent.ConfirmDetails{
		Kind:     agent.ConfirmEdit,
		Title:    fmt.Sprintf("%s %s", verb, input.Path),
		FilePath: resolved,
		Diff:     previewDiff(resolved, input.Content),
	}, nil
}

// Execute writes file contents.
func (t *WriteTool) Execute(ctx context.Context, args json.RawMessage) (*models.ToolResult, error) {
	var input struct {
		Path    string `json:"path"`
		Content string `json:"content"`
		Append  bool   `json:"append"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return toolError(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(input.Path) == "" {
		return toolError("path is required"), nil
	}

	resolved, err := t.resolver.Resolve(input.Path)
	if err != nil {
		return toolError(err.Error()), nil
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return toolError(fmt.Sprintf("create directory: %v", err)), nil
	}

	flags := os.O_CREATE | os.O_WRONLY
	if input.Append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	file, err := os.OpenFile(resolved, flags, 0o644)
	if err != nil {
		return toolError(fmt.Sprintf("open file: %v", err)), nil
	}
	defer file.Close()

	n, err := file.WriteString(input.Content)
	if err != nil {
		return toolError(fmt.Sprintf("write file: %v", err)), nil
	}

	result := map[string]any{
		"path":          input.Path,
		"bytes_written": n,
		"append":        input.Append,
	}
	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return toolError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return &models.ToolResult{Content: string(payload)}, nil
}

const diffPreviewLimit = 2000

// previewDiff renders a before and after snippet for the approval
// prompt. Full structural diffing belongs to the host UI.
func previewDiff(path, newContent string) string {
	var b strings.Builder
	if old, err := os.ReadFile(path); err == nil {
		b.WriteString("--- current\n")
		b.WriteString(clip(string(old), diffPreviewLimit))
		b.WriteString("\n+++ proposed\n")
	} else {
		b.WriteString("+++ new file\n")
	}
	b.WriteString(clip(newContent, diffPreviewLimit))
	return b.String()
}

func clip(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "\n... (truncated)"
}
