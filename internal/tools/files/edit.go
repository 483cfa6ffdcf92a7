package files

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/haasonsaas/conductor/internal/agent"
	"github.com/haasonsaas/conductor/pkg/models"
)

// EditTool applies in-place text edits to workspace files.
type EditTool struct {
	resolver Resolver
}

// NewEditTool creates an edit tool scoped to the workspace.
func NewEditTool(cfg Config) *EditTool {
	return &EditTool{resolver: Resolver{Root: cfg.Workspace}}
}

func (t *EditTool) Name() string { return "edit_file" }

func (t *EditTool) Description() string {
	return "Apply one or more find/replace edits to a file in the workspace."
}

// Schema returns the JSON schema for the tool parameters.
func (t *EditTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "Path to edit (relative to workspace)."},
			"edits": {
				"type": "array",
				"items": {
					"type": "object",
					"properties": {
						"old_text": {"type": "string", "description": "Text to replace."},
						"new_text": {"type": "string", "description": "Replacement text."},
						"replace_all": {"type": "boolean", "description": "Replace all occurrences (default: false)."}
					},
					"required": ["old_text", "new_text"]
				}
			}
		},
		"required": ["path", "edits"]
	}`)
}

type editInput struct {
	Path  string `json:"path"`
	Edits []struct {
		OldText    string `json:"old_text"`
		NewText    string `json:"new_text"`
		ReplaceAll bool   `json:"replace_all"`
	} `json:"edits"`
}

// ConfirmDetails describes the pending edits for the approval prompt.
func (t *EditTool) ConfirmDetails(ctx context.Context, args json.RawMessage) (*agent.ConfirmDetails, error) {
	var input editInput
	if err := json.Unmarshal(args, &input); err != nil {
		return nil, err
	}
	resolved, err := t.resolver.Resolve(input.Path)
	if err != nil {
		return nil, err
	}
	var b strings.Builder
	for i, edit := range input.Edits {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "- %s\n+ %s\n", clip(edit.OldText, 400), clip(edit.NewText, 400))
	}
	return &agent.ConfirmDetails{
		Kind:     agent.ConfirmEdit,
		Title:    fmt.Sprintf("Edit %s (%d edits)", input.Path, len(input.Edits)),
		FilePath: resolved,
		Diff:     b.String(),
	}, nil
}

// Execute applies the edits in order. All edits must match or the file
// is left untouched.
func (t *EditTool) Execute(ctx context.Context, args json.RawMessage) (*models.ToolResult, error) {
	var input editInput
	if err := json.Unmarshal(args, &input); err != nil {
		return toolError(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(input.Path) == "" {
		return toolError("path is required"), nil
	}
	if len(input.Edits) == 0 {
		return toolError("edits are required"), nil
	}

	resolved, err := t.resolver.Resolve(input.Path)
	if err != nil {
		return toolError(err.Error()), nil
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return toolError(fmt.Sprintf("read file: %v", err)), nil
	}

	content := string(data)
	replacements := 0
	for _, edit := range input.Edits {
		if edit.OldText == "" {
			return toolError("old_text is required"), nil
		}
		if !strings.Contains(content, edit.OldText) {
			return toolError("old_text not found"), nil
		}
		if edit.ReplaceAll {
			count := strings.Count(content, edit.OldText)
			content = strings.ReplaceAll(content, edit.OldText, edit.NewText)
			replacements += count
		} else {
			content = strings.Replace(content, edit.OldText, edit.NewText, 1)
			replacements++
		}
	}

	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return toolError(fmt.Sprintf("write file: %v", err)), nil
	}

	result := map[string]any{
		"path":         input.Path,
		"replacements": replacements,
	}
	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return toolError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return &models.ToolResult{Content: string(payload)}, nil
}
