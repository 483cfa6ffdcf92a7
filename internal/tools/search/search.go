// Package search provides a workspace text search tool.
package search

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/haasonsaas/conductor/pkg/models"
)

// Config controls search tool defaults.
type Config struct {
	// Workspace is the root directory searched.
	Workspace string

	// MaxMatches caps reported matches. Defaults to 200.
	MaxMatches int
}

// Tool searches workspace files by regular expression. It is read-only
// and streams matches as they are found.
type Tool struct {
	config Config
}

// New creates a search tool.
func New(cfg Config) *Tool {
	if cfg.MaxMatches <= 0 {
		cfg.MaxMatches = 200
	}
	if cfg.Workspace == "" {
		cfg.Workspace = "."
	}
	return &Tool{config: cfg}
}

func (t *Tool) Name() string { return "search" }

func (t *Tool) Description() string {
	return "Search workspace files for a regular expression and return matching lines."
}

func (t *Tool) ReadOnly() bool { return true }

// Schema returns the JSON schema for the tool parameters.
func (t *Tool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"pattern": {"type": "string", "description": "Regular expression to search for."},
			"glob": {"type": "string", "description": "Filename glob filter, e.g. *.go."},
			"max_matches": {"type": "integer", "description": "Cap on reported matches.", "minimum": 1}
		},
		"required": ["pattern"]
	}`)
}

type searchInput struct {
	Pattern    string `json:"pattern"`
	Glob       string `json:"glob"`
	MaxMatches int    `json:"max_matches"`
}

// Execute runs the search without progress reporting.
func (t *Tool) Execute(ctx context.Context, args json.RawMessage) (*models.ToolResult, error) {
	return t.ExecuteStreaming(ctx, args, nil)
}

// ExecuteStreaming runs the search, invoking progress with each match
// line as it is found.
func (t *Tool) ExecuteStreaming(ctx context.Context, args json.RawMessage, progress func(chunk string)) (*models.ToolResult, error) {
	var input searchInput
	if err := json.Unmarshal(args, &input); err != nil {
		return toolError(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(input.Pattern) == "" {
		return toolError("pattern is required"), nil
	}
	re, err := regexp.Compile(input.Pattern)
	if err != nil {
		return toolError(fmt.Sprintf("invalid pattern: %v", err)), nil
	}

	limit := t.config.MaxMatches
	if input.MaxMatches > 0 && input.MaxMatches < limit {
		limit = input.MaxMatches
	}

	root, err := filepath.Abs(t.config.Workspace)
	if err != nil {
		return toolError(fmt.Sprintf("resolve workspace: %v", err)), nil
	}

	var matches []string
	truncated := false
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			name := d.Name()
			if name == ".git" || name == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}
		if input.Glob != "" {
			if ok, _ := filepath.Match(input.Glob, d.Name()); !ok {
				return nil
			}
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}
		found, err := t.searchFile(path, rel, re, limit-len(matches), progress)
		if err != nil {
			return nil
		}
		matches = append(matches, found...)
		if len(matches) >= limit {
			truncated = true
			return filepath.SkipAll
		}
		return nil
	})
	if walkErr != nil && walkErr != filepath.SkipAll {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return toolError(fmt.Sprintf("search: %v", walkErr)), nil
	}

	result := map[string]any{
		"pattern":   input.Pattern,
		"matches":   matches,
		"count":     len(matches),
		"truncated": truncated,
	}
	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return toolError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return &models.ToolResult{Content: string(payload)}, nil
}

const maxLineLength = 1 << 20

func (t *Tool) searchFile(path, rel string, re *regexp.Regexp, budget int, progress func(string)) ([]string, error) {
	if budget <= 0 {
		return nil, nil
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var matches []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), maxLineLength)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if bytes.IndexByte(line, 0) >= 0 {
			// Binary file, skip the rest.
			return matches, nil
		}
		if re.Match(line) {
			match := fmt.Sprintf("%s:%d: %s", rel, lineNo, strings.TrimSpace(string(line)))
			matches = append(matches, match)
			if progress != nil {
				progress(match + "\n")
			}
			if len(matches) >= budget {
				return matches, nil
			}
		}
	}
	return matches, scanner.Err()
}

func toolError(message string) *models.ToolResult {
	payload, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		return &models.ToolResult{Content: message, IsError: true}
	}
	return &models.ToolResult{Content: string(payload), IsError: true}
}
