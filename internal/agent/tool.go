package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/conductor/pkg/models"
)

// Tool is the contract every executable capability implements. Execute
// receives already-validated arguments and returns an outcome; transport
// errors and tool-level failures both come back as a ToolResult with
// IsError set, a non-nil error is reserved for infrastructure faults.
type Tool interface {
	// Name is the unique identifier the model calls the tool by.
	Name() string

	// Description tells the model what the tool does.
	Description() string

	// Schema is the JSON Schema for the tool's arguments, or nil when the
	// tool takes none.
	Schema() json.RawMessage

	// Execute runs the tool. ctx carries cancellation and correlation IDs.
	Execute(ctx context.Context, args json.RawMessage) (*models.ToolResult, error)
}

// ReadOnlyTool is implemented by tools that never mutate external state.
// Read-only tools may run in parallel and never require confirmation.
type ReadOnlyTool interface {
	ReadOnly() bool
}

// ConfirmingTool is implemented by tools that decide per-call whether user
// confirmation is needed and describe what is about to happen. Returning nil
// means no confirmation is required for this call.
type ConfirmingTool interface {
	ConfirmDetails(ctx context.Context, args json.RawMessage) (*ConfirmDetails, error)
}

// ProgressingTool is implemented by tools that stream incremental output
// while executing. The callback must be cheap; it is invoked inline.
type ProgressingTool interface {
	ExecuteStreaming(ctx context.Context, args json.RawMessage, progress func(chunk string)) (*models.ToolResult, error)
}

// IsReadOnly reports whether the tool declares itself side-effect free.
// Tools that do not implement ReadOnlyTool are assumed to have effects.
func IsReadOnly(t Tool) bool {
	ro, ok := t.(ReadOnlyTool)
	return ok && ro.ReadOnly()
}

// Tool parameter limits to prevent resource exhaustion
const (
	// MaxToolNameLength is the maximum length of a tool name.
	MaxToolNameLength = 256

	// MaxToolArgsSize is the maximum size of tool arguments JSON (10MB).
	MaxToolArgsSize = 10 << 20
)

// ToolRegistry manages available tools with thread-safe registration and
// lookup. Schemas are compiled once at registration so argument validation
// on the hot path is a pure lookup.
type ToolRegistry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
}

// NewToolRegistry creates a new empty tool registry ready for tool registration.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// Register adds a tool to the registry by its name, compiling its argument
// schema. If a tool with the same name already exists, it is replaced.
func (r *ToolRegistry) Register(tool Tool) error {
	name := tool.Name()
	if name == "" || len(name) > MaxToolNameLength {
		return fmt.Errorf("invalid tool name %q", name)
	}

	var compiled *jsonschema.Schema
	if raw := tool.Schema(); len(raw) > 0 {
		c := jsonschema.NewCompiler()
		if err := c.AddResource(name+".json", bytes.NewReader(raw)); err != nil {
			return fmt.Errorf("tool %s: invalid schema: %w", name, err)
		}
		var err error
		compiled, err = c.Compile(name + ".json")
		if err != nil {
			return fmt.Errorf("tool %s: schema compilation failed: %w", name, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = tool
	if compiled != nil {
		r.schemas[name] = compiled
	} else {
		delete(r.schemas, name)
	}
	return nil
}

// Unregister removes a tool from the registry by name.
func (r *ToolRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
	delete(r.schemas, name)
}

// Get returns a tool by name and a boolean indicating if it was found.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// List returns all registered tools, for passing to LLM providers.
func (r *ToolRegistry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tools := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		tools = append(tools, t)
	}
	return tools
}

// maxArgUnwrapDepth bounds how many layers of JSON-in-a-string encoding
// ValidateArgs will peel off.
const maxArgUnwrapDepth = 3

// ValidateArgs checks a tool call's arguments: the raw bytes must be valid
// JSON and, when the tool declares a schema, conform to it. A failure here
// moves the call straight to its error state without executing anything.
//
// Providers sometimes serialize the argument object one level too deep,
// delivering a JSON string that contains the real JSON object. ValidateArgs
// recovers those calls and returns the normalized bytes, which the caller
// must use for everything downstream of validation.
func (r *ToolRegistry) ValidateArgs(name string, args json.RawMessage) (json.RawMessage, error) {
	if len(args) > MaxToolArgsSize {
		return nil, &ToolError{
			Type:     ToolErrorInvalidInput,
			ToolName: name,
			Message:  fmt.Sprintf("arguments exceed maximum size of %d bytes", MaxToolArgsSize),
		}
	}

	var parsed any
	if len(args) == 0 {
		parsed = map[string]any{}
		args = json.RawMessage(`{}`)
	} else if err := json.Unmarshal(args, &parsed); err != nil {
		return nil, &ToolError{
			Type:     ToolErrorInvalidInput,
			ToolName: name,
			Message:  "arguments are not valid JSON",
			Cause:    err,
		}
	}

	// A bare string is never a valid argument object, so unwrap it
	// unconditionally.
	for depth := 0; depth < maxArgUnwrapDepth; depth++ {
		s, ok := parsed.(string)
		if !ok {
			break
		}
		var inner any
		if err := json.Unmarshal([]byte(s), &inner); err != nil {
			break
		}
		parsed = inner
		if out, err := json.Marshal(parsed); err == nil {
			args = out
		}
	}

	r.mu.RLock()
	schema := r.schemas[name]
	r.mu.RUnlock()
	if schema == nil {
		return args, nil
	}

	err := schema.Validate(parsed)
	if err == nil {
		return args, nil
	}

	// The shape is wrong as delivered. If unwrapping string leaves that
	// hold encoded JSON produces a conforming shape, the call was
	// double-encoded below the top level; otherwise report the original
	// violation so legitimate string values are never rewritten.
	if unwrapped, changed := unwrapEncodedLeaves(parsed, 0); changed {
		if schema.Validate(unwrapped) == nil {
			if out, merr := json.Marshal(unwrapped); merr == nil {
				return out, nil
			}
		}
	}

	return nil, &ToolError{
		Type:     ToolErrorInvalidInput,
		ToolName: name,
		Message:  "arguments do not match the tool schema",
		Cause:    err,
	}
}

// unwrapEncodedLeaves rebuilds v with every string leaf that encodes a JSON
// object or array replaced by its decoded value. It reports whether any
// leaf changed.
func unwrapEncodedLeaves(v any, depth int) (any, bool) {
	if depth > maxArgUnwrapDepth {
		return v, false
	}
	switch val := v.(type) {
	case string:
		trimmed := strings.TrimSpace(val)
		if len(trimmed) == 0 || (trimmed[0] != '{' && trimmed[0] != '[') {
			return v, false
		}
		var inner any
		if err := json.Unmarshal([]byte(trimmed), &inner); err != nil {
			return v, false
		}
		inner, _ = unwrapEncodedLeaves(inner, depth+1)
		return inner, true
	case map[string]any:
		out := make(map[string]any, len(val))
		changed := false
		for k, elem := range val {
			next, c := unwrapEncodedLeaves(elem, depth+1)
			out[k] = next
			changed = changed || c
		}
		return out, changed
	case []any:
		out := make([]any, len(val))
		changed := false
		for i, elem := range val {
			next, c := unwrapEncodedLeaves(elem, depth+1)
			out[i] = next
			changed = changed || c
		}
		return out, changed
	default:
		return v, false
	}
}
