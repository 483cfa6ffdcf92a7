package models

import (
	"encoding/json"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one turn unit exchanged with the LLM.
//
// Structural invariants (enforced by the transcript sanitizer, not assumed):
// an assistant message carrying ToolCalls must be followed, skipping only
// other tool messages, by exactly one tool message per call ID before any
// non-tool message appears; every tool message's ToolCallID must reference a
// ToolCalls entry emitted earlier in the same sequence.
type Message struct {
	ID      string `json:"id,omitempty"`
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// ReasoningContent carries model "thinking" text when the provider
	// exposes it. Never sent back to the model.
	ReasoningContent string `json:"reasoning_content,omitempty"`

	// ToolCalls is set only on assistant messages.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID and ToolName identify which call a tool message answers.
	// Set only on tool messages.
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`

	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at,omitempty"`
}

// ToolCall represents the model's request to execute a tool. Arguments are
// opaque serialized data parsed by the target tool.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResult is the structured outcome of a tool execution. IsError marks a
// tool-level failure, which is still a normal result from the scheduler's
// perspective (it is surfaced to the model, not thrown).
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// Session represents one conversation owned by a host process.
type Session struct {
	ID        string         `json:"id"`
	Title     string         `json:"title,omitempty"`
	Model     string         `json:"model,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Checkpoint is the persisted artifact of a successful history compression.
// On resume the context is reconstructed as summary + the verbatim tail that
// follows LoadAfterMessageID. It is superseded when the referenced message
// can no longer be found in stored history.
type Checkpoint struct {
	SessionID          string    `json:"session_id"`
	Summary            string    `json:"summary"`
	LoadAfterMessageID string    `json:"load_after_message_id"`
	CompressedAt       time.Time `json:"compressed_at"`
	Stats              RunStats  `json:"stats"`
}

// RunStats accumulates token and cost counters across a session.
type RunStats struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	ToolCalls    int     `json:"tool_calls"`
	Compressions int     `json:"compressions"`
	CostUSD      float64 `json:"cost_usd"`
}

// Add accumulates another stats block into this one.
func (s *RunStats) Add(other RunStats) {
	s.InputTokens += other.InputTokens
	s.OutputTokens += other.OutputTokens
	s.ToolCalls += other.ToolCalls
	s.Compressions += other.Compressions
	s.CostUSD += other.CostUSD
}
