// Package models provides domain types for the conductor agent core.
package models

import "time"

// ExecutionEvent is the unified event model for the execution stream.
// Presentation layers (TUI, desktop, log collectors) consume it without
// back-referencing prior events: every event carries enough identifying
// data (call ID, tool name) to correlate on its own.
//
// Design principles:
//   - Versioned and forward-compatible (add fields, don't rename/remove)
//   - Single Type discriminator with optional payload pointers
//   - Monotonic Sequence for ordering guarantees across goroutines
type ExecutionEvent struct {
	// Version for forward compatibility. Current version: 1.
	Version int `json:"version"`

	// Type identifies the kind of event.
	Type ExecutionEventType `json:"type"`

	// Time is when the event occurred.
	Time time.Time `json:"time"`

	// Sequence is monotonic within a session for ordering guarantees.
	Sequence uint64 `json:"seq"`

	// SessionID identifies the owning session.
	SessionID string `json:"session_id,omitempty"`

	// TurnIndex is the 0-based turn number within the session.
	TurnIndex int `json:"turn_index,omitempty"`

	// Exactly one payload should be non-nil for a given Type.
	Tool        *ToolEventPayload        `json:"tool,omitempty"`
	Thinking    *ThinkingEventPayload    `json:"thinking,omitempty"`
	Compression *CompressionEventPayload `json:"compression,omitempty"`
	Error       *ErrorEventPayload       `json:"error,omitempty"`
	Stats       *RunStats                `json:"stats,omitempty"`
}

// ExecutionEventType identifies the kind of execution event.
type ExecutionEventType string

const (
	// Execution lifecycle
	EventExecutionStart    ExecutionEventType = "execution:start"
	EventExecutionComplete ExecutionEventType = "execution:complete"
	EventExecutionError    ExecutionEventType = "execution:error"
	EventExecutionCancel   ExecutionEventType = "execution:cancel"

	// Tool call lifecycle, mirroring the scheduler state machine
	EventToolValidating       ExecutionEventType = "tool:validating"
	EventToolAwaitingApproval ExecutionEventType = "tool:awaiting_approval"
	EventToolExecuting        ExecutionEventType = "tool:executing"
	EventToolComplete         ExecutionEventType = "tool:complete"
	EventToolError            ExecutionEventType = "tool:error"
	EventToolCancelled        ExecutionEventType = "tool:cancelled"
	// EventToolProgress carries sub-events from nested/sub-agent tools.
	EventToolProgress ExecutionEventType = "tool:progress"

	// Model reasoning stream
	EventThinkingStart    ExecutionEventType = "thinking:start"
	EventThinkingDelta    ExecutionEventType = "thinking:delta"
	EventThinkingComplete ExecutionEventType = "thinking:complete"

	// History compression
	EventCompressionStart    ExecutionEventType = "compression:start"
	EventCompressionComplete ExecutionEventType = "compression:complete"
)

// ToolEventPayload describes a tool call lifecycle transition.
// Args/Result are opaque bytes to avoid coupling to tool schemas.
type ToolEventPayload struct {
	// CallID identifies this specific tool invocation.
	CallID string `json:"call_id"`

	// Name is the tool name.
	Name string `json:"name"`

	// ArgsJSON is the raw JSON arguments (on tool:validating).
	ArgsJSON []byte `json:"args_json,omitempty"`

	// Output is the result content (on terminal events).
	Output string `json:"output,omitempty"`

	// Error is set on tool:error and tool:cancelled.
	Error string `json:"error,omitempty"`

	// Progress carries a nested tool's own event (on tool:progress).
	Progress *ExecutionEvent `json:"progress,omitempty"`

	// DurationMs is wall time from executing to terminal state.
	DurationMs int64 `json:"duration_ms,omitempty"`
}

// ThinkingEventPayload carries model reasoning text.
type ThinkingEventPayload struct {
	// Delta is the incremental reasoning text (thinking:delta).
	Delta string `json:"delta,omitempty"`

	// Final is the complete reasoning text (thinking:complete).
	Final string `json:"final,omitempty"`
}

// CompressionEventPayload reports a history compression pass.
type CompressionEventPayload struct {
	TokensBefore   int  `json:"tokens_before"`
	TokensAfter    int  `json:"tokens_after,omitempty"`
	MessagesBefore int  `json:"messages_before"`
	MessagesAfter  int  `json:"messages_after,omitempty"`
	Compressed     bool `json:"compressed"`
}

// ErrorEventPayload describes an execution:error event.
type ErrorEventPayload struct {
	Message string `json:"message"`

	// Retriable hints whether the host may retry the turn.
	Retriable bool `json:"retriable"`
}
