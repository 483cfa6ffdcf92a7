package agent

import (
	"context"

	"github.com/haasonsaas/conductor/pkg/models"
)

// LLMProvider defines the interface for Large Language Model backends.
//
// Implementations handle the specifics of a concrete LLM API while
// presenting a unified streaming interface to the loop. Implementations
// must be safe for concurrent use.
type LLMProvider interface {
	// Complete sends a request and returns a streaming response. The
	// channel is closed after the final chunk. Cancelling ctx stops the
	// stream.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// Name returns the provider name.
	Name() string

	// ContextWindow returns the token limit of the given model, or 0 when
	// unknown.
	ContextWindow(model string) int
}

// CompletionRequest contains all parameters for an LLM completion request.
type CompletionRequest struct {
	// Model specifies which model to use. If empty, the provider's default
	// model is used.
	Model string `json:"model"`

	// Messages is the full assembled context, system prompt included, in
	// chronological order.
	Messages []*models.Message `json:"messages"`

	// Tools defines the tools the model may call.
	Tools []Tool `json:"-"`

	// MaxTokens limits the response length. 0 uses the provider default.
	MaxTokens int `json:"max_tokens,omitempty"`

	// EnableThinking requests extended reasoning from supported models.
	EnableThinking bool `json:"enable_thinking,omitempty"`
}

// CompletionChunk is one element of a streaming response. Exactly one of
// the content fields is meaningful per chunk; Done marks the final chunk.
type CompletionChunk struct {
	// Text is a partial piece of the assistant's visible response.
	Text string

	// Thinking is a partial piece of the model's reasoning stream.
	Thinking string

	// ToolCall is a complete tool invocation request.
	ToolCall *models.ToolCall

	// Usage carries token accounting, typically on the final chunk.
	Usage *TokenUsage

	// Done indicates the stream completed.
	Done bool

	// Err reports a stream failure; the channel closes after it.
	Err error
}

// TokenUsage is the provider-reported token accounting for one request.
type TokenUsage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd,omitempty"`
}
