package agent

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	agentctx "github.com/haasonsaas/conductor/internal/agent/context"
	"github.com/haasonsaas/conductor/internal/retry"
	"github.com/haasonsaas/conductor/pkg/models"
)

// LoopConfig tunes the agentic loop.
type LoopConfig struct {
	// Model is the model identifier passed to the provider.
	Model string

	// MaxIterations caps model round-trips per turn. Default: 24.
	MaxIterations int

	// MaxTokens limits each response. 0 uses the provider default.
	MaxTokens int

	// EnableThinking requests extended reasoning from the model.
	EnableThinking bool

	// Retry configures provider request retries.
	Retry retry.Config
}

// DefaultLoopConfig returns the default loop configuration.
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		MaxIterations: 24,
		Retry: retry.Config{
			MaxAttempts:  3,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     15 * time.Second,
			Factor:       2.0,
			Jitter:       true,
		},
	}
}

// Loop drives one session's turns: assemble context, call the model,
// schedule tool calls, feed results back, repeat until the model stops
// calling tools. All message-list mutation goes through the context
// manager; the loop itself holds no conversation state.
type Loop struct {
	provider  LLMProvider
	contexts  *agentctx.Manager
	scheduler *Scheduler
	stream    *StreamManager
	config    LoopConfig
	logger    *slog.Logger
}

// NewLoop wires a loop from its collaborators.
func NewLoop(provider LLMProvider, contexts *agentctx.Manager, scheduler *Scheduler, stream *StreamManager, config LoopConfig, logger *slog.Logger) *Loop {
	if config.MaxIterations <= 0 {
		config.MaxIterations = DefaultLoopConfig().MaxIterations
	}
	if config.Retry.MaxAttempts <= 0 {
		config.Retry = DefaultLoopConfig().Retry
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		provider:  provider,
		contexts:  contexts,
		scheduler: scheduler,
		stream:    stream,
		config:    config,
		logger:    logger,
	}
}

// TurnResult summarizes a completed turn.
type TurnResult struct {
	// Response is the model's final visible text.
	Response string

	// Iterations is the number of model round-trips the turn took.
	Iterations int

	// Records are the tool call records accumulated during the turn.
	Records []*ToolCallRecord

	// Stats are the token counters for this turn.
	Stats models.RunStats
}

// RunTurn executes one turn for the given user input. It always leaves the
// conversation in a valid state: on success the turn is archived whole, on
// cancellation the turn buffer is sanitized before archival, and on error
// nothing half-written leaks into history.
func (l *Loop) RunTurn(ctx context.Context, input *models.Message) (*TurnResult, error) {
	if l.provider == nil {
		return nil, ErrNoProvider
	}

	l.scheduler.Reset()
	l.contexts.SetPendingInput(input)
	l.stream.Emit(models.ExecutionEvent{Type: models.EventExecutionStart})

	result, err := l.run(ctx)
	switch {
	case err == nil:
		l.contexts.FinishTurn()
		l.stream.Emit(models.ExecutionEvent{
			Type:  models.EventExecutionComplete,
			Stats: &result.Stats,
		})
	case errors.Is(err, context.Canceled):
		l.contexts.CancelTurn()
		l.stream.Emit(models.ExecutionEvent{Type: models.EventExecutionCancel})
	default:
		l.contexts.CancelTurn()
		l.stream.EmitError(err, isRetriableTurnError(err))
	}
	return result, err
}

// run is the iteration body of a turn. It returns a partial TurnResult even
// on error so callers can inspect what happened.
func (l *Loop) run(ctx context.Context) (*TurnResult, error) {
	result := &TurnResult{}

	for iter := 0; iter < l.config.MaxIterations; iter++ {
		result.Iterations = iter + 1

		if err := ctx.Err(); err != nil {
			return result, err
		}
		if l.contexts.IsOverflow() {
			return result, &agentctx.OverflowError{
				Usage: l.contexts.Usage(),
				Limit: l.contexts.ModelLimit(),
			}
		}

		messages := l.contexts.GetContext(ctx, true)

		turn, err := l.complete(ctx, messages)
		if err != nil {
			return result, &LoopError{Phase: PhaseRequest, Iteration: iter, Cause: err}
		}

		assistant := &models.Message{
			ID:               uuid.NewString(),
			Role:             models.RoleAssistant,
			Content:          turn.text,
			ReasoningContent: turn.thinking,
			ToolCalls:        turn.toolCalls,
			CreatedAt:        time.Now(),
		}
		l.contexts.AddTurnMessage(assistant)
		if turn.usage != nil {
			stats := models.RunStats{
				InputTokens:  turn.usage.InputTokens,
				OutputTokens: turn.usage.OutputTokens,
				CostUSD:      turn.usage.CostUSD,
			}
			l.contexts.AddStats(stats)
			l.stream.AddStats(stats)
			result.Stats.Add(stats)
		}

		if len(turn.toolCalls) == 0 {
			result.Response = turn.text
			result.Records = l.scheduler.Records()
			return result, nil
		}

		responses := l.scheduler.Schedule(ctx, turn.toolCalls, turn.thinking)
		for _, msg := range responses {
			l.contexts.AddTurnMessage(msg)
		}
		toolStats := models.RunStats{ToolCalls: len(turn.toolCalls)}
		l.contexts.AddStats(toolStats)
		result.Stats.Add(toolStats)

		if err := ctx.Err(); err != nil {
			return result, err
		}
	}

	result.Records = l.scheduler.Records()
	return result, &LoopError{
		Phase:     PhaseComplete,
		Iteration: l.config.MaxIterations,
		Cause:     ErrMaxIterations,
	}
}

// modelTurn is the accumulated content of one model response.
type modelTurn struct {
	text      string
	thinking  string
	toolCalls []models.ToolCall
	usage     *TokenUsage
}

// complete issues one provider request with retries and drains the
// response stream. Context cancellation and invalid requests are permanent;
// everything else retries with backoff.
func (l *Loop) complete(ctx context.Context, messages []*models.Message) (*modelTurn, error) {
	req := &CompletionRequest{
		Model:          l.config.Model,
		Messages:       messages,
		Tools:          l.scheduler.registry.List(),
		MaxTokens:      l.config.MaxTokens,
		EnableThinking: l.config.EnableThinking,
	}

	turn, res := retry.DoWithValue(ctx, l.config.Retry, func() (*modelTurn, error) {
		chunks, err := l.provider.Complete(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, retry.Permanent(ctx.Err())
			}
			return nil, err
		}
		return l.drain(ctx, chunks)
	})
	if res.Err != nil {
		if res.Attempts > 1 {
			l.logger.Warn("provider request failed after retries",
				"attempts", res.Attempts,
				"error", res.Err,
			)
		}
		var perm *retry.PermanentError
		if errors.As(res.Err, &perm) {
			return nil, perm.Err
		}
		return nil, res.Err
	}
	return turn, nil
}

// drain consumes a completion stream, emitting thinking events as the
// reasoning arrives.
func (l *Loop) drain(ctx context.Context, chunks <-chan *CompletionChunk) (*modelTurn, error) {
	turn := &modelTurn{}
	var text, thinking strings.Builder
	thinkingStarted := false

	for chunk := range chunks {
		if chunk == nil {
			continue
		}
		if chunk.Err != nil {
			if ctx.Err() != nil {
				return nil, retry.Permanent(ctx.Err())
			}
			return nil, chunk.Err
		}
		if chunk.Thinking != "" {
			if !thinkingStarted {
				thinkingStarted = true
				l.stream.Emit(models.ExecutionEvent{Type: models.EventThinkingStart})
			}
			thinking.WriteString(chunk.Thinking)
			l.stream.Emit(models.ExecutionEvent{
				Type:     models.EventThinkingDelta,
				Thinking: &models.ThinkingEventPayload{Delta: chunk.Thinking},
			})
		}
		if chunk.Text != "" {
			text.WriteString(chunk.Text)
		}
		if chunk.ToolCall != nil {
			tc := *chunk.ToolCall
			if tc.ID == "" {
				tc.ID = uuid.NewString()
			}
			turn.toolCalls = append(turn.toolCalls, tc)
		}
		if chunk.Usage != nil {
			turn.usage = chunk.Usage
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, retry.Permanent(err)
	}

	turn.text = text.String()
	turn.thinking = thinking.String()
	if thinkingStarted {
		l.stream.Emit(models.ExecutionEvent{
			Type:     models.EventThinkingComplete,
			Thinking: &models.ThinkingEventPayload{Final: turn.thinking},
		})
	}
	return turn, nil
}

// isRetriableTurnError reports whether the host may usefully retry the
// whole turn. Overflow is recoverable by compressing or starting fresh;
// provider failures may be transient.
func isRetriableTurnError(err error) bool {
	var overflow *agentctx.OverflowError
	if errors.As(err, &overflow) {
		return true
	}
	var loopErr *LoopError
	if errors.As(err, &loopErr) && loopErr.Phase == PhaseRequest {
		return true
	}
	return false
}

// NewUserMessage builds a user message for a turn.
func NewUserMessage(content string) *models.Message {
	return &models.Message{
		ID:        uuid.NewString(),
		Role:      models.RoleUser,
		Content:   content,
		CreatedAt: time.Now(),
	}
}
