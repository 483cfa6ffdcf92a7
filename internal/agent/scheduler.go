package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	agentctx "github.com/haasonsaas/conductor/internal/agent/context"
	"github.com/haasonsaas/conductor/pkg/models"
)

// ToolCallState is a tool call's position in the scheduling state machine.
// Transitions only move forward: validating, awaiting_approval, scheduled,
// executing, then exactly one terminal state.
type ToolCallState string

const (
	// StateValidating means arguments are being parsed and schema-checked.
	StateValidating ToolCallState = "validating"

	// StateAwaitingApproval means the call is blocked on user confirmation.
	StateAwaitingApproval ToolCallState = "awaiting_approval"

	// StateScheduled means the call is approved and queued to run.
	StateScheduled ToolCallState = "scheduled"

	// StateExecuting means the tool is running.
	StateExecuting ToolCallState = "executing"

	// StateSuccess is terminal: the tool completed without error.
	StateSuccess ToolCallState = "success"

	// StateError is terminal: validation, approval, or execution failed.
	StateError ToolCallState = "error"

	// StateCancelled is terminal: the user or the turn cancelled the call.
	StateCancelled ToolCallState = "cancelled"
)

// Terminal reports whether the state is a terminal one.
func (s ToolCallState) Terminal() bool {
	switch s {
	case StateSuccess, StateError, StateCancelled:
		return true
	default:
		return false
	}
}

// ToolCallRecord tracks one tool call through the state machine. RawOutput
// always holds the full tool output even when Result carries a summarized
// form, so audit trails never lose data.
type ToolCallRecord struct {
	Call    models.ToolCall
	State   ToolCallState
	Outcome ConfirmOutcome
	Details *ConfirmDetails

	Result    *models.ToolResult
	RawOutput string
	Err       error

	// Thinking is the model reasoning that accompanied this call. Only the
	// first call of a batch carries it.
	Thinking string

	StartedAt   time.Time
	CompletedAt time.Time
}

// SchedulerConfig tunes tool scheduling behavior.
type SchedulerConfig struct {
	// PerToolTimeout bounds individual tool executions. Default: 5 minutes.
	PerToolTimeout time.Duration

	// SerialDelay is the pause between sequential tool executions, giving
	// hosts a beat to render intermediate output. Default: 500ms.
	SerialDelay time.Duration

	// OutputSummaryTokens is the estimated token count above which a
	// tool's output is summarized before entering context. Default: 2000.
	OutputSummaryTokens int
}

// DefaultSchedulerConfig returns the default scheduling configuration.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		PerToolTimeout:      5 * time.Minute,
		SerialDelay:         500 * time.Millisecond,
		OutputSummaryTokens: 2000,
	}
}

func normalizeSchedulerConfig(cfg SchedulerConfig) SchedulerConfig {
	defaults := DefaultSchedulerConfig()
	if cfg.PerToolTimeout <= 0 {
		cfg.PerToolTimeout = defaults.PerToolTimeout
	}
	if cfg.SerialDelay < 0 {
		cfg.SerialDelay = defaults.SerialDelay
	}
	if cfg.OutputSummaryTokens <= 0 {
		cfg.OutputSummaryTokens = defaults.OutputSummaryTokens
	}
	return cfg
}

// Scheduler runs the tool calls a model emits in one assistant message,
// driving each call through validation, approval, and execution while
// emitting the corresponding stream events. A batch where every tool is
// read-only runs in parallel; any effectful tool forces the whole batch
// sequential, in emission order, with a delay between calls.
type Scheduler struct {
	registry   *ToolRegistry
	approver   *Approver
	stream     *StreamManager
	summarizer agentctx.Summarizer
	config     SchedulerConfig

	mu      sync.Mutex
	records []*ToolCallRecord
}

// NewScheduler creates a scheduler. summarizer may be nil to disable output
// summarization.
func NewScheduler(registry *ToolRegistry, approver *Approver, stream *StreamManager, summarizer agentctx.Summarizer, config SchedulerConfig) *Scheduler {
	return &Scheduler{
		registry:   registry,
		approver:   approver,
		stream:     stream,
		summarizer: summarizer,
		config:     normalizeSchedulerConfig(config),
	}
}

// Records returns the records accumulated since the last Reset.
func (s *Scheduler) Records() []*ToolCallRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*ToolCallRecord, len(s.records))
	copy(out, s.records)
	return out
}

// Reset clears accumulated records. Called at turn boundaries.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
}

// Schedule runs a batch of tool calls and returns one tool response message
// per call, in the same order. thinking is the reasoning text from the
// assistant message that carried the calls; it is attached to the first
// record of the batch. Every call always reaches a terminal state and
// produces a response message, including on cancellation, so the
// conversation never ends up with a dangling tool call.
func (s *Scheduler) Schedule(ctx context.Context, calls []models.ToolCall, thinking string) []*models.Message {
	if len(calls) == 0 {
		return nil
	}

	records := make([]*ToolCallRecord, len(calls))
	for i, call := range calls {
		records[i] = &ToolCallRecord{Call: call, State: StateValidating}
		if i == 0 {
			records[i].Thinking = thinking
		}
	}
	s.mu.Lock()
	s.records = append(s.records, records...)
	s.mu.Unlock()

	// Validate and resolve approval for the whole batch before anything
	// executes, so every validating event precedes the first executing
	// event and approval prompts are not interleaved with running tools.
	allReadOnly := true
	for _, rec := range records {
		s.emitTool(models.EventToolValidating, rec, models.ToolEventPayload{
			ArgsJSON: rec.Call.Arguments,
		})

		tool, ok := s.registry.Get(rec.Call.Name)
		if !ok {
			s.finish(rec, StateError, nil, fmt.Errorf("%w: %s", ErrToolNotFound, rec.Call.Name))
			continue
		}
		normalized, err := s.registry.ValidateArgs(rec.Call.Name, rec.Call.Arguments)
		if err != nil {
			s.finish(rec, StateError, nil, err)
			continue
		}
		rec.Call.Arguments = normalized
		if !IsReadOnly(tool) {
			allReadOnly = false
		}

		if err := s.resolveApproval(ctx, rec, tool); err != nil {
			continue
		}
		rec.State = StateScheduled
	}

	if allReadOnly {
		s.executeParallel(ctx, records)
	} else {
		s.executeSerial(ctx, records)
	}

	messages := make([]*models.Message, len(records))
	for i, rec := range records {
		messages[i] = s.responseMessage(rec)
	}
	return messages
}

// resolveApproval asks the approver for permission to run rec. A non-nil
// return means the record reached a terminal state.
func (s *Scheduler) resolveApproval(ctx context.Context, rec *ToolCallRecord, tool Tool) error {
	var details *ConfirmDetails
	if ct, ok := tool.(ConfirmingTool); ok {
		var err error
		details, err = ct.ConfirmDetails(ctx, rec.Call.Arguments)
		if err != nil {
			s.finish(rec, StateError, nil, NewToolError(rec.Call.Name, err).WithToolCallID(rec.Call.ID))
			return err
		}
		rec.Details = details
		if details == nil {
			rec.Outcome = OutcomeAllow
			return nil
		}
	} else if IsReadOnly(tool) {
		rec.Outcome = OutcomeAllow
		return nil
	} else {
		// An effectful tool that describes no confirmation of its own
		// still needs one.
		details = &ConfirmDetails{
			Kind:  ConfirmOther,
			Title: "Run " + rec.Call.Name,
		}
		rec.Details = details
	}

	// The call only visits awaiting_approval when a user prompt will
	// actually block it. Mode and allowlist short-circuits resolve
	// without surfacing the state.
	if s.approver.RequiresPrompt(rec.Call.Name, details) {
		rec.State = StateAwaitingApproval
		s.emitTool(models.EventToolAwaitingApproval, rec, models.ToolEventPayload{})
	}

	outcome, err := s.approver.Approve(ctx, rec.Call.Name, details)
	rec.Outcome = outcome
	if err != nil || outcome == OutcomeCancel {
		if err == nil {
			err = ErrApprovalDenied
		}
		if errors.Is(err, context.Canceled) {
			s.finish(rec, StateCancelled, nil, err)
		} else {
			s.finish(rec, StateCancelled, nil, fmt.Errorf("%w: %s", ErrApprovalDenied, rec.Call.Name))
		}
		return err
	}
	return nil
}

// executeParallel runs all scheduled records concurrently.
func (s *Scheduler) executeParallel(ctx context.Context, records []*ToolCallRecord) {
	var wg sync.WaitGroup
	for _, rec := range records {
		if rec.State != StateScheduled {
			continue
		}
		wg.Add(1)
		go func(rec *ToolCallRecord) {
			defer wg.Done()
			s.executeOne(ctx, rec)
		}(rec)
	}
	wg.Wait()
}

// executeSerial runs scheduled records one at a time in emission order,
// pausing between executions.
func (s *Scheduler) executeSerial(ctx context.Context, records []*ToolCallRecord) {
	ran := false
	for _, rec := range records {
		if rec.State != StateScheduled {
			continue
		}
		if ran && s.config.SerialDelay > 0 {
			select {
			case <-time.After(s.config.SerialDelay):
			case <-ctx.Done():
			}
		}
		if ctx.Err() != nil {
			s.finish(rec, StateCancelled, nil, ctx.Err())
			continue
		}
		s.executeOne(ctx, rec)
		ran = true
	}
}

// executeOne drives a single scheduled record through execution to a
// terminal state. Tool panics are contained and surfaced as errors.
func (s *Scheduler) executeOne(ctx context.Context, rec *ToolCallRecord) {
	tool, ok := s.registry.Get(rec.Call.Name)
	if !ok {
		s.finish(rec, StateError, nil, fmt.Errorf("%w: %s", ErrToolNotFound, rec.Call.Name))
		return
	}

	rec.State = StateExecuting
	rec.StartedAt = time.Now()
	s.emitTool(models.EventToolExecuting, rec, models.ToolEventPayload{})

	toolCtx, cancel := context.WithTimeout(ctx, s.config.PerToolTimeout)
	defer cancel()

	result, err := s.invoke(toolCtx, tool, rec)
	switch {
	case err != nil && errors.Is(err, context.Canceled):
		s.finish(rec, StateCancelled, result, err)
	case err != nil && errors.Is(err, context.DeadlineExceeded):
		s.finish(rec, StateError, result, fmt.Errorf("%w after %v", ErrToolTimeout, s.config.PerToolTimeout))
	case err != nil:
		s.finish(rec, StateError, result, NewToolError(rec.Call.Name, err).WithToolCallID(rec.Call.ID))
	case result != nil && result.IsError:
		s.finish(rec, StateError, result, nil)
	default:
		s.finish(rec, StateSuccess, result, nil)
	}
}

// invoke calls the tool, routing streaming tools through the progress path
// and recovering panics into errors.
func (s *Scheduler) invoke(ctx context.Context, tool Tool, rec *ToolCallRecord) (result *models.ToolResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("tool panicked",
				"tool", rec.Call.Name,
				"tool_call_id", rec.Call.ID,
				"panic", r,
			)
			result = nil
			err = fmt.Errorf("%w: %s: %v", ErrToolPanic, rec.Call.Name, r)
		}
	}()

	if pt, ok := tool.(ProgressingTool); ok {
		return pt.ExecuteStreaming(ctx, rec.Call.Arguments, func(chunk string) {
			s.emitTool(models.EventToolProgress, rec, models.ToolEventPayload{Output: chunk})
		})
	}
	return tool.Execute(ctx, rec.Call.Arguments)
}

// finish moves a record to a terminal state and emits the matching event.
func (s *Scheduler) finish(rec *ToolCallRecord, state ToolCallState, result *models.ToolResult, err error) {
	rec.State = state
	rec.Result = result
	rec.Err = err
	rec.CompletedAt = time.Now()
	if result != nil {
		rec.RawOutput = result.Content
	}

	payload := models.ToolEventPayload{}
	if result != nil {
		payload.Output = result.Content
	}
	if err != nil {
		payload.Error = err.Error()
	} else if result != nil && result.IsError {
		payload.Error = result.Content
	}
	if !rec.StartedAt.IsZero() {
		payload.DurationMs = rec.CompletedAt.Sub(rec.StartedAt).Milliseconds()
	}

	var eventType models.ExecutionEventType
	switch state {
	case StateSuccess:
		eventType = models.EventToolComplete
	case StateCancelled:
		eventType = models.EventToolCancelled
	default:
		eventType = models.EventToolError
	}
	s.emitTool(eventType, rec, payload)
}

// responseMessage builds the tool response message for a terminal record,
// summarizing oversized output before it enters the conversation.
func (s *Scheduler) responseMessage(rec *ToolCallRecord) *models.Message {
	content := ""
	isError := false
	switch {
	case rec.State == StateCancelled:
		content = "Tool call cancelled by user."
		if rec.Err != nil && !errors.Is(rec.Err, ErrApprovalDenied) {
			content = "Tool call cancelled: " + rec.Err.Error()
		}
		isError = true
	case rec.Err != nil:
		content = rec.Err.Error()
		isError = true
	case rec.Result != nil:
		content = rec.Result.Content
		isError = rec.Result.IsError
	}

	if !isError {
		content = s.maybeSummarize(rec, content)
	}

	return &models.Message{
		Role:       models.RoleTool,
		ToolCallID: rec.Call.ID,
		ToolName:   rec.Call.Name,
		Content:    content,
	}
}

// maybeSummarize replaces oversized tool output with a summary. The raw
// output stays on the record for audit. Summarization failures fall back to
// the raw output untouched.
func (s *Scheduler) maybeSummarize(rec *ToolCallRecord, content string) string {
	if s.summarizer == nil || s.config.OutputSummaryTokens <= 0 {
		return content
	}
	if agentctx.EstimateString(content) <= s.config.OutputSummaryTokens {
		return content
	}

	prompt := fmt.Sprintf(
		"Summarize this output from the %s tool for an AI agent's context. Keep file paths, identifiers, errors, and counts exact.\n\n%s",
		rec.Call.Name, content,
	)
	summaryCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	summary, err := s.summarizer.Summarize(summaryCtx, prompt)
	if err != nil || summary == "" {
		slog.Warn("tool output summarization failed",
			"tool", rec.Call.Name,
			"tool_call_id", rec.Call.ID,
			"error", err,
		)
		return content
	}
	return fmt.Sprintf("[Output summarized from %d chars]\n%s", len(content), summary)
}

func (s *Scheduler) emitTool(eventType models.ExecutionEventType, rec *ToolCallRecord, payload models.ToolEventPayload) {
	if s.stream == nil {
		return
	}
	payload.CallID = rec.Call.ID
	payload.Name = rec.Call.Name
	s.stream.EmitToolEvent(eventType, payload)
}
