package agent

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	agentctx "github.com/haasonsaas/conductor/internal/agent/context"
	"github.com/haasonsaas/conductor/internal/sessions"
	"github.com/haasonsaas/conductor/pkg/models"
)

// SessionConfig bundles everything needed to construct a session.
type SessionConfig struct {
	// SystemPrompt is the fixed head of every assembled context.
	SystemPrompt string

	// ModelLimit is the model's context window in tokens. 0 uses the
	// provider's reported window, falling back to a conservative default.
	ModelLimit int

	// Thresholds configures the context budget gates.
	Thresholds agentctx.Thresholds

	// ApprovalMode sets the initial tool approval mode.
	ApprovalMode ApprovalMode

	// Scheduler configures tool scheduling.
	Scheduler SchedulerConfig

	// Loop configures the agentic loop.
	Loop LoopConfig

	// Logger receives structured logs. Defaults to slog.Default().
	Logger *slog.Logger
}

// Session is the caller-owned orchestration unit: one conversation, its
// context manager, scheduler, and event stream. The caller creates it,
// submits turns, and disposes it; nothing here self-destructs in the
// background.
//
// One turn runs at a time. SubmitTurn returns ErrTurnInProgress when a
// turn is already active; use Steer to queue input for the running turn or
// FollowUp to queue a whole next turn.
type Session struct {
	id     string
	store  sessions.Store
	logger *slog.Logger

	contexts  *agentctx.Manager
	scheduler *Scheduler
	approver  *Approver
	stream    *StreamManager
	loop      *Loop

	mu        sync.Mutex
	active    bool
	disposed  bool
	turnIndex int
	cancel    context.CancelFunc
	steering  []*models.Message
	followUps []*models.Message
}

// NewSession constructs a session. store may be nil for ephemeral sessions;
// summarizer may be nil to disable compression and output summarization.
func NewSession(id string, provider LLMProvider, registry *ToolRegistry, store sessions.Store, summarizer agentctx.Summarizer, cfg SessionConfig) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("session_id", id)

	modelLimit := cfg.ModelLimit
	if modelLimit <= 0 && provider != nil {
		modelLimit = provider.ContextWindow(cfg.Loop.Model)
	}

	var compressor *agentctx.Compressor
	if summarizer != nil {
		compressor = agentctx.NewCompressor(summarizer)
	}
	var checkpoints agentctx.CheckpointStore
	if store != nil {
		checkpoints = store
	}
	contexts := agentctx.NewManager(id, modelLimit, cfg.Thresholds, compressor, checkpoints)
	contexts.SetSystemPrompt(cfg.SystemPrompt)

	stream := NewStreamManager(id)
	approver := NewApprover(cfg.ApprovalMode)
	if cfg.Scheduler.OutputSummaryTokens <= 0 {
		cfg.Scheduler.OutputSummaryTokens = contexts.Thresholds().ToolOutputSummaryTokens
	}
	scheduler := NewScheduler(registry, approver, stream, summarizer, cfg.Scheduler)
	loop := NewLoop(provider, contexts, scheduler, stream, cfg.Loop, logger)

	contexts.SetCompressionBeginCallback(func(tokens, messages int) {
		stream.Emit(models.ExecutionEvent{
			Type: models.EventCompressionStart,
			Compression: &models.CompressionEventPayload{
				TokensBefore:   tokens,
				MessagesBefore: messages,
			},
		})
	})
	contexts.SetCompressionCallback(func(before int, result agentctx.CompressResult) {
		stream.Emit(models.ExecutionEvent{
			Type: models.EventCompressionComplete,
			Compression: &models.CompressionEventPayload{
				TokensBefore:   result.TokensBefore,
				TokensAfter:    result.TokensAfter,
				MessagesBefore: result.MessagesBefore,
				MessagesAfter:  result.MessagesAfter,
				Compressed:     result.Compressed,
			},
		})
	})

	return &Session{
		id:        id,
		store:     store,
		logger:    logger,
		contexts:  contexts,
		scheduler: scheduler,
		approver:  approver,
		stream:    stream,
		loop:      loop,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Stream returns the execution event stream.
func (s *Session) Stream() *StreamManager { return s.stream }

// Approver returns the approval controller, for hosts to register their
// confirmation callback and adjust the mode.
func (s *Session) Approver() *Approver { return s.approver }

// Contexts returns the context manager.
func (s *Session) Contexts() *agentctx.Manager { return s.contexts }

// Resume loads persisted state from the store. With a valid checkpoint the
// context is rebuilt as summary plus tail; when the checkpoint references a
// message that no longer exists, it is discarded and the full history loads
// instead.
func (s *Session) Resume(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	data, err := s.store.LoadSessionData(ctx, s.id)
	if errors.Is(err, sessions.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	summary, tail, ok := sessions.ResumePoint(data.Messages, data.Checkpoint)
	if ok {
		s.contexts.LoadWithSummary(summary, tail)
		return nil
	}
	if data.Checkpoint != nil {
		// The checkpoint no longer lines up with stored history; drop it
		// rather than resume from a wrong anchor.
		s.logger.Warn("checkpoint does not match stored history, ignoring",
			"load_after_message_id", data.Checkpoint.LoadAfterMessageID,
		)
		if err := s.store.DeleteCheckpoint(ctx, s.id); err != nil {
			s.logger.Warn("failed to delete stale checkpoint", "error", err)
		}
	}
	s.contexts.LoadHistory(data.Messages)
	return nil
}

// SubmitTurn runs one turn to completion, then any queued follow-ups.
// It persists the session after each turn and returns the last turn's
// result. Only one SubmitTurn runs at a time.
func (s *Session) SubmitTurn(ctx context.Context, input string) (*TurnResult, error) {
	msg := NewUserMessage(input)

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil, ErrSessionDisposed
	}
	if s.active {
		s.mu.Unlock()
		return nil, ErrTurnInProgress
	}
	s.active = true
	turnCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		s.active = false
		s.cancel = nil
		s.mu.Unlock()
	}()

	result, err := s.runTurn(turnCtx, msg)
	for err == nil {
		next := s.dequeueFollowUp()
		if next == nil {
			break
		}
		result, err = s.runTurn(turnCtx, next)
	}
	return result, err
}

// runTurn executes a single turn, draining steering input into the turn
// buffer first, and persists afterwards.
func (s *Session) runTurn(ctx context.Context, input *models.Message) (*TurnResult, error) {
	s.mu.Lock()
	s.turnIndex++
	turn := s.turnIndex
	steering := s.steering
	s.steering = nil
	s.mu.Unlock()

	s.stream.SetTurn(turn)
	for _, msg := range steering {
		s.contexts.AddTurnMessage(msg)
	}

	result, err := s.loop.RunTurn(ctx, input)
	if persistErr := s.persist(); persistErr != nil {
		s.logger.Warn("failed to persist session", "error", persistErr)
	}
	return result, err
}

// Steer queues user input for injection into the running turn's context.
// If no turn is running, the input is queued for the next one.
func (s *Session) Steer(input string) {
	msg := NewUserMessage(input)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steering = append(s.steering, msg)
}

// FollowUp queues a complete next turn, run after the current one finishes.
func (s *Session) FollowUp(input string) {
	msg := NewUserMessage(input)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.followUps = append(s.followUps, msg)
}

func (s *Session) dequeueFollowUp() *models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.followUps) == 0 {
		return nil
	}
	next := s.followUps[0]
	s.followUps = s.followUps[1:]
	return next
}

// Cancel aborts the running turn, if any. The loop sanitizes the partial
// turn before archiving it, so cancellation never corrupts history.
func (s *Session) Cancel() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Snapshot returns the current execution state.
func (s *Session) Snapshot() StreamSnapshot {
	return s.stream.Snapshot()
}

// Dispose cancels any running turn, persists final state, and marks the
// session unusable. Idempotent.
func (s *Session) Dispose(ctx context.Context) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil
	}
	s.disposed = true
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return s.persist()
}

// persist writes the session record and history to the store atomically.
func (s *Session) persist() error {
	if s.store == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	history := s.contexts.History()
	data := &sessions.SessionData{
		Session: &models.Session{
			ID:    s.id,
			Title: sessionTitle(history),
			Model: s.loop.config.Model,
		},
		Messages: history,
	}
	if checkpoint, err := s.store.LoadCheckpoint(ctx, s.id); err == nil {
		data.Checkpoint = checkpoint
	}
	return s.store.SaveSessionData(ctx, data)
}

// sessionTitle derives a display title from the first user message.
func sessionTitle(history []*models.Message) string {
	const maxTitle = 80
	for _, msg := range history {
		if msg.Role != models.RoleUser || msg.Content == "" {
			continue
		}
		if agentctx.IsSummaryMessage(msg) {
			continue
		}
		title := msg.Content
		if len(title) > maxTitle {
			title = title[:maxTitle] + "..."
		}
		return title
	}
	return ""
}
