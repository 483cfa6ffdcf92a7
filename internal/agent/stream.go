package agent

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/haasonsaas/conductor/pkg/models"
)

// ExecutionPhase summarizes where the current turn is in its lifecycle.
type ExecutionPhase string

const (
	// PhaseIdle means no turn is in progress.
	PhaseIdle ExecutionPhase = "idle"

	// PhaseThinking means the model is producing output.
	PhaseThinking ExecutionPhase = "thinking"

	// PhaseAwaitingApproval means a tool call is blocked on confirmation.
	PhaseAwaitingApproval ExecutionPhase = "awaiting_approval"

	// PhaseExecutingTools means tool calls are running.
	PhaseExecutingTools ExecutionPhase = "executing_tools"
)

// StreamHandler consumes execution events. Handlers run synchronously on
// the emitting goroutine; slow handlers slow the turn down.
type StreamHandler func(event models.ExecutionEvent)

// StreamSnapshot is a point-in-time view of the execution state, for
// late-joining consumers that need current state rather than a replay.
type StreamSnapshot struct {
	Phase        ExecutionPhase  `json:"phase"`
	TurnIndex    int             `json:"turn_index"`
	InFlight     []string        `json:"in_flight_tool_calls,omitempty"`
	LastSequence uint64          `json:"last_sequence"`
	Stats        models.RunStats `json:"stats"`
}

// StreamManager owns the execution event stream for one session. Events are
// delivered synchronously, in emission order, to every subscribed handler.
// A panicking handler is isolated: it never takes down the turn or starves
// the other handlers.
type StreamManager struct {
	mu        sync.Mutex
	sessionID string
	sequence  uint64
	turnIndex int
	phase     ExecutionPhase
	inFlight  map[string]struct{}
	stats     models.RunStats
	handlers  map[int]StreamHandler
	nextID    int
}

// NewStreamManager creates a stream manager for the given session.
func NewStreamManager(sessionID string) *StreamManager {
	return &StreamManager{
		sessionID: sessionID,
		phase:     PhaseIdle,
		inFlight:  make(map[string]struct{}),
		handlers:  make(map[int]StreamHandler),
	}
}

// On subscribes a handler and returns an unsubscribe function. The returned
// function is idempotent.
func (s *StreamManager) On(handler StreamHandler) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.handlers[id] = handler
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.handlers, id)
			s.mu.Unlock()
		})
	}
}

// Snapshot returns the current execution state.
func (s *StreamManager) Snapshot() StreamSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	inFlight := make([]string, 0, len(s.inFlight))
	for id := range s.inFlight {
		inFlight = append(inFlight, id)
	}
	return StreamSnapshot{
		Phase:        s.phase,
		TurnIndex:    s.turnIndex,
		InFlight:     inFlight,
		LastSequence: s.sequence,
		Stats:        s.stats,
	}
}

// SetTurn updates the turn index stamped on subsequent events.
func (s *StreamManager) SetTurn(turnIndex int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turnIndex = turnIndex
}

// AddStats accumulates run stats reflected in snapshots.
func (s *StreamManager) AddStats(stats models.RunStats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Add(stats)
}

// Emit stamps the event with version, time, sequence, and session identity,
// updates the snapshot state, and delivers it to every handler in order.
// The stamped event is returned.
func (s *StreamManager) Emit(event models.ExecutionEvent) models.ExecutionEvent {
	s.mu.Lock()
	s.sequence++
	event.Version = 1
	event.Sequence = s.sequence
	event.SessionID = s.sessionID
	event.TurnIndex = s.turnIndex
	if event.Time.IsZero() {
		event.Time = time.Now()
	}
	s.applyLocked(event)

	handlers := make([]StreamHandler, 0, len(s.handlers))
	ids := make([]int, 0, len(s.handlers))
	for id := range s.handlers {
		ids = append(ids, id)
	}
	// Map iteration order is random; deliver in subscription order.
	sort.Ints(ids)
	for _, id := range ids {
		handlers = append(handlers, s.handlers[id])
	}
	s.mu.Unlock()

	for _, h := range handlers {
		s.deliver(h, event)
	}
	return event
}

// deliver invokes one handler, recovering from panics so one bad consumer
// cannot break delivery to the rest.
func (s *StreamManager) deliver(h StreamHandler, event models.ExecutionEvent) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("execution stream handler panicked",
				"session_id", s.sessionID,
				"event_type", event.Type,
				"panic", r,
			)
		}
	}()
	h(event)
}

// applyLocked folds an event into the snapshot state. Caller holds mu.
func (s *StreamManager) applyLocked(event models.ExecutionEvent) {
	switch event.Type {
	case models.EventExecutionStart, models.EventThinkingStart:
		s.phase = PhaseThinking
	case models.EventToolAwaitingApproval:
		s.phase = PhaseAwaitingApproval
	case models.EventToolExecuting:
		s.phase = PhaseExecutingTools
		if event.Tool != nil {
			s.inFlight[event.Tool.CallID] = struct{}{}
		}
	case models.EventToolComplete, models.EventToolError, models.EventToolCancelled:
		if event.Tool != nil {
			delete(s.inFlight, event.Tool.CallID)
		}
		if len(s.inFlight) == 0 && s.phase == PhaseExecutingTools {
			s.phase = PhaseThinking
		}
	case models.EventExecutionComplete, models.EventExecutionError, models.EventExecutionCancel:
		s.phase = PhaseIdle
		for id := range s.inFlight {
			delete(s.inFlight, id)
		}
	}
}

// EmitToolEvent is a convenience wrapper for tool lifecycle transitions.
func (s *StreamManager) EmitToolEvent(eventType models.ExecutionEventType, payload models.ToolEventPayload) models.ExecutionEvent {
	return s.Emit(models.ExecutionEvent{
		Type: eventType,
		Tool: &payload,
	})
}

// EmitError emits an execution:error event for err.
func (s *StreamManager) EmitError(err error, retriable bool) models.ExecutionEvent {
	return s.Emit(models.ExecutionEvent{
		Type: models.EventExecutionError,
		Error: &models.ErrorEventPayload{
			Message:   err.Error(),
			Retriable: retriable,
		},
	})
}
