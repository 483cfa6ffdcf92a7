package context

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/haasonsaas/conductor/pkg/models"
)

// Thresholds configures the context budget gates, expressed as fractions of
// the model's token limit unless noted.
type Thresholds struct {
	// CompressionTrigger is the usage fraction that triggers summarization.
	// Default: 0.70.
	CompressionTrigger float64 `yaml:"compression_trigger" json:"compression_trigger"`

	// CompressionPreserve is the fraction of history kept verbatim after
	// compression. Default: 0.30.
	CompressionPreserve float64 `yaml:"compression_preserve" json:"compression_preserve"`

	// OverflowWarning is the usage fraction beyond which a request is
	// refused outright. Default: 0.95.
	OverflowWarning float64 `yaml:"overflow_warning" json:"overflow_warning"`

	// ToolOutputSummaryTokens is the absolute token count above which a
	// single tool's output is summarized. Default: 2000.
	ToolOutputSummaryTokens int `yaml:"tool_output_summary_tokens" json:"tool_output_summary_tokens"`
}

// DefaultThresholds returns the default context thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		CompressionTrigger:      0.70,
		CompressionPreserve:     0.30,
		OverflowWarning:         0.95,
		ToolOutputSummaryTokens: 2000,
	}
}

func normalizeThresholds(t Thresholds) Thresholds {
	defaults := DefaultThresholds()
	if t.CompressionTrigger <= 0 || t.CompressionTrigger >= 1 {
		t.CompressionTrigger = defaults.CompressionTrigger
	}
	if t.CompressionPreserve <= 0 || t.CompressionPreserve >= 1 {
		t.CompressionPreserve = defaults.CompressionPreserve
	}
	if t.OverflowWarning <= 0 || t.OverflowWarning > 1 {
		t.OverflowWarning = defaults.OverflowWarning
	}
	if t.ToolOutputSummaryTokens <= 0 {
		t.ToolOutputSummaryTokens = defaults.ToolOutputSummaryTokens
	}
	return t
}

// CheckpointStore is the slice of the session store the context manager
// needs to persist compression artifacts.
type CheckpointStore interface {
	SaveCheckpoint(ctx context.Context, checkpoint *models.Checkpoint) error
	DeleteCheckpoint(ctx context.Context, sessionID string) error
}

// CompressionCallback observes compression passes. before is the token count
// ahead of the attempt; the result carries the after counts.
type CompressionCallback func(before int, result CompressResult)

// CompressionBeginCallback observes the start of a compression pass with the
// token and message counts about to be summarized.
type CompressionBeginCallback func(tokens, messages int)

// Manager owns the conversational context for one session: the system
// prompt, the archived history, the pending user input, and the in-progress
// turn buffer. No other component mutates these message lists. All access
// must stay on one logical sequence of control (the agent loop goroutine) or
// be externally serialized; the internal mutex only protects against
// accidental cross-goroutine reads.
type Manager struct {
	mu sync.Mutex

	sessionID    string
	modelLimit   int
	thresholds   Thresholds
	compressor   *Compressor
	store        CheckpointStore
	systemPrompt string

	history      []*models.Message
	pendingInput *models.Message
	turnMessages []*models.Message

	stats models.RunStats

	onCompression      CompressionCallback
	onCompressionBegin CompressionBeginCallback
}

// NewManager creates a context manager for one session. modelLimit is the
// model's context window in tokens; store may be nil when checkpoint
// persistence is not wanted (tests, ephemeral sessions).
func NewManager(sessionID string, modelLimit int, thresholds Thresholds, compressor *Compressor, store CheckpointStore) *Manager {
	if modelLimit <= 0 {
		modelLimit = 128000
	}
	return &Manager{
		sessionID:  sessionID,
		modelLimit: modelLimit,
		thresholds: normalizeThresholds(thresholds),
		compressor: compressor,
		store:      store,
	}
}

// SetSystemPrompt sets the system prompt included at the head of every
// assembled context.
func (m *Manager) SetSystemPrompt(prompt string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.systemPrompt = prompt
}

// SetCompressionCallback registers an observer for compression passes.
func (m *Manager) SetCompressionCallback(fn CompressionCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onCompression = fn
}

// SetCompressionBeginCallback registers an observer invoked before each
// compression pass starts.
func (m *Manager) SetCompressionBeginCallback(fn CompressionBeginCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onCompressionBegin = fn
}

// SetPendingInput stages the user input for the current turn. It is not part
// of history until FinishTurn archives it.
func (m *Manager) SetPendingInput(msg *models.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pendingInput = msg
}

// AddTurnMessage appends a message to the in-progress turn buffer
// (assistant output, tool responses).
func (m *Manager) AddTurnMessage(msg *models.Message) {
	if msg == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turnMessages = append(m.turnMessages, msg)
}

// AddStats accumulates token/cost counters; persisted with checkpoints.
func (m *Manager) AddStats(stats models.RunStats) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.Add(stats)
}

// Stats returns the cumulative session stats.
func (m *Manager) Stats() models.RunStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// History returns a copy of the archived history.
func (m *Manager) History() []*models.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Message, len(m.history))
	copy(out, m.history)
	return out
}

// Usage returns the estimated token cost of the currently assembled context.
func (m *Manager) Usage() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return EstimateMessages(m.assembleLocked())
}

// IsOverflow reports whether usage has crossed the overflow threshold.
// Callers must refuse to issue the LLM request in this case and surface a
// recoverable error instead of calling the model.
func (m *Manager) IsOverflow() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	usage := EstimateMessages(m.assembleLocked())
	return float64(usage) >= m.thresholds.OverflowWarning*float64(m.modelLimit)
}

// GetContext assembles the message list for the next model call in the
// fixed order [systemPrompt, history..., pendingInput, turnMessages...] and
// always returns the sanitized list, never the raw concatenation. When
// autoCompress is set and usage has crossed the compression trigger, the
// stored history is compressed first and the outcome persisted as a
// checkpoint.
func (m *Manager) GetContext(ctx context.Context, autoCompress bool) []*models.Message {
	m.mu.Lock()
	usage := EstimateMessages(m.assembleLocked())
	trigger := m.thresholds.CompressionTrigger * float64(m.modelLimit)
	needsCompress := autoCompress && m.compressor != nil && float64(usage) >= trigger
	history := m.history
	preserve := m.thresholds.CompressionPreserve
	m.mu.Unlock()

	if needsCompress {
		m.mu.Lock()
		begin := m.onCompressionBegin
		m.mu.Unlock()
		if begin != nil {
			begin(usage, len(history))
		}

		result, err := m.compressor.Compress(ctx, history, preserve)
		if err != nil {
			// Failing to shrink context is less harmful than failing to
			// respond; proceed with the uncompressed history.
			slog.Warn("history compression failed",
				"session_id", m.sessionID,
				"error", err,
			)
		}
		m.mu.Lock()
		cb := m.onCompression
		if result.Compressed {
			m.history = result.Messages
			m.stats.Compressions++
		}
		stats := m.stats
		m.mu.Unlock()

		if cb != nil {
			cb(usage, result)
		}
		if result.Compressed && m.store != nil {
			checkpoint := &models.Checkpoint{
				SessionID:          m.sessionID,
				Summary:            result.Summary,
				LoadAfterMessageID: result.LastCompressedID,
				CompressedAt:       time.Now(),
				Stats:              stats,
			}
			if err := m.store.SaveCheckpoint(ctx, checkpoint); err != nil {
				slog.Warn("failed to persist compression checkpoint",
					"session_id", m.sessionID,
					"error", err,
				)
			}
		}
	}

	m.mu.Lock()
	assembled := m.assembleLocked()
	m.mu.Unlock()

	sanitized, res := Sanitize(assembled)
	if res.Removed > 0 {
		// Messages were silently dropped to preserve API validity; this is
		// a warning, never an error.
		slog.Warn("sanitizer removed messages from assembled context",
			"session_id", m.sessionID,
			"removed", res.Removed,
			"details", res.Details,
		)
	}
	return sanitized
}

// FinishTurn archives the pending user input and the current turn's messages
// into history and clears both buffers. This is the only path by which
// messages move from the current turn into history; it runs once the turn
// reaches a terminal state.
func (m *Manager) FinishTurn() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pendingInput != nil {
		m.history = append(m.history, m.pendingInput)
	}
	m.history = append(m.history, m.turnMessages...)
	m.pendingInput = nil
	m.turnMessages = nil
}

// CancelTurn sanitizes the now-incomplete turn buffer and then archives it,
// so a torn assistant/tool pair is never persisted into history.
func (m *Manager) CancelTurn() {
	m.mu.Lock()
	defer m.mu.Unlock()
	sanitized, res := Sanitize(m.turnMessages)
	if res.Removed > 0 {
		slog.Warn("sanitizer removed messages from cancelled turn",
			"session_id", m.sessionID,
			"removed", res.Removed,
		)
	}
	if m.pendingInput != nil {
		m.history = append(m.history, m.pendingInput)
	}
	m.history = append(m.history, sanitized...)
	m.pendingInput = nil
	m.turnMessages = nil
}

// LoadWithSummary replaces history wholesale with a summary message followed
// by the verbatim tail. Used when resuming a session from a checkpoint; it
// bypasses the compression trigger since it reconstructs rather than
// compresses.
func (m *Manager) LoadWithSummary(summary string, tail []*models.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	history := make([]*models.Message, 0, len(tail)+1)
	history = append(history, NewSummaryMessage(summary))
	history = append(history, tail...)
	m.history = history
	m.pendingInput = nil
	m.turnMessages = nil
}

// LoadHistory replaces history wholesale with the given messages, used when
// resuming without a checkpoint.
func (m *Manager) LoadHistory(messages []*models.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append([]*models.Message(nil), messages...)
	m.pendingInput = nil
	m.turnMessages = nil
}

// ModelLimit returns the configured model token limit.
func (m *Manager) ModelLimit() int { return m.modelLimit }

// Thresholds returns the normalized threshold configuration.
func (m *Manager) Thresholds() Thresholds { return m.thresholds }

// assembleLocked builds the raw (unsanitized) context. Caller holds mu.
func (m *Manager) assembleLocked() []*models.Message {
	out := make([]*models.Message, 0, len(m.history)+len(m.turnMessages)+2)
	if m.systemPrompt != "" {
		out = append(out, &models.Message{Role: models.RoleSystem, Content: m.systemPrompt})
	}
	out = append(out, m.history...)
	if m.pendingInput != nil {
		out = append(out, m.pendingInput)
	}
	out = append(out, m.turnMessages...)
	return out
}

// OverflowError is returned by callers that refuse to issue an oversized
// request; it tells the host to compress or start a new session.
type OverflowError struct {
	Usage int
	Limit int
}

// Error implements the error interface.
func (e *OverflowError) Error() string {
	return fmt.Sprintf("context usage %d tokens is over the overflow threshold for limit %d; compress the history or start a new session", e.Usage, e.Limit)
}
