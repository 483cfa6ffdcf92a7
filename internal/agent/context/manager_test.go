package context

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/haasonsaas/conductor/pkg/models"
)

type fakeCheckpointStore struct {
	mu     sync.Mutex
	saved  []*models.Checkpoint
	saveEr error
}

func (s *fakeCheckpointStore) SaveCheckpoint(ctx context.Context, cp *models.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveEr != nil {
		return s.saveEr
	}
	s.saved = append(s.saved, cp)
	return nil
}

func (s *fakeCheckpointStore) DeleteCheckpoint(ctx context.Context, sessionID string) error {
	return nil
}

func newTestManager(limit int, store CheckpointStore) *Manager {
	c := NewCompressor(fixedSummarizer("<summary>compacted</summary>"))
	return NewManager("sess-1", limit, DefaultThresholds(), c, store)
}

func TestManager_AssemblyOrder(t *testing.T) {
	m := newTestManager(128000, nil)
	m.SetSystemPrompt("you are an agent")
	m.LoadHistory([]*models.Message{userMsg("earlier"), assistantMsg("noted")})
	m.SetPendingInput(userMsg("now do this"))
	m.AddTurnMessage(assistantMsg("working on it"))

	got := m.GetContext(context.Background(), false)

	wantRoles := []models.Role{
		models.RoleSystem,
		models.RoleUser,
		models.RoleAssistant,
		models.RoleUser,
		models.RoleAssistant,
	}
	if len(got) != len(wantRoles) {
		t.Fatalf("len(context) = %d, want %d", len(got), len(wantRoles))
	}
	for i, role := range wantRoles {
		if got[i].Role != role {
			t.Errorf("context[%d].Role = %q, want %q", i, got[i].Role, role)
		}
	}
	if got[0].Content != "you are an agent" {
		t.Errorf("system prompt = %q", got[0].Content)
	}
	if got[3].Content != "now do this" {
		t.Errorf("pending input position wrong: %q", got[3].Content)
	}
}

func TestManager_GetContextAlwaysSanitizes(t *testing.T) {
	m := newTestManager(128000, nil)
	m.SetPendingInput(userMsg("go"))
	// An incomplete tool call in the turn buffer must not reach the model.
	m.AddTurnMessage(assistantMsg("", "c1"))

	got := m.GetContext(context.Background(), false)
	if valid, errs := Validate(got); !valid {
		t.Fatalf("assembled context is invalid: %v", errs)
	}
	for _, msg := range got {
		if len(msg.ToolCalls) > 0 {
			t.Error("incomplete tool call survived sanitization")
		}
	}
}

func TestManager_FinishTurnArchivesInOrder(t *testing.T) {
	m := newTestManager(128000, nil)
	m.SetPendingInput(userMsg("input"))
	m.AddTurnMessage(assistantMsg("", "c1"))
	m.AddTurnMessage(toolMsg("c1", "out"))
	m.AddTurnMessage(assistantMsg("done"))

	m.FinishTurn()

	history := m.History()
	if len(history) != 4 {
		t.Fatalf("len(history) = %d, want 4", len(history))
	}
	if history[0].Content != "input" {
		t.Errorf("history[0] = %q, want pending input first", history[0].Content)
	}
	if history[3].Content != "done" {
		t.Errorf("history[3] = %q, want final assistant message", history[3].Content)
	}

	// Buffers are cleared: a second FinishTurn is a no-op.
	m.FinishTurn()
	if got := len(m.History()); got != 4 {
		t.Errorf("len(history) after second FinishTurn = %d, want 4", got)
	}
}

func TestManager_CancelTurnDropsTornUnit(t *testing.T) {
	m := newTestManager(128000, nil)
	m.SetPendingInput(userMsg("input"))
	m.AddTurnMessage(assistantMsg("partial", "c1"))
	// Cancelled before the tool response arrived.

	m.CancelTurn()

	history := m.History()
	if len(history) != 1 {
		t.Fatalf("len(history) = %d, want 1", len(history))
	}
	if history[0].Content != "input" {
		t.Errorf("history[0] = %q, want the user input", history[0].Content)
	}
	if valid, errs := Validate(history); !valid {
		t.Errorf("history invalid after CancelTurn: %v", errs)
	}
}

func TestManager_CancelTurnKeepsCompleteUnits(t *testing.T) {
	m := newTestManager(128000, nil)
	m.SetPendingInput(userMsg("input"))
	m.AddTurnMessage(assistantMsg("", "c1"))
	m.AddTurnMessage(toolMsg("c1", "out"))
	m.AddTurnMessage(assistantMsg("", "c2"))

	m.CancelTurn()

	history := m.History()
	if len(history) != 3 {
		t.Fatalf("len(history) = %d, want 3 (complete unit kept, torn call dropped)", len(history))
	}
	if valid, errs := Validate(history); !valid {
		t.Errorf("history invalid after CancelTurn: %v", errs)
	}
}

func TestManager_CompressionTriggerPersistsCheckpoint(t *testing.T) {
	store := &fakeCheckpointStore{}
	// Tiny model limit so the history trivially crosses the 0.70 trigger.
	m := newTestManager(200, store)

	history := make([]*models.Message, 0, 10)
	for i := 0; i < 10; i++ {
		msg := userMsg(strings.Repeat("w", 160))
		msg.ID = "m" + string(rune('0'+i))
		history = append(history, msg)
	}
	m.LoadHistory(history)

	var cbBefore int
	var cbResult CompressResult
	m.SetCompressionCallback(func(before int, result CompressResult) {
		cbBefore = before
		cbResult = result
	})

	got := m.GetContext(context.Background(), true)

	if !cbResult.Compressed {
		t.Fatal("compression callback did not observe a compression")
	}
	if cbBefore == 0 {
		t.Error("callback before-tokens = 0")
	}
	if !IsSummaryMessage(got[0]) {
		t.Error("compressed context does not start with the summary")
	}
	if len(store.saved) != 1 {
		t.Fatalf("checkpoints saved = %d, want 1", len(store.saved))
	}
	cp := store.saved[0]
	if cp.SessionID != "sess-1" {
		t.Errorf("checkpoint SessionID = %q, want sess-1", cp.SessionID)
	}
	if !strings.Contains(cp.Summary, "compacted") {
		t.Errorf("checkpoint Summary = %q, missing summary text", cp.Summary)
	}
	if strings.Contains(cp.Summary, "Summary of the conversation so far") {
		t.Errorf("checkpoint Summary = %q, carries the message framing", cp.Summary)
	}
	if cp.LoadAfterMessageID == "" {
		t.Error("checkpoint LoadAfterMessageID empty")
	}
	if m.Stats().Compressions != 1 {
		t.Errorf("Stats().Compressions = %d, want 1", m.Stats().Compressions)
	}
}

func TestManager_CheckpointSummaryFramedOnceOnResume(t *testing.T) {
	store := &fakeCheckpointStore{}
	m := newTestManager(200, store)
	history := make([]*models.Message, 0, 10)
	for i := 0; i < 10; i++ {
		msg := userMsg(strings.Repeat("w", 160))
		msg.ID = "m" + string(rune('0'+i))
		history = append(history, msg)
	}
	m.LoadHistory(history)

	compressed := m.GetContext(context.Background(), true)
	if len(store.saved) != 1 {
		t.Fatalf("checkpoints saved = %d, want 1", len(store.saved))
	}

	// Resuming from the checkpoint must produce the same framing as the
	// live compression, not a doubly framed summary.
	resumed := newTestManager(200, nil)
	resumed.LoadWithSummary(store.saved[0].Summary, nil)

	const framing = "Summary of the conversation so far"
	live := compressed[0].Content
	got := resumed.History()[0].Content
	if strings.Count(got, framing) != 1 {
		t.Errorf("resumed summary framed %d times, want 1: %q", strings.Count(got, framing), got)
	}
	if got != live {
		t.Errorf("resumed summary = %q, want %q", got, live)
	}
}

func TestManager_CompressionBeginCallbackFiresFirst(t *testing.T) {
	m := newTestManager(200, nil)
	history := make([]*models.Message, 0, 10)
	for i := 0; i < 10; i++ {
		history = append(history, userMsg(strings.Repeat("w", 160)))
	}
	m.LoadHistory(history)

	var order []string
	var beginTokens, beginMessages int
	m.SetCompressionBeginCallback(func(tokens, messages int) {
		order = append(order, "begin")
		beginTokens = tokens
		beginMessages = messages
	})
	m.SetCompressionCallback(func(before int, result CompressResult) {
		order = append(order, "complete")
	})

	m.GetContext(context.Background(), true)

	if len(order) != 2 || order[0] != "begin" || order[1] != "complete" {
		t.Fatalf("callback order = %v, want [begin complete]", order)
	}
	if beginTokens == 0 {
		t.Error("begin callback tokens = 0")
	}
	if beginMessages != 10 {
		t.Errorf("begin callback messages = %d, want 10", beginMessages)
	}
}

func TestManager_NoCompressionBelowTrigger(t *testing.T) {
	store := &fakeCheckpointStore{}
	m := newTestManager(128000, store)
	m.LoadHistory([]*models.Message{userMsg("small"), assistantMsg("talk")})

	m.GetContext(context.Background(), true)

	if len(store.saved) != 0 {
		t.Errorf("checkpoints saved = %d, want 0", len(store.saved))
	}
	if got := len(m.History()); got != 2 {
		t.Errorf("len(history) = %d, want 2", got)
	}
}

func TestManager_IsOverflow(t *testing.T) {
	m := newTestManager(100, nil)
	if m.IsOverflow() {
		t.Error("empty context reports overflow")
	}
	m.LoadHistory([]*models.Message{userMsg(strings.Repeat("x", 800))})
	if !m.IsOverflow() {
		t.Error("oversized context does not report overflow")
	}
}

func TestManager_LoadWithSummary(t *testing.T) {
	m := newTestManager(128000, nil)
	tail := []*models.Message{userMsg("recent"), assistantMsg("reply")}

	m.LoadWithSummary("prior work summary", tail)

	history := m.History()
	if len(history) != 3 {
		t.Fatalf("len(history) = %d, want 3", len(history))
	}
	if !IsSummaryMessage(history[0]) {
		t.Error("history[0] is not a summary message")
	}
	if !strings.Contains(history[0].Content, "prior work summary") {
		t.Errorf("summary content = %q", history[0].Content)
	}
	if history[1].Content != "recent" || history[2].Content != "reply" {
		t.Error("tail not preserved verbatim after summary")
	}
}

func TestManager_UsageIncludesAllSegments(t *testing.T) {
	m := newTestManager(128000, nil)
	base := m.Usage()
	m.SetSystemPrompt(strings.Repeat("s", 400))
	withSystem := m.Usage()
	if withSystem <= base {
		t.Errorf("usage did not grow with system prompt: %d -> %d", base, withSystem)
	}
	m.SetPendingInput(userMsg(strings.Repeat("p", 400)))
	withPending := m.Usage()
	if withPending <= withSystem {
		t.Errorf("usage did not grow with pending input: %d -> %d", withSystem, withPending)
	}
	m.AddTurnMessage(assistantMsg(strings.Repeat("t", 400)))
	if got := m.Usage(); got <= withPending {
		t.Errorf("usage did not grow with turn messages: %d -> %d", withPending, got)
	}
}

func TestNormalizeThresholds(t *testing.T) {
	got := normalizeThresholds(Thresholds{})
	want := DefaultThresholds()
	if got != want {
		t.Errorf("normalizeThresholds(zero) = %+v, want defaults %+v", got, want)
	}

	custom := Thresholds{
		CompressionTrigger:      0.5,
		CompressionPreserve:     0.2,
		OverflowWarning:         0.9,
		ToolOutputSummaryTokens: 1000,
	}
	if got := normalizeThresholds(custom); got != custom {
		t.Errorf("normalizeThresholds(custom) = %+v, want unchanged", got)
	}
}
