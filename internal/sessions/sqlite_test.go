package sessions

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/haasonsaas/conductor/pkg/models"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "conductor.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_SessionRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)

	session := &models.Session{
		ID:       "s1",
		Title:    "sqlite",
		Model:    "m",
		Metadata: map[string]any{"source": "cli"},
	}
	if err := s.Create(ctx, session); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := s.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Title != "sqlite" || got.Model != "m" {
		t.Errorf("session = %+v", got)
	}
	if got.Metadata["source"] != "cli" {
		t.Errorf("Metadata = %v", got.Metadata)
	}

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStore_MessagesPreserveToolFields(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)

	messages := []*models.Message{
		{ID: "m1", Role: models.RoleUser, Content: "run it"},
		{ID: "m2", Role: models.RoleAssistant, ToolCalls: []models.ToolCall{
			{ID: "c1", Name: "shell", Arguments: []byte(`{"command":"ls"}`)},
		}},
		{ID: "m3", Role: models.RoleTool, ToolCallID: "c1", ToolName: "shell", Content: "a.txt"},
	}
	if err := s.SaveMessages(ctx, "s1", messages); err != nil {
		t.Fatalf("SaveMessages failed: %v", err)
	}

	got, err := s.LoadMessages(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("LoadMessages failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("messages = %d, want 3", len(got))
	}
	if len(got[1].ToolCalls) != 1 || got[1].ToolCalls[0].ID != "c1" {
		t.Errorf("tool calls not preserved: %+v", got[1])
	}
	if got[2].ToolCallID != "c1" || got[2].ToolName != "shell" {
		t.Errorf("tool response fields not preserved: %+v", got[2])
	}

	recent, _ := s.LoadMessages(ctx, "s1", 2)
	if len(recent) != 2 || recent[0].ID != "m2" {
		t.Errorf("recent = %v, want [m2 m3]", messageIDs(recent))
	}
}

func TestSQLiteStore_AppendMessages(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)

	if err := s.SaveMessages(ctx, "s1", []*models.Message{msg("m1", "a")}); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendMessages(ctx, "s1", []*models.Message{msg("m2", "b"), msg("m3", "c")}); err != nil {
		t.Fatal(err)
	}

	got, _ := s.LoadMessages(ctx, "s1", 0)
	if len(got) != 3 || got[2].ID != "m3" {
		t.Errorf("messages = %v, want [m1 m2 m3]", messageIDs(got))
	}
}

func TestSQLiteStore_Checkpoints(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)

	cp := &models.Checkpoint{
		SessionID:          "s1",
		Summary:            "summary text",
		LoadAfterMessageID: "m7",
		Stats:              models.RunStats{InputTokens: 1000, Compressions: 1},
	}
	if err := s.SaveCheckpoint(ctx, cp); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}

	got, err := s.LoadCheckpoint(ctx, "s1")
	if err != nil {
		t.Fatalf("LoadCheckpoint failed: %v", err)
	}
	if got.Summary != "summary text" || got.LoadAfterMessageID != "m7" {
		t.Errorf("checkpoint = %+v", got)
	}
	if got.Stats.InputTokens != 1000 {
		t.Errorf("Stats = %+v", got.Stats)
	}

	// Upsert replaces.
	cp.Summary = "newer"
	if err := s.SaveCheckpoint(ctx, cp); err != nil {
		t.Fatal(err)
	}
	got, _ = s.LoadCheckpoint(ctx, "s1")
	if got.Summary != "newer" {
		t.Errorf("Summary = %q, want newer", got.Summary)
	}

	if err := s.DeleteCheckpoint(ctx, "s1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.LoadCheckpoint(ctx, "s1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("after delete = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStore_SessionDataAtomic(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)

	data := &SessionData{
		Session:  &models.Session{ID: "s1", Title: "atomic"},
		Messages: []*models.Message{msg("m1", "a"), msg("m2", "b")},
		Checkpoint: &models.Checkpoint{
			SessionID:          "s1",
			Summary:            "sum",
			LoadAfterMessageID: "m1",
		},
	}
	if err := s.SaveSessionData(ctx, data); err != nil {
		t.Fatalf("SaveSessionData failed: %v", err)
	}

	got, err := s.LoadSessionData(ctx, "s1")
	if err != nil {
		t.Fatalf("LoadSessionData failed: %v", err)
	}
	if got.Session.Title != "atomic" || len(got.Messages) != 2 || got.Checkpoint == nil {
		t.Errorf("data = %+v", got)
	}

	// Second save with fewer messages and no checkpoint replaces everything.
	data.Messages = []*models.Message{msg("n1", "only")}
	data.Checkpoint = nil
	if err := s.SaveSessionData(ctx, data); err != nil {
		t.Fatal(err)
	}
	got, _ = s.LoadSessionData(ctx, "s1")
	if len(got.Messages) != 1 || got.Checkpoint != nil {
		t.Errorf("after resave: messages=%d checkpoint=%v", len(got.Messages), got.Checkpoint)
	}
}

func TestSQLiteStore_DeleteCascades(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)

	data := &SessionData{
		Session:    &models.Session{ID: "s1"},
		Messages:   []*models.Message{msg("m1", "a")},
		Checkpoint: &models.Checkpoint{SessionID: "s1", Summary: "x", LoadAfterMessageID: "m0"},
	}
	if err := s.SaveSessionData(ctx, data); err != nil {
		t.Fatal(err)
	}

	if err := s.Delete(ctx, "s1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Get(ctx, "s1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("session survived delete: %v", err)
	}
	if got, _ := s.LoadMessages(ctx, "s1", 0); len(got) != 0 {
		t.Errorf("messages survived delete: %d", len(got))
	}
	if _, err := s.LoadCheckpoint(ctx, "s1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("checkpoint survived delete: %v", err)
	}
}

func TestSQLiteStore_List(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)

	for _, id := range []string{"a", "b", "c"} {
		if err := s.Create(ctx, &models.Session{ID: id}); err != nil {
			t.Fatal(err)
		}
	}

	out, err := s.List(ctx, ListOptions{Limit: 2})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(out) != 2 {
		t.Errorf("List = %d sessions, want 2", len(out))
	}
}
