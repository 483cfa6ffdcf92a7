package context

import (
	"testing"

	"github.com/haasonsaas/conductor/pkg/models"
)

func userMsg(content string) *models.Message {
	return &models.Message{Role: models.RoleUser, Content: content}
}

func assistantMsg(content string, callIDs ...string) *models.Message {
	msg := &models.Message{Role: models.RoleAssistant, Content: content}
	for _, id := range callIDs {
		msg.ToolCalls = append(msg.ToolCalls, models.ToolCall{
			ID:        id,
			Name:      "list_files",
			Arguments: []byte(`{}`),
		})
	}
	return msg
}

func toolMsg(callID, content string) *models.Message {
	return &models.Message{
		Role:       models.RoleTool,
		ToolCallID: callID,
		ToolName:   "list_files",
		Content:    content,
	}
}

func TestSanitize_ValidSequenceUnchanged(t *testing.T) {
	msgs := []*models.Message{
		userMsg("list files"),
		assistantMsg("", "c1"),
		toolMsg("c1", "[a.txt]"),
		assistantMsg("Found one file."),
	}

	out, res := Sanitize(msgs)
	if res.Removed != 0 {
		t.Fatalf("Removed = %d, want 0 (details: %v)", res.Removed, res.Details)
	}
	if len(out) != len(msgs) {
		t.Fatalf("len(out) = %d, want %d", len(out), len(msgs))
	}
	for i := range msgs {
		if out[i] != msgs[i] {
			t.Errorf("message %d changed identity", i)
		}
	}
}

func TestSanitize_MissingResponseRemovesAssistant(t *testing.T) {
	msgs := []*models.Message{
		userMsg("list files"),
		assistantMsg("", "c1"),
	}

	out, res := Sanitize(msgs)
	if res.Removed != 1 {
		t.Fatalf("Removed = %d, want 1", res.Removed)
	}
	if len(out) != 1 || out[0].Content != "list files" {
		t.Fatalf("out = %v, want just the user message", out)
	}
}

func TestSanitize_AtomicUnitRemoval(t *testing.T) {
	// Three calls, response for c2 missing: the assistant message and both
	// present responses must go, never a partial subset.
	msgs := []*models.Message{
		userMsg("do three things"),
		assistantMsg("", "c1", "c2", "c3"),
		toolMsg("c1", "ok"),
		toolMsg("c3", "ok"),
		userMsg("next"),
	}

	out, res := Sanitize(msgs)
	if res.Removed != 3 {
		t.Fatalf("Removed = %d, want 3 (details: %v)", res.Removed, res.Details)
	}
	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2", len(out))
	}
	for _, m := range out {
		if m.Role != models.RoleUser {
			t.Errorf("unexpected surviving role %q", m.Role)
		}
	}
}

func TestSanitize_OrphanToolMessageRemoved(t *testing.T) {
	msgs := []*models.Message{
		userMsg("hello"),
		toolMsg("ghost", "orphaned output"),
		assistantMsg("hi"),
	}

	out, res := Sanitize(msgs)
	if res.Removed != 1 {
		t.Fatalf("Removed = %d, want 1", res.Removed)
	}
	for _, m := range out {
		if m.Role == models.RoleTool {
			t.Error("orphan tool message survived")
		}
	}
}

func TestSanitize_InterleavedToolResponses(t *testing.T) {
	// Responses arrive out of order within the run; still a complete unit.
	msgs := []*models.Message{
		userMsg("go"),
		assistantMsg("", "c1", "c2"),
		toolMsg("c2", "second"),
		toolMsg("c1", "first"),
	}

	_, res := Sanitize(msgs)
	if res.Removed != 0 {
		t.Fatalf("Removed = %d, want 0 (details: %v)", res.Removed, res.Details)
	}
}

func TestSanitize_RunStopsAtNonToolMessage(t *testing.T) {
	// The response for c1 appears only after an intervening user message,
	// which does not count: the unit is incomplete and the late response
	// becomes an orphan.
	msgs := []*models.Message{
		assistantMsg("", "c1"),
		userMsg("interruption"),
		toolMsg("c1", "too late"),
	}

	out, res := Sanitize(msgs)
	if res.Removed != 2 {
		t.Fatalf("Removed = %d, want 2 (details: %v)", res.Removed, res.Details)
	}
	if len(out) != 1 || out[0].Role != models.RoleUser {
		t.Fatalf("out = %v, want just the user message", out)
	}
}

func TestSanitize_Idempotent(t *testing.T) {
	inputs := [][]*models.Message{
		{
			userMsg("a"),
			assistantMsg("", "c1"),
			toolMsg("c1", "ok"),
		},
		{
			userMsg("a"),
			assistantMsg("", "c1", "c2"),
			toolMsg("c1", "ok"),
		},
		{
			toolMsg("ghost", "x"),
			userMsg("a"),
		},
		{},
	}

	for i, msgs := range inputs {
		once, _ := Sanitize(msgs)
		twice, res := Sanitize(once)
		if res.Removed != 0 {
			t.Errorf("case %d: second pass removed %d messages", i, res.Removed)
		}
		if len(twice) != len(once) {
			t.Errorf("case %d: second pass changed length %d -> %d", i, len(once), len(twice))
		}
	}
}

func TestValidate_PassesOnSanitizedOutput(t *testing.T) {
	inputs := [][]*models.Message{
		{
			userMsg("a"),
			assistantMsg("", "c1", "c2"),
			toolMsg("c2", "ok"),
			userMsg("b"),
		},
		{
			assistantMsg("", "c1"),
			toolMsg("c1", "ok"),
			toolMsg("stray", "nope"),
		},
	}

	for i, msgs := range inputs {
		out, _ := Sanitize(msgs)
		valid, errs := Validate(out)
		if !valid {
			t.Errorf("case %d: sanitized output fails validation: %v", i, errs)
		}
	}
}

func TestValidate_ReportsWithoutMutating(t *testing.T) {
	msgs := []*models.Message{
		userMsg("a"),
		assistantMsg("", "c1"),
	}

	valid, errs := Validate(msgs)
	if valid {
		t.Error("expected invalid sequence")
	}
	if len(errs) == 0 {
		t.Error("expected violation details")
	}
	if len(msgs) != 2 {
		t.Error("Validate mutated its input")
	}
}
