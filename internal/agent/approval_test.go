package agent

import (
	"context"
	"errors"
	"testing"
)

func TestParseApprovalMode(t *testing.T) {
	tests := []struct {
		input string
		want  ApprovalMode
	}{
		{"default", ApprovalDefault},
		{"auto_edit", ApprovalAutoEdit},
		{"autoedit", ApprovalAutoEdit},
		{"auto-edit", ApprovalAutoEdit},
		{"YOLO", ApprovalYolo},
		{"", ApprovalDefault},
		{"nonsense", ApprovalDefault},
	}
	for _, tt := range tests {
		if got := ParseApprovalMode(tt.input); got != tt.want {
			t.Errorf("ParseApprovalMode(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestApprover_NoDetailsAlwaysAllowed(t *testing.T) {
	a := NewApprover(ApprovalDefault)
	outcome, err := a.Approve(context.Background(), "read_file", nil)
	if err != nil || outcome != OutcomeAllow {
		t.Errorf("Approve(nil details) = %q, %v, want allow, nil", outcome, err)
	}
}

func TestApprover_FailsClosedWithoutCallback(t *testing.T) {
	a := NewApprover(ApprovalDefault)
	details := &ConfirmDetails{Kind: ConfirmExec, Command: "rm -rf build", RootCommand: "rm"}

	outcome, err := a.Approve(context.Background(), "shell", details)
	if outcome != OutcomeCancel {
		t.Errorf("outcome = %q, want cancel", outcome)
	}
	if !errors.Is(err, ErrApprovalDenied) {
		t.Errorf("err = %v, want ErrApprovalDenied", err)
	}
}

func TestApprover_YoloSkipsCallback(t *testing.T) {
	a := NewApprover(ApprovalYolo)
	called := false
	a.SetConfirmationCallback(func(ctx context.Context, d *ConfirmDetails) (ConfirmOutcome, error) {
		called = true
		return OutcomeCancel, nil
	})

	outcome, err := a.Approve(context.Background(), "shell", &ConfirmDetails{Kind: ConfirmExec})
	if err != nil || outcome != OutcomeAllow {
		t.Errorf("Approve = %q, %v, want allow, nil", outcome, err)
	}
	if called {
		t.Error("yolo mode invoked the confirmation callback")
	}
}

func TestApprover_AutoEditApprovesOnlyEdits(t *testing.T) {
	a := NewApprover(ApprovalAutoEdit)

	outcome, err := a.Approve(context.Background(), "edit_file", &ConfirmDetails{Kind: ConfirmEdit, FilePath: "main.go"})
	if err != nil || outcome != OutcomeAllow {
		t.Errorf("edit approval = %q, %v, want allow, nil", outcome, err)
	}

	// Exec still requires confirmation and fails closed without a callback.
	outcome, err = a.Approve(context.Background(), "shell", &ConfirmDetails{Kind: ConfirmExec, Command: "make"})
	if outcome != OutcomeCancel || !errors.Is(err, ErrApprovalDenied) {
		t.Errorf("exec approval = %q, %v, want cancel, ErrApprovalDenied", outcome, err)
	}
}

func TestApprover_AllowAlwaysPersistsForSession(t *testing.T) {
	a := NewApprover(ApprovalDefault)
	calls := 0
	a.SetConfirmationCallback(func(ctx context.Context, d *ConfirmDetails) (ConfirmOutcome, error) {
		calls++
		return OutcomeAllowAlways, nil
	})

	details := &ConfirmDetails{Kind: ConfirmExec, Command: "git status", RootCommand: "git"}
	if outcome, err := a.Approve(context.Background(), "shell", details); err != nil || outcome != OutcomeAllowAlways {
		t.Fatalf("first approval = %q, %v", outcome, err)
	}
	if calls != 1 {
		t.Fatalf("callback calls = %d, want 1", calls)
	}

	// Same root command: allowlist short-circuits the callback.
	again := &ConfirmDetails{Kind: ConfirmExec, Command: "git log", RootCommand: "git"}
	if outcome, err := a.Approve(context.Background(), "shell", again); err != nil || outcome != OutcomeAllow {
		t.Fatalf("second approval = %q, %v", outcome, err)
	}
	if calls != 1 {
		t.Errorf("callback calls = %d, want 1 (allowlist should short-circuit)", calls)
	}

	// Different root command still prompts.
	other := &ConfirmDetails{Kind: ConfirmExec, Command: "rm x", RootCommand: "rm"}
	a.Approve(context.Background(), "shell", other)
	if calls != 2 {
		t.Errorf("callback calls = %d, want 2", calls)
	}
}

func TestApprover_CancelDenies(t *testing.T) {
	a := NewApprover(ApprovalDefault)
	a.SetConfirmationCallback(func(ctx context.Context, d *ConfirmDetails) (ConfirmOutcome, error) {
		return OutcomeCancel, nil
	})

	outcome, err := a.Approve(context.Background(), "shell", &ConfirmDetails{Kind: ConfirmExec})
	if outcome != OutcomeCancel {
		t.Errorf("outcome = %q, want cancel", outcome)
	}
	if !errors.Is(err, ErrApprovalDenied) {
		t.Errorf("err = %v, want ErrApprovalDenied", err)
	}
}

func TestApprover_RequiresPrompt(t *testing.T) {
	execDetails := &ConfirmDetails{Kind: ConfirmExec, RootCommand: "git"}
	editDetails := &ConfirmDetails{Kind: ConfirmEdit, FilePath: "a.go"}
	callback := func(ctx context.Context, details *ConfirmDetails) (ConfirmOutcome, error) {
		return OutcomeAllow, nil
	}

	withCallback := func(mode ApprovalMode) *Approver {
		a := NewApprover(mode)
		a.SetConfirmationCallback(callback)
		return a
	}

	tests := []struct {
		name     string
		approver *Approver
		details  *ConfirmDetails
		want     bool
	}{
		{"default with callback", withCallback(ApprovalDefault), execDetails, true},
		{"nil details", withCallback(ApprovalDefault), nil, false},
		{"yolo", withCallback(ApprovalYolo), execDetails, false},
		{"auto-edit on edit", withCallback(ApprovalAutoEdit), editDetails, false},
		{"auto-edit on exec", withCallback(ApprovalAutoEdit), execDetails, true},
		{"no callback", NewApprover(ApprovalDefault), execDetails, false},
	}
	for _, tt := range tests {
		if got := tt.approver.RequiresPrompt("shell", tt.details); got != tt.want {
			t.Errorf("%s: RequiresPrompt = %v, want %v", tt.name, got, tt.want)
		}
	}

	allowed := withCallback(ApprovalDefault)
	allowed.Allowlist().Add("exec:git")
	if allowed.RequiresPrompt("shell", execDetails) {
		t.Error("allowlisted command should not require a prompt")
	}
}

func TestConfirmDetails_AllowlistKey(t *testing.T) {
	exec := &ConfirmDetails{Kind: ConfirmExec, RootCommand: "git"}
	if got := exec.AllowlistKey("shell"); got != "exec:git" {
		t.Errorf("exec key = %q, want exec:git", got)
	}

	edit := &ConfirmDetails{Kind: ConfirmEdit}
	if got := edit.AllowlistKey("edit_file"); got != "edit_file" {
		t.Errorf("edit key = %q, want edit_file", got)
	}
}
