package agent

import (
	"context"
	"strings"
	"sync"
)

// ApprovalMode controls how much autonomy the agent has before asking the
// user to confirm a tool call.
type ApprovalMode string

const (
	// ApprovalDefault asks for every tool call that requires confirmation.
	ApprovalDefault ApprovalMode = "default"

	// ApprovalAutoEdit auto-approves file edit operations but still asks
	// for everything else.
	ApprovalAutoEdit ApprovalMode = "auto_edit"

	// ApprovalYolo auto-approves every tool call.
	ApprovalYolo ApprovalMode = "yolo"
)

// ParseApprovalMode maps a configuration string to an ApprovalMode,
// defaulting to ApprovalDefault for anything unrecognized.
func ParseApprovalMode(s string) ApprovalMode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(ApprovalAutoEdit), "autoedit", "auto-edit":
		return ApprovalAutoEdit
	case string(ApprovalYolo):
		return ApprovalYolo
	default:
		return ApprovalDefault
	}
}

// ConfirmKind categorizes what a tool is asking permission to do.
type ConfirmKind string

const (
	// ConfirmInfo is a generic informational confirmation.
	ConfirmInfo ConfirmKind = "info"

	// ConfirmEdit is a file modification.
	ConfirmEdit ConfirmKind = "edit"

	// ConfirmExec is a shell command execution.
	ConfirmExec ConfirmKind = "exec"

	// ConfirmOther covers everything else.
	ConfirmOther ConfirmKind = "other"
)

// ConfirmDetails describes a pending confirmation so a host UI can render a
// meaningful prompt. The populated fields depend on Kind.
type ConfirmDetails struct {
	Kind  ConfirmKind `json:"kind"`
	Title string      `json:"title"`

	// Edit fields.
	FilePath string `json:"file_path,omitempty"`
	Diff     string `json:"diff,omitempty"`

	// Exec fields.
	Command string `json:"command,omitempty"`

	// RootCommand is the allowlist key for this call: the executable name
	// for exec confirmations, the tool name otherwise.
	RootCommand string `json:"root_command,omitempty"`

	Description string `json:"description,omitempty"`
}

// AllowlistKey returns the key an allow-always outcome is remembered under.
func (d *ConfirmDetails) AllowlistKey(toolName string) string {
	if d != nil && d.RootCommand != "" {
		return d.Kind.prefix() + d.RootCommand
	}
	return toolName
}

func (k ConfirmKind) prefix() string {
	if k == ConfirmExec {
		return "exec:"
	}
	return ""
}

// ConfirmOutcome is the user's decision on a confirmation prompt.
type ConfirmOutcome string

const (
	// OutcomeAllow approves this single call.
	OutcomeAllow ConfirmOutcome = "allow"

	// OutcomeAllowAlways approves this call and all future calls with the
	// same allowlist key for the rest of the session.
	OutcomeAllowAlways ConfirmOutcome = "allow_always"

	// OutcomeCancel denies the call.
	OutcomeCancel ConfirmOutcome = "cancel"
)

// ConfirmationCallback presents a confirmation to the user and blocks until
// they decide. Implementations must honor ctx cancellation.
type ConfirmationCallback func(ctx context.Context, details *ConfirmDetails) (ConfirmOutcome, error)

// Allowlist records allow-always decisions for the lifetime of a session.
// Entries never persist across sessions.
type Allowlist struct {
	mu      sync.RWMutex
	entries map[string]struct{}
}

// NewAllowlist creates an empty session allowlist.
func NewAllowlist() *Allowlist {
	return &Allowlist{entries: make(map[string]struct{})}
}

// Add records an allow-always decision under the given key.
func (a *Allowlist) Add(key string) {
	if key == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries[key] = struct{}{}
}

// Contains reports whether the key was previously allowed for the session.
func (a *Allowlist) Contains(key string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.entries[key]
	return ok
}

// Entries returns a snapshot of the allowed keys.
func (a *Allowlist) Entries() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, 0, len(a.entries))
	for k := range a.entries {
		out = append(out, k)
	}
	return out
}

// Approver resolves whether a tool call may run, combining the approval
// mode, the session allowlist, and the host's confirmation callback.
type Approver struct {
	mu        sync.RWMutex
	mode      ApprovalMode
	allowlist *Allowlist
	confirm   ConfirmationCallback
}

// NewApprover creates an approver in the given mode with an empty session
// allowlist and no confirmation callback.
func NewApprover(mode ApprovalMode) *Approver {
	return &Approver{
		mode:      mode,
		allowlist: NewAllowlist(),
	}
}

// SetConfirmationCallback registers the host's confirmation prompt. Without
// one, calls that require confirmation are denied in default mode.
func (a *Approver) SetConfirmationCallback(fn ConfirmationCallback) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.confirm = fn
}

// SetMode changes the approval mode for subsequent calls.
func (a *Approver) SetMode(mode ApprovalMode) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.mode = mode
}

// Mode returns the current approval mode.
func (a *Approver) Mode() ApprovalMode {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.mode
}

// Allowlist returns the session allowlist.
func (a *Approver) Allowlist() *Allowlist {
	return a.allowlist
}

// RequiresPrompt reports whether Approve would block on the confirmation
// callback for this call instead of resolving it immediately from the mode
// or the allowlist. With no callback registered it returns false; Approve
// then denies the call without a prompt.
func (a *Approver) RequiresPrompt(toolName string, details *ConfirmDetails) bool {
	if details == nil {
		return false
	}

	a.mu.RLock()
	mode := a.mode
	confirm := a.confirm
	a.mu.RUnlock()

	switch mode {
	case ApprovalYolo:
		return false
	case ApprovalAutoEdit:
		if details.Kind == ConfirmEdit {
			return false
		}
	}
	if a.allowlist.Contains(details.AllowlistKey(toolName)) {
		return false
	}
	return confirm != nil
}

// Approve decides whether a tool call may execute. details may be nil when
// the tool does not require confirmation, in which case the call is always
// approved. The decision order is: no details needed, yolo mode, auto-edit
// for edit confirmations, session allowlist, then the blocking callback.
// With confirmation required and no callback registered, the call is denied.
func (a *Approver) Approve(ctx context.Context, toolName string, details *ConfirmDetails) (ConfirmOutcome, error) {
	if details == nil {
		return OutcomeAllow, nil
	}

	a.mu.RLock()
	mode := a.mode
	confirm := a.confirm
	a.mu.RUnlock()

	switch mode {
	case ApprovalYolo:
		return OutcomeAllow, nil
	case ApprovalAutoEdit:
		if details.Kind == ConfirmEdit {
			return OutcomeAllow, nil
		}
	}

	key := details.AllowlistKey(toolName)
	if a.allowlist.Contains(key) {
		return OutcomeAllow, nil
	}

	if confirm == nil {
		// No way to ask the user; fail closed.
		return OutcomeCancel, ErrApprovalDenied
	}

	outcome, err := confirm(ctx, details)
	if err != nil {
		return OutcomeCancel, err
	}
	switch outcome {
	case OutcomeAllow:
		return OutcomeAllow, nil
	case OutcomeAllowAlways:
		a.allowlist.Add(key)
		return OutcomeAllowAlways, nil
	default:
		return OutcomeCancel, ErrApprovalDenied
	}
}
