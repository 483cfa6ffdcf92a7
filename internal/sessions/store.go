// Package sessions provides session persistence for the agent core:
// conversation history, compression checkpoints, and session metadata.
package sessions

import (
	"context"
	"errors"

	"github.com/haasonsaas/conductor/pkg/models"
)

// ErrNotFound is returned when a session or checkpoint does not exist.
var ErrNotFound = errors.New("not found")

// Store is the interface for session persistence. Implementations must be
// safe for concurrent use.
type Store interface {
	// Session CRUD
	Create(ctx context.Context, session *models.Session) error
	Get(ctx context.Context, id string) (*models.Session, error)
	Update(ctx context.Context, session *models.Session) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, opts ListOptions) ([]*models.Session, error)

	// Message history. SaveMessages replaces the session's stored history
	// wholesale; AppendMessages adds to it.
	SaveMessages(ctx context.Context, sessionID string, messages []*models.Message) error
	AppendMessages(ctx context.Context, sessionID string, messages []*models.Message) error
	LoadMessages(ctx context.Context, sessionID string, limit int) ([]*models.Message, error)

	// Compression checkpoints. At most one checkpoint exists per session;
	// SaveCheckpoint replaces any prior one.
	SaveCheckpoint(ctx context.Context, checkpoint *models.Checkpoint) error
	LoadCheckpoint(ctx context.Context, sessionID string) (*models.Checkpoint, error)
	DeleteCheckpoint(ctx context.Context, sessionID string) error

	// SaveSessionData persists the session record, its full history, and
	// its checkpoint in one atomic operation, so a crash never leaves the
	// three out of sync. A nil checkpoint deletes any stored one.
	SaveSessionData(ctx context.Context, data *SessionData) error
	LoadSessionData(ctx context.Context, sessionID string) (*SessionData, error)
}

// SessionData bundles everything needed to resume a session.
type SessionData struct {
	Session    *models.Session    `json:"session"`
	Messages   []*models.Message  `json:"messages"`
	Checkpoint *models.Checkpoint `json:"checkpoint,omitempty"`
}

// ListOptions configures session listing. Sessions are returned newest
// first by update time.
type ListOptions struct {
	Limit  int
	Offset int
}

// ResumePoint computes where a resumed session should rebuild its context
// from. With a checkpoint, history is the summary plus the messages after
// LoadAfterMessageID. If the referenced message no longer exists (drift
// between checkpoint and history), the checkpoint is ignored and the full
// history is used.
func ResumePoint(messages []*models.Message, checkpoint *models.Checkpoint) (summary string, tail []*models.Message, ok bool) {
	if checkpoint == nil || checkpoint.LoadAfterMessageID == "" {
		return "", messages, false
	}
	for i, m := range messages {
		if m != nil && m.ID == checkpoint.LoadAfterMessageID {
			return checkpoint.Summary, messages[i+1:], true
		}
	}
	return "", messages, false
}
