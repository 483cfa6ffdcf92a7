package sessions

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/haasonsaas/conductor/pkg/models"
)

// MemoryStore is an in-memory Store implementation for tests and ephemeral
// sessions. All data is lost on process exit.
type MemoryStore struct {
	mu          sync.RWMutex
	sessions    map[string]*models.Session
	messages    map[string][]*models.Message
	checkpoints map[string]*models.Checkpoint
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:    make(map[string]*models.Session),
		messages:    make(map[string][]*models.Message),
		checkpoints: make(map[string]*models.Checkpoint),
	}
}

// Create adds a new session.
func (s *MemoryStore) Create(ctx context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *session
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	cp.UpdatedAt = cp.CreatedAt
	s.sessions[cp.ID] = &cp
	return nil
}

// Get returns a session by ID.
func (s *MemoryStore) Get(ctx context.Context, id string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *session
	return &cp, nil
}

// Update replaces a session record.
func (s *MemoryStore) Update(ctx context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ID]; !ok {
		return ErrNotFound
	}
	cp := *session
	cp.UpdatedAt = time.Now()
	s.sessions[cp.ID] = &cp
	return nil
}

// Delete removes a session and all its data.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	delete(s.messages, id)
	delete(s.checkpoints, id)
	return nil
}

// List returns sessions newest first.
func (s *MemoryStore) List(ctx context.Context, opts ListOptions) ([]*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		cp := *session
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// SaveMessages replaces the stored history for a session.
func (s *MemoryStore) SaveMessages(ctx context.Context, sessionID string, messages []*models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[sessionID] = copyMessages(messages)
	return nil
}

// AppendMessages adds messages to the stored history.
func (s *MemoryStore) AppendMessages(ctx context.Context, sessionID string, messages []*models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[sessionID] = append(s.messages[sessionID], copyMessages(messages)...)
	return nil
}

// LoadMessages returns up to limit of the most recent messages, in
// chronological order. limit <= 0 returns everything.
func (s *MemoryStore) LoadMessages(ctx context.Context, sessionID string, limit int) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored := s.messages[sessionID]
	if limit > 0 && len(stored) > limit {
		stored = stored[len(stored)-limit:]
	}
	return copyMessages(stored), nil
}

// SaveCheckpoint stores the session's checkpoint, replacing any prior one.
func (s *MemoryStore) SaveCheckpoint(ctx context.Context, checkpoint *models.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *checkpoint
	s.checkpoints[cp.SessionID] = &cp
	return nil
}

// LoadCheckpoint returns the session's checkpoint.
func (s *MemoryStore) LoadCheckpoint(ctx context.Context, sessionID string) (*models.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	checkpoint, ok := s.checkpoints[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *checkpoint
	return &cp, nil
}

// DeleteCheckpoint removes the session's checkpoint.
func (s *MemoryStore) DeleteCheckpoint(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.checkpoints, sessionID)
	return nil
}

// SaveSessionData persists session, history, and checkpoint together.
func (s *MemoryStore) SaveSessionData(ctx context.Context, data *SessionData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session := *data.Session
	session.UpdatedAt = time.Now()
	s.sessions[session.ID] = &session
	s.messages[session.ID] = copyMessages(data.Messages)
	if data.Checkpoint != nil {
		cp := *data.Checkpoint
		s.checkpoints[session.ID] = &cp
	} else {
		delete(s.checkpoints, session.ID)
	}
	return nil
}

// LoadSessionData returns session, history, and checkpoint together.
func (s *MemoryStore) LoadSessionData(ctx context.Context, sessionID string) (*SessionData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	sessionCopy := *session
	data := &SessionData{
		Session:  &sessionCopy,
		Messages: copyMessages(s.messages[sessionID]),
	}
	if checkpoint, ok := s.checkpoints[sessionID]; ok {
		cp := *checkpoint
		data.Checkpoint = &cp
	}
	return data, nil
}

func copyMessages(messages []*models.Message) []*models.Message {
	out := make([]*models.Message, len(messages))
	copy(out, messages)
	return out
}
