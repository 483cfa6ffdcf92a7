package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/haasonsaas/conductor/pkg/models"
)

// SQLiteStore persists sessions in a local SQLite database. It is the
// default store for the CLI. The pure-Go driver keeps the binary free of
// cgo.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL DEFAULT '',
	model      TEXT NOT NULL DEFAULT '',
	metadata   TEXT NOT NULL DEFAULT '{}',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	session_id TEXT NOT NULL,
	seq        INTEGER NOT NULL,
	payload    TEXT NOT NULL,
	PRIMARY KEY (session_id, seq)
);

CREATE TABLE IF NOT EXISTS checkpoints (
	session_id            TEXT PRIMARY KEY,
	summary               TEXT NOT NULL,
	load_after_message_id TEXT NOT NULL,
	compressed_at         TIMESTAMP NOT NULL,
	stats                 TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at DESC);
`

// NewSQLiteStore opens (creating if needed) the database at path and
// applies the schema. Use ":memory:" for an ephemeral database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite handles one writer at a time; serialize at the pool level
	// rather than surfacing busy errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA foreign_keys=ON;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure sqlite: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Create adds a new session.
func (s *SQLiteStore) Create(ctx context.Context, session *models.Session) error {
	now := time.Now()
	created := session.CreatedAt
	if created.IsZero() {
		created = now
	}
	metadata, err := marshalMetadata(session.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, title, model, metadata, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		session.ID, session.Title, session.Model, metadata, created, now,
	)
	return err
}

// Get returns a session by ID.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, model, metadata, created_at, updated_at FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

// Update replaces a session record.
func (s *SQLiteStore) Update(ctx context.Context, session *models.Session) error {
	metadata, err := marshalMetadata(session.Metadata)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET title = ?, model = ?, metadata = ?, updated_at = ? WHERE id = ?`,
		session.Title, session.Model, metadata, time.Now(), session.ID,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err == nil && affected == 0 {
		return ErrNotFound
	}
	return err
}

// Delete removes a session and all its data.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range []string{
			`DELETE FROM messages WHERE session_id = ?`,
			`DELETE FROM checkpoints WHERE session_id = ?`,
			`DELETE FROM sessions WHERE id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// List returns sessions newest first by update time.
func (s *SQLiteStore) List(ctx context.Context, opts ListOptions) ([]*models.Session, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, model, metadata, created_at, updated_at FROM sessions
		 ORDER BY updated_at DESC LIMIT ? OFFSET ?`, limit, opts.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, session)
	}
	return out, rows.Err()
}

// SaveMessages replaces the stored history for a session.
func (s *SQLiteStore) SaveMessages(ctx context.Context, sessionID string, messages []*models.Message) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return saveMessagesTx(ctx, tx, sessionID, messages)
	})
}

// AppendMessages adds messages to the stored history.
func (s *SQLiteStore) AppendMessages(ctx context.Context, sessionID string, messages []*models.Message) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var next int
		row := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(seq), -1) + 1 FROM messages WHERE session_id = ?`, sessionID)
		if err := row.Scan(&next); err != nil {
			return err
		}
		return insertMessagesTx(ctx, tx, sessionID, next, messages)
	})
}

// LoadMessages returns up to limit of the most recent messages, in
// chronological order. limit <= 0 returns everything.
func (s *SQLiteStore) LoadMessages(ctx context.Context, sessionID string, limit int) ([]*models.Message, error) {
	query := `SELECT payload FROM messages WHERE session_id = ? ORDER BY seq`
	args := []any{sessionID}
	if limit > 0 {
		query = `SELECT payload FROM (
			SELECT seq, payload FROM messages WHERE session_id = ? ORDER BY seq DESC LIMIT ?
		) ORDER BY seq`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var msg models.Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		out = append(out, &msg)
	}
	return out, rows.Err()
}

// SaveCheckpoint stores the session's checkpoint, replacing any prior one.
func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, checkpoint *models.Checkpoint) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return saveCheckpointTx(ctx, tx, checkpoint)
	})
}

// LoadCheckpoint returns the session's checkpoint.
func (s *SQLiteStore) LoadCheckpoint(ctx context.Context, sessionID string) (*models.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT session_id, summary, load_after_message_id, compressed_at, stats
		 FROM checkpoints WHERE session_id = ?`, sessionID)
	return scanCheckpoint(row)
}

// DeleteCheckpoint removes the session's checkpoint.
func (s *SQLiteStore) DeleteCheckpoint(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE session_id = ?`, sessionID)
	return err
}

// SaveSessionData persists session, history, and checkpoint in one
// transaction.
func (s *SQLiteStore) SaveSessionData(ctx context.Context, data *SessionData) error {
	metadata, err := marshalMetadata(data.Session.Metadata)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now()
		created := data.Session.CreatedAt
		if created.IsZero() {
			created = now
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sessions (id, title, model, metadata, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET title = excluded.title, model = excluded.model,
				metadata = excluded.metadata, updated_at = excluded.updated_at`,
			data.Session.ID, data.Session.Title, data.Session.Model, metadata, created, now,
		); err != nil {
			return err
		}
		if err := saveMessagesTx(ctx, tx, data.Session.ID, data.Messages); err != nil {
			return err
		}
		if data.Checkpoint != nil {
			return saveCheckpointTx(ctx, tx, data.Checkpoint)
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM checkpoints WHERE session_id = ?`, data.Session.ID)
		return err
	})
}

// LoadSessionData returns session, history, and checkpoint together.
func (s *SQLiteStore) LoadSessionData(ctx context.Context, sessionID string) (*SessionData, error) {
	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	messages, err := s.LoadMessages(ctx, sessionID, 0)
	if err != nil {
		return nil, err
	}
	data := &SessionData{Session: session, Messages: messages}
	checkpoint, err := s.LoadCheckpoint(ctx, sessionID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	data.Checkpoint = checkpoint
	return data, nil
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func saveMessagesTx(ctx context.Context, tx *sql.Tx, sessionID string, messages []*models.Message) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return err
	}
	return insertMessagesTx(ctx, tx, sessionID, 0, messages)
}

func insertMessagesTx(ctx context.Context, tx *sql.Tx, sessionID string, startSeq int, messages []*models.Message) error {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO messages (session_id, seq, payload) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, msg := range messages {
		payload, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("encode message: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, sessionID, startSeq+i, payload); err != nil {
			return err
		}
	}
	return nil
}

func saveCheckpointTx(ctx context.Context, tx *sql.Tx, checkpoint *models.Checkpoint) error {
	stats, err := json.Marshal(checkpoint.Stats)
	if err != nil {
		return fmt.Errorf("encode stats: %w", err)
	}
	compressedAt := checkpoint.CompressedAt
	if compressedAt.IsZero() {
		compressedAt = time.Now()
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO checkpoints (session_id, summary, load_after_message_id, compressed_at, stats)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET summary = excluded.summary,
			load_after_message_id = excluded.load_after_message_id,
			compressed_at = excluded.compressed_at, stats = excluded.stats`,
		checkpoint.SessionID, checkpoint.Summary, checkpoint.LoadAfterMessageID, compressedAt, stats,
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	var session models.Session
	var metadata []byte
	err := row.Scan(&session.ID, &session.Title, &session.Model, &metadata,
		&session.CreatedAt, &session.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &session.Metadata); err != nil {
			return nil, fmt.Errorf("decode session metadata: %w", err)
		}
	}
	return &session, nil
}

func scanCheckpoint(row rowScanner) (*models.Checkpoint, error) {
	var checkpoint models.Checkpoint
	var stats []byte
	err := row.Scan(&checkpoint.SessionID, &checkpoint.Summary,
		&checkpoint.LoadAfterMessageID, &checkpoint.CompressedAt, &stats)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(stats) > 0 {
		if err := json.Unmarshal(stats, &checkpoint.Stats); err != nil {
			return nil, fmt.Errorf("decode checkpoint stats: %w", err)
		}
	}
	return &checkpoint, nil
}

func marshalMetadata(metadata map[string]any) ([]byte, error) {
	if metadata == nil {
		return []byte(`{}`), nil
	}
	out, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("encode session metadata: %w", err)
	}
	return out, nil
}
