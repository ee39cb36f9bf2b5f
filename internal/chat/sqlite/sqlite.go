// Package sqlite persists conversations in a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/candorchat/candor-relay/internal/chat"
)

// Store implements chat.Store backed by SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite conversation store at the supplied path.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	asset_kind TEXT,
	asset_url TEXT,
	image_op INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, position);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases underlying resources.
// DB exposes the underlying handle for health probes.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Save writes the conversation and its full message list. The message set is
// replaced wholesale; the orchestrator saves after every mutation and the
// open assistant message changes in place, so diffing is not worth it.
func (s *Store) Save(ctx context.Context, conv *chat.Conversation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	// Rollback is a no-op once the transaction committed.
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
INSERT INTO conversations(id, title, created_at, updated_at) VALUES(?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET title = excluded.title, updated_at = excluded.updated_at`,
		conv.ID, conv.Title, conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, conv.ID); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	for i, m := range conv.Messages {
		var assetKind, assetURL sql.NullString
		if m.Asset != nil {
			assetKind = sql.NullString{String: string(m.Asset.Kind), Valid: true}
			assetURL = sql.NullString{String: m.Asset.URL, Valid: true}
		}
		_, err = tx.ExecContext(ctx, `
INSERT INTO messages(id, conversation_id, position, role, content, asset_kind, asset_url, image_op, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ID, conv.ID, i, string(m.Role), m.Content, assetKind, assetURL, boolToInt(m.ImageOp), m.CreatedAt)
		if err != nil {
			return fmt.Errorf("save message: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

// Delete removes a conversation and its messages.
func (s *Store) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err = tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM settings WHERE key = 'current_conversation' AND value = ?`, id); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}
	return nil
}

// ListAll returns all conversations with messages, most recently updated
// first.
func (s *Store) ListAll(ctx context.Context) ([]*chat.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, title, created_at, updated_at FROM conversations ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*chat.Conversation
	for rows.Next() {
		var c chat.Conversation
		var createdAt, updatedAt time.Time
		if err := rows.Scan(&c.ID, &c.Title, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		c.CreatedAt = createdAt
		c.UpdatedAt = updatedAt
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, c := range out {
		if c.Messages, err = s.loadMessages(ctx, c.ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Store) loadMessages(ctx context.Context, convID string) ([]chat.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, role, content, asset_kind, asset_url, image_op, created_at
FROM messages WHERE conversation_id = ? ORDER BY position`, convID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []chat.Message
	for rows.Next() {
		var m chat.Message
		var role string
		var assetKind, assetURL sql.NullString
		var imageOp int
		var createdAt time.Time
		if err := rows.Scan(&m.ID, &role, &m.Content, &assetKind, &assetURL, &imageOp, &createdAt); err != nil {
			return nil, err
		}
		m.Role = chat.Role(role)
		m.ImageOp = imageOp != 0
		m.CreatedAt = createdAt
		if assetKind.Valid {
			m.Asset = &chat.Asset{Kind: chat.AssetKind(assetKind.String), URL: assetURL.String}
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// CurrentID returns the active conversation id, empty when unset.
func (s *Store) CurrentID(ctx context.Context) (string, error) {
	row := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = 'current_conversation'`)
	var id string
	if err := row.Scan(&id); err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", err
	}
	return id, nil
}

// SetCurrentID marks the active conversation.
func (s *Store) SetCurrentID(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO settings(key, value) VALUES('current_conversation', ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value`, id)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
