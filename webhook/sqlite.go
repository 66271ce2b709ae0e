package webhook

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS webhooks (
	id TEXT PRIMARY KEY,
	url TEXT NOT NULL,
	tool_name TEXT NOT NULL DEFAULT '',
	secret TEXT NOT NULL DEFAULT '',
	retries INTEGER NOT NULL,
	created_at TEXT NOT NULL
);`

// SQLiteStoreConfig configures the SQLite hook store.
type SQLiteStoreConfig struct {
	DSN string
}

// SQLiteStore persists hooks in SQLite, typically in the same database file
// as the call log.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the hook table.
func NewSQLiteStore(cfg SQLiteStoreConfig) (*SQLiteStore, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("webhook: sqlite dsn is required")
	}

	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("webhook: sqlite open: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("webhook: sqlite set WAL mode: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("webhook: sqlite create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// List returns all hooks in creation order.
func (s *SQLiteStore) List(ctx context.Context) ([]Hook, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, url, tool_name, secret, retries, created_at
FROM webhooks
ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("webhook: sqlite list: %w", err)
	}
	defer rows.Close()

	var hooks []Hook
	for rows.Next() {
		var (
			h         Hook
			createdAt string
		)
		if err := rows.Scan(&h.ID, &h.URL, &h.Tool, &h.Secret, &h.Retries, &createdAt); err != nil {
			return nil, fmt.Errorf("webhook: sqlite scan: %w", err)
		}
		ts, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("webhook: parse created_at %q: %w", createdAt, err)
		}
		h.CreatedAt = ts
		hooks = append(hooks, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("webhook: sqlite rows: %w", err)
	}
	return hooks, nil
}

// Add validates and stores a hook.
func (s *SQLiteStore) Add(ctx context.Context, hook Hook) (Hook, error) {
	hook, err := hook.Normalize()
	if err != nil {
		return Hook{}, err
	}
	if hook.ID == "" {
		hook.ID = uuid.New().String()
	}
	if hook.CreatedAt.IsZero() {
		hook.CreatedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO webhooks (id, url, tool_name, secret, retries, created_at)
VALUES (?, ?, ?, ?, ?, ?)`,
		hook.ID,
		hook.URL,
		hook.Tool,
		hook.Secret,
		hook.Retries,
		hook.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return Hook{}, fmt.Errorf("webhook: sqlite add: %w", err)
	}
	return hook, nil
}

// Remove deletes a hook by ID.
func (s *SQLiteStore) Remove(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM webhooks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("webhook: sqlite remove: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("webhook: sqlite remove: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrHookNotFound, id)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
