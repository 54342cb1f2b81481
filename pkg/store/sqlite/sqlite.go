// Package sqlite provides a [store.SessionStore] backed by a single SQLite
// file, for single-node deployments without a database server.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MrWong99/talespin/pkg/store"
)

var _ store.SessionStore = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS story_sessions (
    id          TEXT    PRIMARY KEY,
    snapshot    TEXT    NOT NULL,
    turn_count  INTEGER NOT NULL DEFAULT 0,
    updated_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_story_sessions_updated_at ON story_sessions (updated_at);
`

// Store persists session snapshots in SQLite. It is safe for concurrent use.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// Open opens (creating if needed) the database file at path and applies the
// schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite: storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("sqlite: ping db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Save implements [store.SessionStore].
func (s *Store) Save(ctx context.Context, snap store.Snapshot) error {
	doc, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("sqlite: marshal snapshot %s: %w", snap.SessionID, err)
	}
	updated := snap.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err = s.sqlDB.ExecContext(ctx,
		`INSERT INTO story_sessions (id, snapshot, turn_count, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   snapshot = excluded.snapshot,
		   turn_count = excluded.turn_count,
		   updated_at = excluded.updated_at`,
		snap.SessionID, string(doc), len(snap.Turns), toMillis(updated),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save %s: %w", snap.SessionID, err)
	}
	return nil
}

// Load implements [store.SessionStore].
func (s *Store) Load(ctx context.Context, sessionID string) (*store.Snapshot, error) {
	var doc string
	err := s.sqlDB.QueryRowContext(ctx, `SELECT snapshot FROM story_sessions WHERE id = ?`, sessionID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: load %s: %w", sessionID, err)
	}
	var snap store.Snapshot
	if err := json.Unmarshal([]byte(doc), &snap); err != nil {
		return nil, fmt.Errorf("sqlite: decode snapshot %s: %w", sessionID, err)
	}
	return &snap, nil
}

// Delete implements [store.SessionStore].
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM story_sessions WHERE id = ?`, sessionID); err != nil {
		return fmt.Errorf("sqlite: delete %s: %w", sessionID, err)
	}
	return nil
}

// Ping implements [store.SessionStore].
func (s *Store) Ping(ctx context.Context) error {
	if err := s.sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite: ping: %w", err)
	}
	return nil
}
