package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/talespin/pkg/store"
)

var _ store.SessionStore = (*Store)(nil)

// Store is a [store.SessionStore] backed by PostgreSQL. All methods are safe
// for concurrent use.
type Store struct {
	pool  *pgxpool.Pool
	turns *TurnIndex
}

// NewStore connects to the database at dsn, registers the pgvector types on
// every connection and runs [Migrate].
//
// embeddingDimensions must match the embedding model used for recall (e.g.
// 1536 for text-embedding-3-small). Changing it after the first migration
// requires a manual schema change.
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool, turns: &TurnIndex{pool: pool}}, nil
}

// Turns returns the turn embedding index sharing this store's pool.
func (s *Store) Turns() *TurnIndex { return s.turns }

// Close releases the connection pool.
func (s *Store) Close() { s.pool.Close() }

// Save implements [store.SessionStore].
func (s *Store) Save(ctx context.Context, snap store.Snapshot) error {
	doc, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("postgres: marshal snapshot %s: %w", snap.SessionID, err)
	}

	const q = `
		INSERT INTO story_sessions (id, snapshot, turn_count, episode, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (id) DO UPDATE SET
		    snapshot   = EXCLUDED.snapshot,
		    turn_count = EXCLUDED.turn_count,
		    episode    = EXCLUDED.episode,
		    updated_at = EXCLUDED.updated_at`

	if _, err := s.pool.Exec(ctx, q, snap.SessionID, doc, len(snap.Turns), max(1, snap.Episode.Episode)); err != nil {
		return fmt.Errorf("postgres: save %s: %w", snap.SessionID, err)
	}
	return nil
}

// Load implements [store.SessionStore].
func (s *Store) Load(ctx context.Context, sessionID string) (*store.Snapshot, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, `SELECT snapshot FROM story_sessions WHERE id = $1`, sessionID).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: load %s: %w", sessionID, err)
	}

	var snap store.Snapshot
	if err := json.Unmarshal(doc, &snap); err != nil {
		return nil, fmt.Errorf("postgres: decode snapshot %s: %w", sessionID, err)
	}
	return &snap, nil
}

// Delete implements [store.SessionStore]. The session's turn embeddings are
// removed in the same transaction.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM turn_embeddings WHERE session_id = $1`, sessionID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `DELETE FROM story_sessions WHERE id = $1`, sessionID)
		return err
	})
	if err != nil {
		return fmt.Errorf("postgres: delete %s: %w", sessionID, err)
	}
	return nil
}

// Ping implements [store.SessionStore].
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: ping: %w", err)
	}
	return nil
}
