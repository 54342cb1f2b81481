// Package postgres provides PostgreSQL backed persistence for talespin.
//
// [Store] implements [store.SessionStore] by keeping one JSONB document per
// session. [TurnIndex] stores embeddings of narrator turns in a pgvector
// column with an HNSW index and answers nearest-neighbour queries for
// long-history recall. Both share one [pgxpool.Pool]; [Migrate] installs the
// vector extension and creates the tables.
//
// Usage:
//
//	st, err := postgres.NewStore(ctx, dsn, 1536)
//	if err != nil { … }
//	defer st.Close()
//
//	_ = st.Save(ctx, snap)
//	_ = st.Turns().Put(ctx, sessionID, turn, embedding)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlSessions = `
CREATE TABLE IF NOT EXISTS story_sessions (
    id          TEXT         PRIMARY KEY,
    snapshot    JSONB        NOT NULL,
    turn_count  INTEGER      NOT NULL DEFAULT 0,
    episode     INTEGER      NOT NULL DEFAULT 1,
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_story_sessions_updated_at
    ON story_sessions (updated_at);
`

// ddlTurnEmbeddings is formatted with the embedding dimension.
const ddlTurnEmbeddings = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS turn_embeddings (
    session_id  TEXT         NOT NULL,
    turn_id     TEXT         NOT NULL,
    role        TEXT         NOT NULL,
    episode     INTEGER      NOT NULL DEFAULT 1,
    content     TEXT         NOT NULL,
    embedding   vector(%d)   NOT NULL,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    PRIMARY KEY (session_id, turn_id)
);

CREATE INDEX IF NOT EXISTS idx_turn_embeddings_hnsw
    ON turn_embeddings USING hnsw (embedding vector_cosine_ops);
`

// Migrate creates the tables used by [Store] and [TurnIndex] if they do not
// exist. embeddingDimensions fixes the vector column size on first run.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	if embeddingDimensions <= 0 {
		return fmt.Errorf("postgres: migrate: embedding dimensions must be positive, got %d", embeddingDimensions)
	}
	if _, err := pool.Exec(ctx, ddlSessions); err != nil {
		return fmt.Errorf("postgres: migrate sessions: %w", err)
	}
	if _, err := pool.Exec(ctx, fmt.Sprintf(ddlTurnEmbeddings, embeddingDimensions)); err != nil {
		return fmt.Errorf("postgres: migrate turn embeddings: %w", err)
	}
	return nil
}
