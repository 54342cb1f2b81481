package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/MrWong99/talespin/pkg/story"
)

// TurnIndex stores turn embeddings in the turn_embeddings table and finds the
// turns closest to a query vector by cosine distance.
//
// Obtain one via [Store.Turns]. All methods are safe for concurrent use.
type TurnIndex struct {
	pool *pgxpool.Pool
}

// Put upserts the embedding of turn.
func (ti *TurnIndex) Put(ctx context.Context, sessionID string, turn story.Turn, embedding []float32) error {
	const q = `
		INSERT INTO turn_embeddings (session_id, turn_id, role, episode, content, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (session_id, turn_id) DO UPDATE SET
		    role       = EXCLUDED.role,
		    episode    = EXCLUDED.episode,
		    content    = EXCLUDED.content,
		    embedding  = EXCLUDED.embedding,
		    created_at = EXCLUDED.created_at`

	_, err := ti.pool.Exec(ctx, q,
		sessionID,
		turn.ID,
		string(turn.Role),
		turn.Episode,
		turn.Content,
		pgvector.NewVector(embedding),
		turn.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: index turn %s: %w", turn.ID, err)
	}
	return nil
}

// Nearest returns up to limit turns of sessionID ordered by ascending cosine
// distance to embedding.
func (ti *TurnIndex) Nearest(ctx context.Context, sessionID string, embedding []float32, limit int) ([]story.Turn, error) {
	const q = `
		SELECT turn_id, role, episode, content, created_at
		FROM   turn_embeddings
		WHERE  session_id = $2
		ORDER  BY embedding <=> $1
		LIMIT  $3`

	rows, err := ti.pool.Query(ctx, q, pgvector.NewVector(embedding), sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: nearest turns: %w", err)
	}
	turns, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (story.Turn, error) {
		var (
			t    story.Turn
			role string
		)
		if err := row.Scan(&t.ID, &role, &t.Episode, &t.Content, &t.CreatedAt); err != nil {
			return story.Turn{}, err
		}
		t.Role = story.Role(role)
		return t, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan turns: %w", err)
	}
	return turns, nil
}

// DeleteSession removes every embedding of sessionID.
func (ti *TurnIndex) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := ti.pool.Exec(ctx, `DELETE FROM turn_embeddings WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("postgres: delete turn embeddings %s: %w", sessionID, err)
	}
	return nil
}
