// Package recall finds earlier story turns relevant to the player's current
// action. It is used when the narrator only receives the most recent part of
// the history: narrator turns are embedded as they are appended and the
// closest ones are handed back when a later action needs them.
//
// Recall is best-effort. The session engine logs and ignores its errors.
package recall

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrWong99/talespin/internal/observe"
	"github.com/MrWong99/talespin/pkg/provider/embeddings"
	"github.com/MrWong99/talespin/pkg/story"
)

// Index stores turn embeddings and answers nearest-neighbour queries. The
// postgres package provides a pgvector implementation; [MemIndex] is an
// in-process one.
type Index interface {
	Put(ctx context.Context, sessionID string, turn story.Turn, embedding []float32) error
	Nearest(ctx context.Context, sessionID string, embedding []float32, limit int) ([]story.Turn, error)
}

// directiveMarker starts an injected directive inside an action.
const directiveMarker = "\n\n["

// Recaller embeds turns with an [embeddings.Provider] and keeps them in an
// [Index]. It is safe for concurrent use.
type Recaller struct {
	embedder embeddings.Provider
	index    Index
	metrics  *observe.Metrics
}

// New returns a Recaller. m may be nil to use [observe.DefaultMetrics].
func New(embedder embeddings.Provider, index Index, m *observe.Metrics) (*Recaller, error) {
	if embedder == nil || index == nil {
		return nil, fmt.Errorf("recall: embedder and index are required")
	}
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Recaller{embedder: embedder, index: index, metrics: m}, nil
}

// Index embeds the content of turn and stores it for sessionID.
func (r *Recaller) Index(ctx context.Context, sessionID string, turn story.Turn) error {
	text := strings.TrimSpace(turn.Content)
	if text == "" {
		return nil
	}
	vec, err := r.embed(ctx, text)
	if err != nil {
		return fmt.Errorf("recall: index turn %s: %w", turn.ID, err)
	}
	if err := r.index.Put(ctx, sessionID, turn, vec); err != nil {
		return fmt.Errorf("recall: index turn %s: %w", turn.ID, err)
	}
	return nil
}

// Recall returns up to limit turns of sessionID closest to query. Injected
// directives are cut from the query before embedding.
func (r *Recaller) Recall(ctx context.Context, sessionID, query string, limit int) ([]story.Turn, error) {
	if limit <= 0 {
		return nil, nil
	}
	if i := strings.Index(query, directiveMarker); i >= 0 {
		query = query[:i]
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	ctx, span := observe.StartSessionSpan(ctx, "recall.search", sessionID)
	defer span.End()

	vec, err := r.embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("recall: embed query: %w", err)
	}
	turns, err := r.index.Nearest(ctx, sessionID, vec, limit)
	if err != nil {
		return nil, fmt.Errorf("recall: search: %w", err)
	}
	return turns, nil
}

func (r *Recaller) embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := r.embedder.Embed(ctx, text)
	status := "ok"
	if err != nil {
		status = "error"
		r.metrics.RecordProviderError(ctx, r.embedder.ModelID(), "embeddings")
	}
	r.metrics.RecordProviderRequest(ctx, r.embedder.ModelID(), "embeddings", status)
	return vec, err
}
