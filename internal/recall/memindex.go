package recall

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"
	"sync"

	"github.com/MrWong99/talespin/pkg/story"
)

// MemIndex is an in-process [Index] using exact cosine similarity. It suits
// development and single-node deployments with modest histories.
type MemIndex struct {
	mu       sync.RWMutex
	sessions map[string]map[string]memEntry
}

type memEntry struct {
	turn story.Turn
	vec  []float32
	seq  int
}

// NewMemIndex returns an empty MemIndex.
func NewMemIndex() *MemIndex {
	return &MemIndex{sessions: make(map[string]map[string]memEntry)}
}

// Put implements [Index].
func (m *MemIndex) Put(_ context.Context, sessionID string, turn story.Turn, embedding []float32) error {
	if len(embedding) == 0 {
		return fmt.Errorf("recall: empty embedding for turn %s", turn.ID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := m.sessions[sessionID]
	if entries == nil {
		entries = make(map[string]memEntry)
		m.sessions[sessionID] = entries
	}
	seq := len(entries)
	if prev, ok := entries[turn.ID]; ok {
		seq = prev.seq
	}
	entries[turn.ID] = memEntry{turn: turn, vec: slices.Clone(embedding), seq: seq}
	return nil
}

// Nearest implements [Index]. Ties keep insertion order.
func (m *MemIndex) Nearest(_ context.Context, sessionID string, embedding []float32, limit int) ([]story.Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type scored struct {
		entry memEntry
		score float64
	}
	var hits []scored
	for _, e := range m.sessions[sessionID] {
		if len(e.vec) != len(embedding) {
			return nil, fmt.Errorf("recall: dimension mismatch: index has %d, query has %d", len(e.vec), len(embedding))
		}
		hits = append(hits, scored{entry: e, score: cosine(e.vec, embedding)})
	}
	slices.SortFunc(hits, func(a, b scored) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}
		return cmp.Compare(a.entry.seq, b.entry.seq)
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]story.Turn, len(hits))
	for i, h := range hits {
		out[i] = h.entry.turn
	}
	return out, nil
}

// DeleteSession drops every entry of sessionID.
func (m *MemIndex) DeleteSession(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	return nil
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
