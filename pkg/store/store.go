// Package store defines the persistence contract for story sessions.
//
// A [SessionStore] keeps exactly one [Snapshot] per session ID. Saves are
// upserts with last-write-wins semantics; no transactional guarantee beyond
// that is assumed by callers. Concrete backends live in sub-packages
// (postgres, redis, sqlite); [MemStore] is an in-process implementation used
// for development and tests.
//
// All implementations must be safe for concurrent use.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/talespin/pkg/story"
)

// ErrNotFound is returned by [SessionStore.Load] when no snapshot exists for
// the requested session ID.
var ErrNotFound = errors.New("store: session not found")

// EpisodeMeta is the persisted episode bookkeeping of a session.
type EpisodeMeta struct {
	story.EpisodeProgress

	// AgentTurnCounter is the number of agent prompt evaluations performed
	// so far. Persisting it keeps the directive cadence stable across reloads.
	AgentTurnCounter int `json:"agent_turn_counter"`
}

// Snapshot is the full persisted state of one session.
type Snapshot struct {
	SessionID  string            `json:"session_id"`
	Turns      []story.Turn      `json:"turns"`
	Episode    EpisodeMeta       `json:"episode"`
	Settings   story.Settings    `json:"settings"`
	Characters []story.Character `json:"characters"`
	Toggles    story.Toggles     `json:"toggles"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// SessionStore persists session snapshots.
type SessionStore interface {
	// Save upserts snap keyed by snap.SessionID.
	Save(ctx context.Context, snap Snapshot) error

	// Load returns the snapshot stored for sessionID, or [ErrNotFound].
	Load(ctx context.Context, sessionID string) (*Snapshot, error)

	// Delete removes the snapshot for sessionID. Deleting a missing session
	// is not an error.
	Delete(ctx context.Context, sessionID string) error

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
}
