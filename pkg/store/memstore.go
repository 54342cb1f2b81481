package store

import (
	"context"
	"slices"
	"sync"
)

// Compile-time assertion that MemStore satisfies the SessionStore interface.
var _ SessionStore = (*MemStore)(nil)

// MemStore is a thread-safe, in-memory implementation of [SessionStore].
// Snapshots are deep-copied on the way in and out so callers never share
// slices with the store.
// The zero value is ready to use.
type MemStore struct {
	mu        sync.RWMutex
	snapshots map[string]Snapshot
}

// NewMemStore returns an initialised [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{
		snapshots: make(map[string]Snapshot),
	}
}

// Save implements [SessionStore.Save].
func (s *MemStore) Save(_ context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.snapshots == nil {
		s.snapshots = make(map[string]Snapshot)
	}
	s.snapshots[snap.SessionID] = snap.Clone()
	return nil
}

// Load implements [SessionStore.Load].
func (s *MemStore) Load(_ context.Context, sessionID string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snapshots[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	out := snap.Clone()
	return &out, nil
}

// Delete implements [SessionStore.Delete].
func (s *MemStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, sessionID)
	return nil
}

// Ping implements [SessionStore.Ping]. It never fails.
func (s *MemStore) Ping(context.Context) error { return nil }

// Len returns the number of stored sessions.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.snapshots)
}

// Clone returns a deep copy of snap.
func (snap Snapshot) Clone() Snapshot {
	out := snap
	out.Turns = slices.Clone(snap.Turns)
	for i := range out.Turns {
		if m := out.Turns[i].Meta; m != nil {
			cp := *m
			out.Turns[i].Meta = &cp
		}
	}
	out.Characters = slices.Clone(snap.Characters)
	out.Settings.InitialCharacters = slices.Clone(snap.Settings.InitialCharacters)
	return out
}
