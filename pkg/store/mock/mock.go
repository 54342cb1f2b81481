// Package mock provides a call-recording test double for [store.SessionStore].
//
// Typical usage:
//
//	s := &mock.SessionStore{}
//	s.SaveErr = errors.New("db down")
//
//	// inject s into the system under test …
//
//	if got := s.CallCount("Save"); got != 1 {
//	    t.Errorf("expected 1 Save call, got %d", got)
//	}
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/talespin/pkg/store"
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any

	// At is the time the call was made.
	At time.Time
}

// SessionStore is a configurable test double for [store.SessionStore].
// All exported *Err fields default to nil (success).
type SessionStore struct {
	mu sync.Mutex

	calls []Call

	// SaveErr is returned by [SessionStore.Save] when non-nil.
	SaveErr error

	// LoadResult is returned by [SessionStore.Load]. When nil, Load returns
	// [store.ErrNotFound].
	LoadResult *store.Snapshot

	// LoadErr is returned by [SessionStore.Load] when non-nil.
	LoadErr error

	// DeleteErr is returned by [SessionStore.Delete] when non-nil.
	DeleteErr error

	// PingErr is returned by [SessionStore.Ping] when non-nil.
	PingErr error
}

// Calls returns a copy of all recorded method invocations.
func (m *SessionStore) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times the named method was invoked.
func (m *SessionStore) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Saved returns every snapshot passed to Save, in call order.
func (m *SessionStore) Saved() []store.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Snapshot
	for _, c := range m.calls {
		if c.Method == "Save" {
			out = append(out, c.Args[0].(store.Snapshot))
		}
	}
	return out
}

// Reset clears all recorded calls without altering response configuration.
func (m *SessionStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// SetSaveErr replaces SaveErr while the store may be in use.
func (m *SessionStore) SetSaveErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SaveErr = err
}

// Save implements [store.SessionStore].
func (m *SessionStore) Save(_ context.Context, snap store.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Save", Args: []any{snap.Clone()}, At: time.Now()})
	return m.SaveErr
}

// Load implements [store.SessionStore].
func (m *SessionStore) Load(_ context.Context, sessionID string) (*store.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Load", Args: []any{sessionID}, At: time.Now()})
	if m.LoadErr != nil {
		return nil, m.LoadErr
	}
	if m.LoadResult == nil {
		return nil, store.ErrNotFound
	}
	out := m.LoadResult.Clone()
	return &out, nil
}

// Delete implements [store.SessionStore].
func (m *SessionStore) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Delete", Args: []any{sessionID}, At: time.Now()})
	return m.DeleteErr
}

// Ping implements [store.SessionStore].
func (m *SessionStore) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Ping", At: time.Now()})
	return m.PingErr
}

// Compile-time interface assertion.
var _ store.SessionStore = (*SessionStore)(nil)
