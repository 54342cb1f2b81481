package app

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/talespin/internal/observe"
	"github.com/MrWong99/talespin/internal/session"
	"github.com/MrWong99/talespin/pkg/narrator"
	"github.com/MrWong99/talespin/pkg/provider/image"
	"github.com/MrWong99/talespin/pkg/store"
	"github.com/MrWong99/talespin/pkg/story"
)

// ErrShuttingDown is returned when a session is opened or resumed after
// CloseAll. It matches [session.ErrSessionClosed].
var ErrShuttingDown = fmt.Errorf("app: shutting down: %w", session.ErrSessionClosed)

// IndexPurger removes a session's recall entries.
type IndexPurger interface {
	DeleteSession(ctx context.Context, sessionID string) error
}

// Providers holds the collaborators shared by every session. Nil Images
// disables illustrations; nil Recaller disables long-history recall.
type Providers struct {
	Narrator narrator.Narrator
	Images   image.Provider
	Recaller session.Recaller

	// RecallIndex, when set, is purged together with the stored snapshot.
	RecallIndex IndexPurger
}

// SessionInfo describes an open session.
type SessionInfo struct {
	ID           string    `json:"id"`
	OpenedAt     time.Time `json:"opened_at"`
	Busy         bool      `json:"busy"`
	SaveDegraded bool      `json:"save_degraded"`
}

// SessionManagerConfig holds all dependencies for a [SessionManager].
type SessionManagerConfig struct {
	Providers *Providers
	Store     store.SessionStore
	Tuning    session.Tuning
	Metrics   *observe.Metrics

	// Now defaults to time.Now.
	Now func() time.Time
}

type openSession struct {
	sess     *session.Session
	openedAt time.Time
}

// SessionManager opens, indexes and closes story sessions. Sessions not in
// memory are resumed from the store on first access. All exported methods are
// safe for concurrent use.
type SessionManager struct {
	providers *Providers
	store     store.SessionStore
	metrics   *observe.Metrics
	now       func() time.Time

	mu       sync.Mutex
	tuning   session.Tuning
	sessions map[string]openSession
	closed   bool
}

// NewSessionManager creates a SessionManager with the given dependencies.
// A nil store keeps sessions in process memory only.
func NewSessionManager(cfg SessionManagerConfig) (*SessionManager, error) {
	if cfg.Providers == nil || cfg.Providers.Narrator == nil {
		return nil, fmt.Errorf("app: a narrator is required")
	}
	sm := &SessionManager{
		providers: cfg.Providers,
		store:     cfg.Store,
		metrics:   cfg.Metrics,
		now:       cfg.Now,
		tuning:    cfg.Tuning.Normalize(),
		sessions:  make(map[string]openSession),
	}
	if sm.store == nil {
		sm.store = store.NewMemStore()
	}
	if sm.metrics == nil {
		sm.metrics = observe.DefaultMetrics()
	}
	if sm.now == nil {
		sm.now = time.Now
	}
	return sm, nil
}

// Tuning returns the tuning applied to newly opened sessions.
func (sm *SessionManager) Tuning() session.Tuning {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.tuning
}

// SetTuning replaces the tuning for sessions opened afterwards. Open
// sessions keep theirs.
func (sm *SessionManager) SetTuning(t session.Tuning) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.tuning = t.Normalize()
}

func (sm *SessionManager) config(id string) session.Config {
	return session.Config{
		ID:       id,
		Narrator: sm.providers.Narrator,
		Images:   sm.providers.Images,
		Recaller: sm.providers.Recaller,
		Store:    sm.store,
		Tuning:   sm.Tuning(),
		Metrics:  sm.metrics,
		Now:      sm.now,
	}
}

// Open starts a fresh session with a new id and persists its initial
// snapshot so it can be resumed before the first turn.
func (sm *SessionManager) Open(ctx context.Context, settings story.Settings, toggles *story.Toggles) (*session.Session, error) {
	cfg := sm.config(uuid.NewString())
	cfg.Settings = settings
	cfg.Toggles = toggles

	sess, err := session.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("app: open session: %w", err)
	}
	if sess, err = sm.track(ctx, sess); err != nil {
		return nil, err
	}
	if err := sm.store.Save(ctx, sess.Snapshot()); err != nil {
		// The autosave gateway retries with the first turn.
		slog.Warn("initial session save failed", "session_id", sess.ID(), "err", err)
	}
	slog.Info("session opened", "session_id", sess.ID(), "story", settings.Name)
	return sess, nil
}

// Get returns the open session id, resuming it from the store if needed.
// Unknown ids yield an error wrapping [store.ErrNotFound].
func (sm *SessionManager) Get(ctx context.Context, id string) (*session.Session, error) {
	sm.mu.Lock()
	if e, ok := sm.sessions[id]; ok {
		sm.mu.Unlock()
		return e.sess, nil
	}
	closed := sm.closed
	sm.mu.Unlock()
	if closed {
		return nil, ErrShuttingDown
	}

	snap, err := sm.store.Load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("app: load session %s: %w", id, err)
	}
	cfg := sm.config(id)
	cfg.Snapshot = snap
	sess, err := session.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("app: resume session %s: %w", id, err)
	}

	sess, err = sm.track(ctx, sess)
	if err != nil {
		return nil, err
	}
	slog.Info("session resumed", "session_id", id, "turns", len(snap.Turns))
	return sess, nil
}

// track registers sess. When another session with the same id was
// registered first, sess is closed and the registered one is returned.
func (sm *SessionManager) track(ctx context.Context, sess *session.Session) (*session.Session, error) {
	sm.mu.Lock()
	if sm.closed {
		sm.mu.Unlock()
		_ = sess.Close(ctx)
		return nil, ErrShuttingDown
	}
	if e, ok := sm.sessions[sess.ID()]; ok {
		sm.mu.Unlock()
		_ = sess.Close(ctx)
		return e.sess, nil
	}
	sm.sessions[sess.ID()] = openSession{sess: sess, openedAt: sm.now()}
	sm.mu.Unlock()
	sm.metrics.ActiveSessions.Add(ctx, 1)
	return sess, nil
}

// Close flushes and unloads session id. With purge the stored snapshot and
// recall entries are deleted as well. Closing a session that is not open is
// not an error unless it does not exist in the store either.
func (sm *SessionManager) Close(ctx context.Context, id string, purge bool) error {
	sm.mu.Lock()
	e, ok := sm.sessions[id]
	delete(sm.sessions, id)
	sm.mu.Unlock()

	var errs []error
	if ok {
		sm.metrics.ActiveSessions.Add(ctx, -1)
		if err := e.sess.Close(ctx); err != nil {
			errs = append(errs, err)
		}
		slog.Info("session closed", "session_id", id, "purge", purge)
	} else if !purge {
		if _, err := sm.store.Load(ctx, id); err != nil {
			return fmt.Errorf("app: close session %s: %w", id, err)
		}
	}
	if purge {
		if err := sm.store.Delete(ctx, id); err != nil {
			errs = append(errs, err)
		}
		if sm.providers.RecallIndex != nil {
			if err := sm.providers.RecallIndex.DeleteSession(ctx, id); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("app: close session %s: %w", id, err)
	}
	return nil
}

// CloseAll closes every open session concurrently and rejects new ones.
func (sm *SessionManager) CloseAll(ctx context.Context) error {
	sm.mu.Lock()
	sm.closed = true
	open := make([]openSession, 0, len(sm.sessions))
	for _, e := range sm.sessions {
		open = append(open, e)
	}
	clear(sm.sessions)
	sm.mu.Unlock()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, e := range open {
		wg.Go(func() {
			err := e.sess.Close(ctx)
			sm.metrics.ActiveSessions.Add(ctx, -1)
			if err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		})
	}
	wg.Wait()
	return errors.Join(errs...)
}

// List returns the open sessions ordered by opening time.
func (sm *SessionManager) List() []SessionInfo {
	sm.mu.Lock()
	out := make([]SessionInfo, 0, len(sm.sessions))
	for id, e := range sm.sessions {
		out = append(out, SessionInfo{
			ID:           id,
			OpenedAt:     e.openedAt,
			Busy:         e.sess.Busy(),
			SaveDegraded: e.sess.SaveDegraded(),
		})
	}
	sm.mu.Unlock()

	slices.SortFunc(out, func(a, b SessionInfo) int {
		if c := a.OpenedAt.Compare(b.OpenedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// CheckAutosave reports an error naming the open sessions whose last save
// failed. It backs the optional "autosave" readiness check.
func (sm *SessionManager) CheckAutosave(context.Context) error {
	var degraded []string
	for _, info := range sm.List() {
		if info.SaveDegraded {
			degraded = append(degraded, info.ID)
		}
	}
	if len(degraded) > 0 {
		return fmt.Errorf("%d session(s) not saved: %v", len(degraded), degraded)
	}
	return nil
}
