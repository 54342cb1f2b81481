package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/talespin/internal/observe"
	"github.com/MrWong99/talespin/pkg/store"
)

// Autosaver debounces writes of session snapshots to a [store.SessionStore].
//
// Every [Autosaver.Schedule] call replaces the pending snapshot and restarts
// the delay timer, so only the last snapshot of a burst is written. Writes are
// serialised and never go backwards: a snapshot older than the last written
// one is dropped. Failures never propagate to the caller. They are logged,
// counted and reported through the failure callback, and the store is marked
// degraded until the next successful write.
//
// All methods are safe for concurrent use.
type Autosaver struct {
	store     store.SessionStore
	sessionID string
	delay     time.Duration
	timeout   time.Duration
	metrics   *observe.Metrics
	onFailure func(error)

	mu      sync.Mutex
	timer   *time.Timer
	pending *store.Snapshot
	seq     uint64
	stopped bool
	writing sync.WaitGroup

	writeMu sync.Mutex
	written uint64

	degraded atomic.Bool
}

// AutosaverConfig configures an [Autosaver].
type AutosaverConfig struct {
	// Store receives the snapshots.
	Store store.SessionStore

	// SessionID is used for logging only.
	SessionID string

	// Delay is the debounce window. Defaults to [DefaultAutosaveDelay].
	Delay time.Duration

	// Timeout bounds a single write. Defaults to [DefaultSaveTimeout].
	Timeout time.Duration

	// Metrics records save latency and outcomes. Defaults to
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// OnFailure, if set, is called after every failed write.
	OnFailure func(error)
}

// NewAutosaver creates an [Autosaver].
func NewAutosaver(cfg AutosaverConfig) *Autosaver {
	delay := cfg.Delay
	if delay <= 0 {
		delay = DefaultAutosaveDelay
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultSaveTimeout
	}
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Autosaver{
		store:     cfg.Store,
		sessionID: cfg.SessionID,
		delay:     delay,
		timeout:   timeout,
		metrics:   m,
		onFailure: cfg.OnFailure,
	}
}

// Schedule replaces the pending snapshot with snap and restarts the timer.
// It is a no-op after [Autosaver.Stop].
func (a *Autosaver) Schedule(snap store.Snapshot) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopped {
		return
	}
	a.seq++
	a.pending = &snap
	if a.timer != nil {
		a.timer.Stop()
	}
	seq := a.seq
	a.timer = time.AfterFunc(a.delay, func() { a.fire(seq) })
}

// fire writes the pending snapshot if no newer Schedule call superseded the
// timer that triggered it.
func (a *Autosaver) fire(seq uint64) {
	a.mu.Lock()
	if seq != a.seq || a.pending == nil || a.stopped {
		a.mu.Unlock()
		return
	}
	snap := *a.pending
	a.pending = nil
	a.timer = nil
	a.writing.Add(1)
	a.mu.Unlock()

	defer a.writing.Done()
	_ = a.write(context.Background(), seq, snap)
}

// Flush writes the pending snapshot immediately, if any, and waits for writes
// already in progress. It returns the error of its own write.
func (a *Autosaver) Flush(ctx context.Context) error {
	a.mu.Lock()
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	pending := a.pending
	seq := a.seq
	a.pending = nil
	a.mu.Unlock()

	var err error
	if pending != nil {
		err = a.write(ctx, seq, *pending)
	}
	a.writing.Wait()
	return err
}

// Stop cancels the pending write. Later Schedule calls are ignored. Safe to
// call multiple times.
func (a *Autosaver) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stopped = true
	a.pending = nil
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

// Pending reports whether a snapshot is waiting for its timer.
func (a *Autosaver) Pending() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pending != nil
}

// IsDegraded reports whether the most recent write failed.
func (a *Autosaver) IsDegraded() bool {
	return a.degraded.Load()
}

func (a *Autosaver) write(ctx context.Context, seq uint64, snap store.Snapshot) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	if seq <= a.written {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	ctx, span := observe.StartSessionSpan(ctx, "session.autosave", a.sessionID)
	defer span.End()

	start := time.Now()
	err := a.store.Save(ctx, snap)
	a.metrics.SaveDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		a.degraded.Store(true)
		a.metrics.RecordAutosave(ctx, "error")
		span.RecordError(err)
		observe.Logger(ctx).Warn("autosave failed, state kept in memory",
			"session_id", a.sessionID,
			"turns", len(snap.Turns),
			"error", err,
		)
		if a.onFailure != nil {
			a.onFailure(err)
		}
		return fmt.Errorf("session: autosave %s: %w", a.sessionID, err)
	}

	a.written = seq
	if a.degraded.Swap(false) {
		slog.Info("autosave recovered", "session_id", a.sessionID)
	}
	a.metrics.RecordAutosave(ctx, "ok")
	return nil
}
