// Package app wires the talespin subsystems into a running server.
//
// The App owns the full lifecycle: New builds the session manager and HTTP
// stack, Run serves until its context is cancelled, and Shutdown flushes
// every open session and releases backends in reverse order.
//
// For testing, inject collaborators via functional options. When an option
// is not provided, New uses in-process defaults.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/talespin/internal/api"
	"github.com/MrWong99/talespin/internal/config"
	"github.com/MrWong99/talespin/internal/health"
	"github.com/MrWong99/talespin/internal/observe"
	"github.com/MrWong99/talespin/pkg/store"
)

// DefaultShutdownTimeout bounds Shutdown when the config sets none.
const DefaultShutdownTimeout = 15 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	store     store.SessionStore
	metrics   *observe.Metrics
	watcher   *config.Watcher
	logLevel  *slog.LevelVar

	manager *SessionManager
	server  *http.Server

	// closers are called in reverse order during Shutdown.
	closers []func() error

	stopOnce sync.Once
	stopErr  error
}

// Option is a functional option for New.
type Option func(*App)

// WithSessionStore sets the session store. Without it sessions live in
// process memory only.
func WithSessionStore(s store.SessionStore) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics sets the metric instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithWatcher runs w alongside the server and applies its reloads.
func WithWatcher(w *config.Watcher) Option {
	return func(a *App) { a.watcher = w }
}

// WithLogLevel lets configuration reloads change the log level.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = v }
}

// WithCloser registers fn to run during Shutdown, after all sessions are
// closed. Closers run in reverse registration order.
func WithCloser(fn func() error) Option {
	return func(a *App) { a.closers = append(a.closers, fn) }
}

// New creates an App from cfg and the already constructed providers.
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	manager, err := NewSessionManager(SessionManagerConfig{
		Providers: providers,
		Store:     a.store,
		Tuning:    cfg.Tuning(),
		Metrics:   a.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a.manager = manager

	checkers := []health.Checker{
		{Name: "autosave", Check: manager.CheckAutosave, Optional: true},
	}
	if a.store != nil {
		checkers = append(checkers, health.PingChecker("store", a.store))
	}
	srv := api.New(manager,
		api.WithHealth(health.New(checkers...)),
		api.WithMetrics(a.metrics),
	)

	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if a.server.Addr == "" {
		a.server.Addr = ":8080"
	}
	return a, nil
}

// Manager returns the session manager.
func (a *App) Manager() *SessionManager { return a.manager }

// Handler returns the HTTP handler served by Run.
func (a *App) Handler() http.Handler { return a.server.Handler }

// Run listens on the configured address and serves until ctx is cancelled,
// then shuts down. It returns the first serve or shutdown error.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", a.server.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("http server listening", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})

	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		timeout := a.cfg.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = DefaultShutdownTimeout
		}
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		return a.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Shutdown stops the HTTP server, closes every open session (flushing
// pending saves) and runs the registered closers. It is idempotent.
func (a *App) Shutdown(ctx context.Context) error {
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "open_sessions", len(a.manager.List()))

		var errs []error
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if err := a.manager.CloseAll(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close sessions: %w", err))
		}
		for _, fn := range slices.Backward(a.closers) {
			if err := fn(); err != nil {
				errs = append(errs, err)
			}
		}
		if err := errors.Join(errs...); err != nil {
			a.stopErr = fmt.Errorf("app: shutdown: %w", err)
		}
	})
	return a.stopErr
}

// ApplyConfig applies the hot-reloadable parts of a configuration change.
// It is meant as the [config.Watcher] callback.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(ParseLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.TuningChanged {
		a.manager.SetTuning(d.NewTuning)
		slog.Info("session tuning changed; applies to sessions opened from now on")
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("configuration changes need a restart to take effect", "sections", d.RestartRequired)
	}
}

// ParseLevel maps a configured level to its slog level. Unknown and empty
// levels map to info.
func ParseLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}
