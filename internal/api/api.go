// Package api exposes story sessions over HTTP.
//
// Routes:
//
//	POST   /sessions                    open a session
//	GET    /sessions/{id}               session state
//	GET    /sessions/{id}/memory        memory summary
//	POST   /sessions/{id}/start         generate the opening passage
//	POST   /sessions/{id}/actions       submit a player action
//	POST   /sessions/{id}/retry         regenerate for an unanswered action
//	POST   /sessions/{id}/characters    add a character to the roster
//	PATCH  /sessions/{id}/toggles       change feature toggles
//	DELETE /sessions/{id}               close (and with ?purge=true delete)
//	GET    /sessions/{id}/events        websocket event stream
//
// Errors are JSON objects {"error": "..."}; a busy session answers 409, a
// generation timeout 504 and any other narrator failure 502.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/talespin/internal/health"
	"github.com/MrWong99/talespin/internal/observe"
	"github.com/MrWong99/talespin/internal/session"
	"github.com/MrWong99/talespin/pkg/store"
	"github.com/MrWong99/talespin/pkg/story"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Sessions is the session registry the handlers operate on.
type Sessions interface {
	Open(ctx context.Context, settings story.Settings, toggles *story.Toggles) (*session.Session, error)
	Get(ctx context.Context, id string) (*session.Session, error)
	Close(ctx context.Context, id string, purge bool) error
}

// Server holds the HTTP handlers.
type Server struct {
	sessions Sessions
	health   *health.Handler
	metrics  *observe.Metrics
	metricsH http.Handler
}

// Option configures a [Server].
type Option func(*Server)

// WithHealth mounts h at /healthz and /readyz.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetrics sets the instruments used by the request middleware.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithMetricsHandler overrides the /metrics handler. The default serves the
// Prometheus default registry.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsH = h }
}

// New creates a Server for sessions.
func New(sessions Sessions, opts ...Option) *Server {
	s := &Server{sessions: sessions}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.metricsH == nil {
		s.metricsH = promhttp.Handler()
	}
	return s
}

// Handler returns the routed handler wrapped in the observability
// middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sessions", s.handleOpen)
	mux.HandleFunc("GET /sessions/{id}", s.handleGet)
	mux.HandleFunc("GET /sessions/{id}/memory", s.handleMemory)
	mux.HandleFunc("POST /sessions/{id}/start", s.handleStart)
	mux.HandleFunc("POST /sessions/{id}/actions", s.handleAction)
	mux.HandleFunc("POST /sessions/{id}/retry", s.handleRetry)
	mux.HandleFunc("POST /sessions/{id}/characters", s.handleAddCharacter)
	mux.HandleFunc("PATCH /sessions/{id}/toggles", s.handleToggles)
	mux.HandleFunc("DELETE /sessions/{id}", s.handleClose)
	mux.HandleFunc("GET /sessions/{id}/events", s.handleEvents)
	mux.Handle("GET /metrics", s.metricsH)
	if s.health != nil {
		s.health.Register(mux)
	}
	return observe.Middleware(s.metrics)(mux)
}

type errorBody struct {
	Error string `json:"error"`
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, session.ErrTurnNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrBusy),
		errors.Is(err, session.ErrAlreadyStarted),
		errors.Is(err, session.ErrNothingToRetry):
		return http.StatusConflict
	case errors.Is(err, session.ErrEmptyAction),
		errors.Is(err, session.ErrInvalidCharacter):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrGenerationTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, session.ErrGenerationFailed),
		errors.Is(err, session.ErrMalformedResponse):
		return http.StatusBadGateway
	case errors.Is(err, session.ErrSessionClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled):
		return 499
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	log := observe.Logger(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "err", err)
	} else {
		log.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "err", err)
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("api: encode response", "err", err)
	}
}

var errBadJSON = errors.New("api: malformed request body")

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: errBadJSON.Error() + ": " + err.Error()})
		return false
	}
	return true
}
