// Package session implements the narrative session engine: the stateful
// orchestration that drives one story forward turn by turn.
//
// A [Session] owns the message log and every per-session counter (episode
// progress, illustration quota, agent prompt cadence) so that any number of
// sessions can run isolated in one process. It accepts one player action at
// a time, calls the narrator with a bounded deadline, appends the narrator
// turn, advances the episode, dispatches best-effort illustrations, recomputes
// the memory summary and schedules a debounced autosave.
package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/talespin/internal/observe"
	"github.com/MrWong99/talespin/pkg/narrator"
	"github.com/MrWong99/talespin/pkg/provider/image"
	"github.com/MrWong99/talespin/pkg/store"
	"github.com/MrWong99/talespin/pkg/story"
)

// openingAction is sent to the narrator to begin a story.
const openingAction = "Begin the story in the setting: "

// Recaller finds earlier turns relevant to an action. It is used when the
// narrator history is truncated. Implementations are best-effort: errors are
// logged and ignored by the session.
type Recaller interface {
	// Index makes turn available for later recall.
	Index(ctx context.Context, sessionID string, turn story.Turn) error

	// Recall returns up to limit turns of the session most similar to query.
	Recall(ctx context.Context, sessionID, query string, limit int) ([]story.Turn, error)
}

// Config configures a [Session].
type Config struct {
	// ID identifies the session. Ignored when Snapshot is set. Defaults to a
	// new UUID.
	ID string

	// Settings describes the story of a fresh session.
	Settings story.Settings

	// Toggles overrides the default feature toggles of a fresh session.
	Toggles *story.Toggles

	// Snapshot resumes a persisted session.
	Snapshot *store.Snapshot

	// Narrator generates the story. Required.
	Narrator narrator.Narrator

	// Images generates illustrations. Nil disables illustration.
	Images image.Provider

	// Store persists snapshots. Nil disables autosave.
	Store store.SessionStore

	// Recaller supplies recalled passages when HistoryLimit truncates the
	// history. Optional.
	Recaller Recaller

	// Tagger tags user actions that carry no explicit tags. Defaults to a
	// [KeywordTagger].
	Tagger Tagger

	// Tuning holds the numeric knobs. Zero fields take the defaults.
	Tuning Tuning

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Seed seeds the agent prompt character choice. Zero picks a random seed.
	Seed uint64

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time

	// NewID generates turn IDs. Defaults to uuid.NewString.
	NewID func() string
}

// TurnResult describes the outcome of one narration.
type TurnResult struct {
	// UserTurn is the player's turn. Nil for the story opening.
	UserTurn *story.Turn `json:"user_turn,omitempty"`

	// NarratorTurn is the appended narrator turn.
	NarratorTurn story.Turn `json:"narrator_turn"`

	// Episode reports the episode after this turn.
	Episode EpisodeUpdate `json:"episode"`

	// NewCharacters lists characters added to the roster by this turn.
	NewCharacters []story.Character `json:"new_characters,omitempty"`

	// IllustrationPending is true when an illustration was dispatched for
	// the narrator turn.
	IllustrationPending bool `json:"illustration_pending"`

	// Memory is the recomputed memory summary.
	Memory story.MemorySummary `json:"memory"`
}

// ActionOption tags a submitted action explicitly.
type ActionOption func(*Tags, *tagOverride)

type tagOverride struct {
	tone     bool
	decision bool
}

// WithTone sets the emotional tone of the action.
func WithTone(t story.Tone) ActionOption {
	return func(tags *Tags, o *tagOverride) {
		tags.Tone = t
		o.tone = true
	}
}

// WithKeyDecision flags the action as a key decision with the given summary.
// An empty summary marks the action as not being a key decision.
func WithKeyDecision(summary string) ActionOption {
	return func(tags *Tags, o *tagOverride) {
		tags.KeyDecision = strings.TrimSpace(summary)
		o.decision = true
	}
}

// Session drives one story. All methods are safe for concurrent use; at most
// one narration runs at a time.
type Session struct {
	id          string
	narrator    narrator.Narrator
	illustrator *Illustrator
	autosaver   *Autosaver
	recaller    Recaller
	tagger      Tagger
	tuning      Tuning
	metrics     *observe.Metrics
	injector    *PromptInjector
	now         func() time.Time
	newID       func() string
	log         *MessageLog
	events      *broadcaster

	inFlight atomic.Bool
	ops      sync.WaitGroup
	bg       sync.WaitGroup

	mu         sync.Mutex
	progress   story.EpisodeProgress
	agentTurns int
	roster     []story.Character
	toggles    story.Toggles
	settings   story.Settings
	closed     bool
	// stopped is set once Close has stopped waiting; later changes could
	// no longer be persisted.
	stopped bool
}

// New creates a fresh session or resumes cfg.Snapshot.
func New(cfg Config) (*Session, error) {
	if cfg.Narrator == nil {
		return nil, fmt.Errorf("session: narrator is required")
	}

	s := &Session{
		narrator: cfg.Narrator,
		recaller: cfg.Recaller,
		tagger:   cfg.Tagger,
		tuning:   cfg.Tuning.Normalize(),
		metrics:  cfg.Metrics,
		now:      cfg.Now,
		newID:    cfg.NewID,
		events:   newBroadcaster(),
	}
	if s.tagger == nil {
		s.tagger = NewKeywordTagger()
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	s.injector = NewPromptInjector(seed)

	if cfg.Snapshot != nil {
		st := StateFromSnapshot(*cfg.Snapshot)
		if st.ID == "" {
			return nil, fmt.Errorf("session: snapshot has no session id")
		}
		log, err := NewMessageLog(st.Turns)
		if err != nil {
			return nil, fmt.Errorf("session: restore %s: %w", st.ID, err)
		}
		s.id = st.ID
		s.log = log
		s.progress = st.Progress
		s.agentTurns = st.AgentTurns
		s.roster = st.Roster
		s.toggles = st.Toggles
		s.settings = st.Settings
	} else {
		s.id = cfg.ID
		if s.id == "" {
			s.id = uuid.NewString()
		}
		s.log = &MessageLog{}
		s.progress = story.FirstEpisode()
		s.settings = cfg.Settings
		s.roster, _ = story.MergeRoster(nil, cfg.Settings.InitialCharacters)
		s.toggles = story.DefaultToggles()
		if cfg.Toggles != nil {
			s.toggles = *cfg.Toggles
		}
	}

	if cfg.Images != nil {
		s.illustrator = NewIllustrator(cfg.Images, s.tuning.MaxConcurrentIllustrations, s.tuning.IllustrationTimeout, s.metrics)
	}
	if cfg.Store != nil {
		s.autosaver = NewAutosaver(AutosaverConfig{
			Store:     cfg.Store,
			SessionID: s.id,
			Delay:     s.tuning.AutosaveDelay,
			Timeout:   s.tuning.SaveTimeout,
			Metrics:   s.metrics,
			OnFailure: func(err error) {
				s.publish(Event{Type: EventSaveFailed, Error: err.Error()})
			},
		})
	}
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Busy reports whether a narration is in flight.
func (s *Session) Busy() bool { return s.inFlight.Load() }

// SaveDegraded reports whether the most recent autosave failed.
func (s *Session) SaveDegraded() bool {
	return s.autosaver != nil && s.autosaver.IsDegraded()
}

// Subscribe returns a channel of session events and a func that ends the
// subscription. The channel is closed when the session closes.
func (s *Session) Subscribe() (<-chan Event, func()) {
	return s.events.subscribe()
}

// Start asks the narrator to open the story. It fails with
// [ErrAlreadyStarted] once the log holds any turn.
func (s *Session) Start(ctx context.Context) (*TurnResult, error) {
	release, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	if s.log.Len() > 0 {
		return nil, ErrAlreadyStarted
	}
	s.mu.Lock()
	setting := s.settings.Setting
	s.mu.Unlock()

	return s.narrate(ctx, nil, openingAction+setting, nil)
}

// SubmitAction appends the player's action and narrates the continuation.
//
// While another action is in flight it fails immediately with [ErrBusy].
// Generation failures leave the action in the log and the session idle; see
// [IsRetryable] and [Session.Retry].
func (s *Session) SubmitAction(ctx context.Context, text string, opts ...ActionOption) (*TurnResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyAction
	}
	release, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	tags := s.tagAction(text, opts)

	s.mu.Lock()
	s.agentTurns++
	var directive string
	if s.toggles.AgentPrompts {
		directive = s.injector.BuildSuffix(s.agentTurns, s.roster)
	}
	history := s.log.Turns()
	user := story.Turn{
		ID:          s.newID(),
		Role:        story.RoleUser,
		Content:     text,
		Directive:   directive,
		CreatedAt:   s.now(),
		Episode:     s.progress.Episode,
		Tone:        tags.Tone,
		KeyDecision: tags.KeyDecision,
	}
	if err := s.log.Append(user); err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("session: submit action: %w", err)
	}
	s.scheduleSaveLocked()
	s.mu.Unlock()

	s.metrics.RecordTurn(ctx, string(story.RoleUser))
	s.publish(Event{Type: EventTurnAppended, Turn: &user})

	return s.narrate(ctx, &user, user.Action(), history)
}

// Retry narrates the last player action again after a failed attempt. It
// fails with [ErrNothingToRetry] when the last turn is not a player turn.
func (s *Session) Retry(ctx context.Context) (*TurnResult, error) {
	release, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	turns := s.log.Turns()
	if len(turns) == 0 || turns[len(turns)-1].Role != story.RoleUser {
		return nil, ErrNothingToRetry
	}
	user := turns[len(turns)-1]
	return s.narrate(ctx, &user, user.Action(), turns[:len(turns)-1])
}

// acquire claims the single narration slot.
func (s *Session) acquire() (release func(), err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSessionClosed
	}
	if !s.inFlight.CompareAndSwap(false, true) {
		s.metrics.BusyRejections.Add(context.Background(), 1)
		return nil, ErrBusy
	}
	s.ops.Add(1)
	return func() {
		s.inFlight.Store(false)
		s.ops.Done()
	}, nil
}

func (s *Session) tagAction(text string, opts []ActionOption) Tags {
	var (
		tags     Tags
		override tagOverride
	)
	for _, o := range opts {
		o(&tags, &override)
	}
	if override.tone && override.decision {
		return tags
	}
	auto := s.tagger.Tag(text)
	if !override.tone {
		tags.Tone = auto.Tone
	}
	if !override.decision {
		tags.KeyDecision = auto.KeyDecision
	}
	return tags
}

// narrate calls the narrator for action and applies a successful response.
// history holds the turns preceding the action.
func (s *Session) narrate(ctx context.Context, user *story.Turn, action string, history []story.Turn) (*TurnResult, error) {
	s.mu.Lock()
	req := narrator.Request{
		Action:     action,
		Settings:   s.settings,
		Characters: slices.Clone(s.roster),
		Episode:    s.progress.Episode,
	}
	memory := s.tuning.synthesizer().Synthesize(s.log.Turns(), s.roster)
	s.mu.Unlock()
	req.Memory = &memory
	req.History, req.Recalled = s.historyFor(ctx, action, history)

	resp, err := s.generate(ctx, req)
	if err != nil {
		observe.Logger(ctx).Warn("narration failed",
			"session_id", s.id,
			"retryable", IsRetryable(err),
			"error", err,
		)
		return nil, err
	}
	return s.complete(ctx, user, resp)
}

// historyFor applies the history limit and fetches recalled passages for the
// turns that fell outside the window.
func (s *Session) historyFor(ctx context.Context, action string, history []story.Turn) (window, recalled []story.Turn) {
	limit := s.tuning.HistoryLimit
	if limit <= 0 || len(history) <= limit {
		return history, nil
	}
	window = history[len(history)-limit:]
	if s.recaller == nil {
		return window, nil
	}

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.tuning.RecallTimeout)
	defer cancel()
	found, err := s.recaller.Recall(rctx, s.id, action, s.tuning.RecallLimit+limit)
	if err != nil {
		observe.Logger(ctx).Warn("recall failed, continuing without", "session_id", s.id, "error", err)
		return window, nil
	}
	inWindow := make(map[string]bool, len(window))
	for _, t := range window {
		inWindow[t.ID] = true
	}
	for _, t := range found {
		if inWindow[t.ID] {
			continue
		}
		recalled = append(recalled, t)
		if len(recalled) == s.tuning.RecallLimit {
			break
		}
	}
	return window, recalled
}

// generate runs one bounded narrator call. Only the generation timeout
// cancels the call; the caller going away does not.
func (s *Session) generate(ctx context.Context, req narrator.Request) (*narrator.Response, error) {
	gctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.tuning.GenerationTimeout)
	defer cancel()
	gctx, span := observe.StartSessionSpan(gctx, "session.generate", s.id)
	defer span.End()

	start := time.Now()
	resp, err := s.narrator.Narrate(gctx, req)
	if err == nil && (resp == nil || strings.TrimSpace(resp.Text) == "") {
		err = ErrMalformedResponse
	}

	status := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrMalformedResponse), errors.Is(err, narrator.ErrEmptyText):
		status = "malformed"
		err = fmt.Errorf("session: %s: %w", s.id, ErrMalformedResponse)
	case errors.Is(gctx.Err(), context.DeadlineExceeded):
		status = "timeout"
		err = fmt.Errorf("session: %s after %s: %w", s.id, s.tuning.GenerationTimeout, ErrGenerationTimeout)
	default:
		status = "error"
		err = fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
	s.metrics.GenerationDuration.Record(gctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("status", status)))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return resp, nil
}

// complete appends the narrator turn and updates every derived state.
func (s *Session) complete(ctx context.Context, user *story.Turn, resp *narrator.Response) (*TurnResult, error) {
	tracker := s.tuning.tracker()

	s.mu.Lock()
	var update EpisodeUpdate
	if resp.Episode > s.progress.Episode {
		s.progress, update = tracker.Advance(s.progress, resp.Episode)
	}
	turn := story.Turn{
		ID:        s.newID(),
		Role:      story.RoleNarrator,
		Content:   resp.Text,
		CreatedAt: s.now(),
		Episode:   s.progress.Episode,
		Meta:      resp.Meta,
	}
	if err := s.log.Append(turn); err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("session: append narration: %w", err)
	}

	illustrate := s.illustrator != nil && s.toggles.AutoIllustrate &&
		s.tuning.throttler().Reserve(&s.progress)

	var recorded EpisodeUpdate
	s.progress, recorded = tracker.Record(s.progress, utf8.RuneCountInString(resp.Text))
	if !recorded.RolledOver {
		s.progress.TurnsInEpisode++
	}
	update = update.merge(recorded)

	var added []story.Character
	s.roster, added = story.MergeRoster(s.roster, resp.Characters)
	memory := s.tuning.synthesizer().Synthesize(s.log.Turns(), s.roster)
	setting := s.settings.Setting
	s.scheduleSaveLocked()
	s.mu.Unlock()

	s.metrics.RecordTurn(ctx, string(story.RoleNarrator))
	s.metrics.RecordRollovers(ctx, update.Rollovers)
	s.publish(Event{Type: EventTurnAppended, Turn: &turn})
	if update.RolledOver {
		s.publish(Event{Type: EventEpisodeRollover, Episode: update.Episode})
	}
	for i := range added {
		s.publish(Event{Type: EventCharacterAdded, Character: &added[i]})
	}

	if illustrate {
		s.metrics.RecordIllustration(ctx, "reserved")
		s.illustrator.Dispatch(s.id, turn.ID, IllustrationPrompt(setting, turn.Content), s.deliverIllustration)
	}
	if s.recaller != nil {
		s.indexAsync(turn)
	}

	observe.Logger(ctx).Info("turn narrated",
		"session_id", s.id,
		"turn_id", turn.ID,
		"episode", update.Episode,
		"rolled_over", update.RolledOver,
		"illustrate", illustrate,
		"new_characters", len(added),
	)
	return &TurnResult{
		UserTurn:            user,
		NarratorTurn:        turn,
		Episode:             update,
		NewCharacters:       added,
		IllustrationPending: illustrate,
		Memory:              memory,
	}, nil
}

func (s *Session) indexAsync(turn story.Turn) {
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.tuning.SaveTimeout)
		defer cancel()
		if err := s.recaller.Index(ctx, s.id, turn); err != nil {
			observe.Logger(ctx).Warn("recall index failed", "session_id", s.id, "turn_id", turn.ID, "error", err)
		}
	}()
}

func (s *Session) deliverIllustration(turnID, url string) {
	if err := s.AttachIllustration(turnID, url); err != nil {
		observe.Logger(context.Background()).Warn("illustration dropped",
			"session_id", s.id,
			"turn_id", turnID,
			"error", err,
		)
	}
}

// AttachIllustration sets the illustration of a turn by ID. Attaching to a
// turn that already has an illustration is a no-op. Once Close has finished
// waiting it fails with [ErrSessionClosed].
func (s *Session) AttachIllustration(turnID, url string) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	changed, err := s.log.AttachIllustration(turnID, url)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if !changed {
		s.mu.Unlock()
		return nil
	}
	s.scheduleSaveLocked()
	turn, _ := s.log.Get(turnID)
	s.mu.Unlock()

	s.publish(Event{Type: EventIllustrationAttached, Turn: &turn})
	return nil
}

// AddCharacter adds a user-created character to the roster. A character
// whose name is already known is ignored and reports false.
func (s *Session) AddCharacter(c story.Character) (bool, error) {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return false, ErrInvalidCharacter
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false, ErrSessionClosed
	}
	var added []story.Character
	s.roster, added = story.MergeRoster(s.roster, []story.Character{c})
	if len(added) == 0 {
		s.mu.Unlock()
		return false, nil
	}
	s.scheduleSaveLocked()
	s.mu.Unlock()

	s.publish(Event{Type: EventCharacterAdded, Character: &added[0]})
	return true, nil
}

// SetToggles replaces the feature toggles.
func (s *Session) SetToggles(t story.Toggles) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	s.toggles = t
	s.scheduleSaveLocked()
	return nil
}

// UpdateToggles applies fn to the feature toggles under the session lock and
// returns the result.
func (s *Session) UpdateToggles(fn func(*story.Toggles)) (story.Toggles, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return story.Toggles{}, ErrSessionClosed
	}
	fn(&s.toggles)
	s.scheduleSaveLocked()
	return s.toggles, nil
}

// Memory recomputes the memory summary from the current log and roster.
func (s *Session) Memory() story.MemorySummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tuning.synthesizer().Synthesize(s.log.Turns(), s.roster)
}

// View returns a copy of the current session state.
func (s *Session) View() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stateLocked()
	st.Memory = s.tuning.synthesizer().Synthesize(st.Turns, st.Roster)
	st.Busy = s.inFlight.Load()
	return st
}

func (s *Session) stateLocked() State {
	return State{
		ID:         s.id,
		Turns:      s.log.Turns(),
		Progress:   s.progress,
		AgentTurns: s.agentTurns,
		Roster:     slices.Clone(s.roster),
		Toggles:    s.toggles,
		Settings:   s.settings,
	}
}

// Snapshot returns the persisted form of the current state.
func (s *Session) Snapshot() store.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked().Snapshot(s.now())
}

// scheduleSaveLocked hands the current state to the autosaver. Callers must
// hold s.mu.
func (s *Session) scheduleSaveLocked() {
	if s.autosaver == nil {
		return
	}
	s.autosaver.Schedule(s.stateLocked().Snapshot(s.now()))
}

func (s *Session) publish(ev Event) {
	ev.SessionID = s.id
	ev.At = s.now()
	s.events.publish(ev)
}

// Close rejects further actions, waits for the running narration and
// in-flight illustrations, flushes the pending autosave and ends all event
// subscriptions. Waiting stops when ctx is done. Close is idempotent.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	var errs []error
	if err := waitGroupContext(ctx, &s.ops); err != nil {
		errs = append(errs, fmt.Errorf("wait for narration: %w", err))
	}
	if s.illustrator != nil {
		if err := s.illustrator.Wait(ctx); err != nil {
			errs = append(errs, fmt.Errorf("wait for illustrations: %w", err))
		}
	}
	if err := waitGroupContext(ctx, &s.bg); err != nil {
		errs = append(errs, fmt.Errorf("wait for recall indexing: %w", err))
	}
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	if s.autosaver != nil {
		if err := s.autosaver.Flush(ctx); err != nil {
			errs = append(errs, err)
		}
		s.autosaver.Stop()
	}
	s.events.close()

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("session: close %s: %w", s.id, err)
	}
	return nil
}
