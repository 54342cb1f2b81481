package session

import "time"

// Default tuning values. All of them can be overridden through [Tuning].
const (
	DefaultRolloverThreshold          = 600
	DefaultRolloverLimit              = 5
	DefaultMaxIllustrations           = 4
	DefaultGenerationTimeout          = 90 * time.Second
	DefaultIllustrationTimeout        = 90 * time.Second
	DefaultAutosaveDelay              = 2 * time.Second
	DefaultSaveTimeout                = 10 * time.Second
	DefaultMaxConcurrentIllustrations = 2
	DefaultConsequenceLength          = 200
	DefaultKeyMomentLimit             = 5
	DefaultRecallLimit                = 3
	DefaultRecallTimeout              = 5 * time.Second
)

// Tuning holds the numeric knobs of a session. Zero fields take the package
// defaults; see [Tuning.Normalize].
type Tuning struct {
	// RolloverThreshold is the number of narrator characters that make up one
	// turn-unit of an episode.
	RolloverThreshold int

	// RolloverLimit is the number of turn-units after which the episode
	// advances.
	RolloverLimit int

	// MaxIllustrations caps illustrations per episode.
	MaxIllustrations int

	// GenerationTimeout bounds a single narrator call.
	GenerationTimeout time.Duration

	// IllustrationTimeout bounds a single illustration call, including time
	// spent waiting for a concurrency slot.
	IllustrationTimeout time.Duration

	// AutosaveDelay is the debounce window of the autosave gateway.
	AutosaveDelay time.Duration

	// SaveTimeout bounds a single store write.
	SaveTimeout time.Duration

	// MaxConcurrentIllustrations limits in-flight illustration calls per
	// session.
	MaxConcurrentIllustrations int

	// HistoryLimit caps the number of turns sent to the narrator as history.
	// Zero sends the full log.
	HistoryLimit int

	// RecallLimit is the maximum number of recalled turns passed along when
	// history is truncated.
	RecallLimit int

	// RecallTimeout bounds the recall lookup that precedes a narrator call.
	// An expired lookup narrates without recalled passages.
	RecallTimeout time.Duration

	// ConsequenceLength is the rune length key-moment consequences are
	// truncated to.
	ConsequenceLength int

	// KeyMomentLimit is the number of most recent key decisions kept in the
	// memory summary.
	KeyMomentLimit int
}

// DefaultTuning returns the default tuning.
func DefaultTuning() Tuning {
	return Tuning{
		RolloverThreshold:          DefaultRolloverThreshold,
		RolloverLimit:              DefaultRolloverLimit,
		MaxIllustrations:           DefaultMaxIllustrations,
		GenerationTimeout:          DefaultGenerationTimeout,
		IllustrationTimeout:        DefaultIllustrationTimeout,
		AutosaveDelay:              DefaultAutosaveDelay,
		SaveTimeout:                DefaultSaveTimeout,
		MaxConcurrentIllustrations: DefaultMaxConcurrentIllustrations,
		RecallLimit:                DefaultRecallLimit,
		RecallTimeout:              DefaultRecallTimeout,
		ConsequenceLength:          DefaultConsequenceLength,
		KeyMomentLimit:             DefaultKeyMomentLimit,
	}
}

// Normalize returns a copy of t with every non-positive field replaced by its
// default. HistoryLimit keeps zero, which means unlimited.
func (t Tuning) Normalize() Tuning {
	d := DefaultTuning()
	if t.RolloverThreshold <= 0 {
		t.RolloverThreshold = d.RolloverThreshold
	}
	if t.RolloverLimit <= 0 {
		t.RolloverLimit = d.RolloverLimit
	}
	if t.MaxIllustrations <= 0 {
		t.MaxIllustrations = d.MaxIllustrations
	}
	if t.GenerationTimeout <= 0 {
		t.GenerationTimeout = d.GenerationTimeout
	}
	if t.IllustrationTimeout <= 0 {
		t.IllustrationTimeout = d.IllustrationTimeout
	}
	if t.AutosaveDelay <= 0 {
		t.AutosaveDelay = d.AutosaveDelay
	}
	if t.SaveTimeout <= 0 {
		t.SaveTimeout = d.SaveTimeout
	}
	if t.MaxConcurrentIllustrations <= 0 {
		t.MaxConcurrentIllustrations = d.MaxConcurrentIllustrations
	}
	if t.HistoryLimit < 0 {
		t.HistoryLimit = 0
	}
	if t.RecallLimit <= 0 {
		t.RecallLimit = d.RecallLimit
	}
	if t.RecallTimeout <= 0 {
		t.RecallTimeout = d.RecallTimeout
	}
	if t.ConsequenceLength <= 0 {
		t.ConsequenceLength = d.ConsequenceLength
	}
	if t.KeyMomentLimit <= 0 {
		t.KeyMomentLimit = d.KeyMomentLimit
	}
	return t
}

func (t Tuning) tracker() EpisodeTracker {
	return EpisodeTracker{Threshold: t.RolloverThreshold, Limit: t.RolloverLimit}
}

func (t Tuning) throttler() Throttler {
	return Throttler{MaxPerEpisode: t.MaxIllustrations, RolloverLimit: t.RolloverLimit}
}

func (t Tuning) synthesizer() Synthesizer {
	return Synthesizer{KeyMomentLimit: t.KeyMomentLimit, ConsequenceLength: t.ConsequenceLength}
}
