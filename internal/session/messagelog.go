package session

import (
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/talespin/pkg/story"
)

// MessageLog is the ordered, append-only turn history of a session.
//
// Turns are located by ID through an index so that illustrations arriving
// out of order attach to the right turn regardless of how many turns were
// appended since.
//
// All methods are safe for concurrent use.
type MessageLog struct {
	mu    sync.RWMutex
	turns []story.Turn
	index map[string]int
}

// NewMessageLog returns a log pre-populated with turns. It fails if the turns
// violate the log invariants (unique IDs, non-decreasing episodes).
func NewMessageLog(turns []story.Turn) (*MessageLog, error) {
	l := &MessageLog{index: make(map[string]int, len(turns))}
	for _, t := range turns {
		if err := l.Append(t); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// Append adds t to the end of the log.
func (l *MessageLog) Append(t story.Turn) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.index == nil {
		l.index = make(map[string]int)
	}
	if t.ID == "" {
		return fmt.Errorf("session: append turn: empty id")
	}
	if _, ok := l.index[t.ID]; ok {
		return fmt.Errorf("session: append turn %q: %w", t.ID, ErrDuplicateTurn)
	}
	if n := len(l.turns); n > 0 && t.Episode < l.turns[n-1].Episode {
		return fmt.Errorf("session: append turn %q (episode %d after %d): %w",
			t.ID, t.Episode, l.turns[n-1].Episode, ErrEpisodeRegression)
	}

	l.index[t.ID] = len(l.turns)
	l.turns = append(l.turns, t)
	return nil
}

// AttachIllustration sets the illustration of the turn with the given ID.
// The first attachment wins: attaching to a turn that already carries an
// illustration is a no-op and reports changed == false.
func (l *MessageLog) AttachIllustration(turnID, url string) (changed bool, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	i, ok := l.index[turnID]
	if !ok {
		return false, fmt.Errorf("session: attach illustration to %q: %w", turnID, ErrTurnNotFound)
	}
	if l.turns[i].Illustration != "" || url == "" {
		return false, nil
	}
	l.turns[i].Illustration = url
	return true, nil
}

// Get returns the turn with the given ID.
func (l *MessageLog) Get(turnID string) (story.Turn, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	i, ok := l.index[turnID]
	if !ok {
		return story.Turn{}, false
	}
	return l.turns[i], true
}

// Last returns the most recent turn.
func (l *MessageLog) Last() (story.Turn, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if len(l.turns) == 0 {
		return story.Turn{}, false
	}
	return l.turns[len(l.turns)-1], true
}

// Turns returns a copy of all turns in insertion order.
func (l *MessageLog) Turns() []story.Turn {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return slices.Clone(l.turns)
}

// Tail returns a copy of the last n turns. A non-positive n returns all turns.
func (l *MessageLog) Tail(n int) []story.Turn {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n <= 0 || n >= len(l.turns) {
		return slices.Clone(l.turns)
	}
	return slices.Clone(l.turns[len(l.turns)-n:])
}

// Len returns the number of turns.
func (l *MessageLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return len(l.turns)
}
