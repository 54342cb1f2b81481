package session

import (
	"sync"
	"time"

	"github.com/MrWong99/talespin/pkg/story"
)

// EventType identifies the kind of an [Event].
type EventType string

const (
	EventTurnAppended         EventType = "turn_appended"
	EventIllustrationAttached EventType = "illustration_attached"
	EventEpisodeRollover      EventType = "episode_rollover"
	EventCharacterAdded       EventType = "character_added"
	EventSaveFailed           EventType = "save_failed"
)

// Event is a notification about a session state change.
type Event struct {
	Type      EventType        `json:"type"`
	SessionID string           `json:"session_id"`
	At        time.Time        `json:"at"`
	Turn      *story.Turn      `json:"turn,omitempty"`
	Character *story.Character `json:"character,omitempty"`
	Episode   int              `json:"episode,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// eventBuffer is the per-subscriber channel capacity.
const eventBuffer = 32

// broadcaster fans events out to subscribers. Publishing never blocks: a
// subscriber whose buffer is full misses the event.
type broadcaster struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	next   int
	closed bool
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[int]chan Event)}
}

// subscribe registers a new subscriber. The returned cancel func removes it
// and closes its channel.
func (b *broadcaster) subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, eventBuffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.next
	b.next++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

func (b *broadcaster) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// close closes every subscriber channel. Later subscriptions receive a
// closed channel.
func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
