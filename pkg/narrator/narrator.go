// Package narrator defines the Narrator interface for narrative generation
// backends.
//
// A narrator receives the player's latest action together with the story
// settings and the full turn history, and returns the next passage of the
// story. Narrators are stateless per call: the session engine resends the
// complete context every time, so an aborted request never corrupts state on
// the narrator side.
//
// Implementations must be safe for concurrent use and must return promptly
// when ctx is cancelled.
package narrator

import (
	"context"
	"errors"

	"github.com/MrWong99/talespin/pkg/story"
)

// ErrEmptyText is returned (possibly wrapped) by implementations that
// received a response without any story text.
var ErrEmptyText = errors.New("narrator: response contains no text")

// Request carries everything a narrator needs to continue the story.
type Request struct {
	// Action is the player's action including any injected directive.
	Action string `json:"action"`

	// Settings describes the story being told.
	Settings story.Settings `json:"settings"`

	// History is the ordered turn history preceding Action.
	History []story.Turn `json:"history"`

	// Characters is the current roster.
	Characters []story.Character `json:"characters,omitempty"`

	// Memory is the synthesized relationship and key-moment summary.
	Memory *story.MemorySummary `json:"memory,omitempty"`

	// Episode is the session's current episode number.
	Episode int `json:"episode,omitempty"`

	// Recalled holds earlier turns that fell outside History but are
	// relevant to Action.
	Recalled []story.Turn `json:"recalled,omitempty"`
}

// Response is the narrator's continuation.
type Response struct {
	// Text is the story passage. An empty Text is a malformed response.
	Text string `json:"text"`

	// Episode optionally reports the episode the narrator believes the story
	// is in. Zero means "not reported".
	Episode int `json:"episode,omitempty"`

	// Characters lists characters introduced or mentioned by the passage.
	Characters []story.Character `json:"characters,omitempty"`

	// Meta carries optional scene annotations.
	Meta *story.SceneMeta `json:"meta,omitempty"`
}

// Narrator is the abstraction over any narrative generation backend.
type Narrator interface {
	// Narrate produces the continuation for req. It returns an error when the
	// backend fails, when ctx is cancelled, or when the response cannot be
	// interpreted.
	Narrate(ctx context.Context, req Request) (*Response, error)
}
