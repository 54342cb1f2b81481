// Package story defines the domain types shared by the session engine, the
// narrator and image collaborators, and the persistence layer.
//
// Types in this package carry JSON tags because they cross every boundary of
// the system: they are sent to remote narrative services, stored as JSON
// documents and streamed to clients.
package story

import "time"

// Role identifies the author of a [Turn].
type Role string

const (
	// RoleUser marks a turn written by the player.
	RoleUser Role = "user"

	// RoleNarrator marks a turn produced by the narrative generation service.
	RoleNarrator Role = "narrator"
)

// Tone is the emotional register of a user turn. It drives the relationship
// scores computed by the memory synthesizer.
type Tone string

const (
	ToneNeutral    Tone = "neutral"
	ToneRomantic   Tone = "romantic"
	ToneFriendly   Tone = "friendly"
	ToneAggressive Tone = "aggressive"
	ToneCautious   Tone = "cautious"
)

// Valid reports whether t is one of the known tones. The empty tone is valid
// and means "untagged".
func (t Tone) Valid() bool {
	switch t {
	case "", ToneNeutral, ToneRomantic, ToneFriendly, ToneAggressive, ToneCautious:
		return true
	}
	return false
}

// Turn is one entry of a session's message log.
//
// Turns are immutable once appended, with the single exception of
// Illustration, which may be attached later by turn ID.
type Turn struct {
	// ID uniquely identifies the turn within its session.
	ID string `json:"id"`

	// Role is either RoleUser or RoleNarrator.
	Role Role `json:"role"`

	// Content is the text the user typed or the narrator produced. For user
	// turns it never contains the injected directive.
	Content string `json:"content"`

	// Directive is the agent prompt suffix that was appended to a user
	// action before it was sent to the narrative service. Empty for most turns.
	Directive string `json:"directive,omitempty"`

	// CreatedAt is when the turn was appended.
	CreatedAt time.Time `json:"created_at"`

	// Episode is the episode the turn belongs to.
	Episode int `json:"episode"`

	// Illustration is the URL of an image attached to a narrator turn.
	Illustration string `json:"illustration,omitempty"`

	// Tone is the emotional tone of a user turn.
	Tone Tone `json:"emotional_tone,omitempty"`

	// KeyDecision is a short summary set when a user turn is a key decision.
	KeyDecision string `json:"key_decision_summary,omitempty"`

	// Meta holds scene annotations parsed from a narrator turn.
	Meta *SceneMeta `json:"meta,omitempty"`
}

// Action returns the text sent to the narrative service for a user turn:
// the content followed by the directive, if any.
func (t Turn) Action() string {
	if t.Directive == "" {
		return t.Content
	}
	return t.Content + t.Directive
}

// Character is a member of the session's roster.
type Character struct {
	Name        string `json:"name"`
	Role        string `json:"role"`
	Description string `json:"description"`
	Avatar      string `json:"avatar,omitempty"`
	Level       int    `json:"level,omitempty"`
}

// Toggles are the per-session feature switches.
type Toggles struct {
	// AgentPrompts enables periodic plot/atmosphere/character directives.
	AgentPrompts bool `json:"agent_prompts"`

	// AutoIllustrate enables illustration dispatch for narrator turns.
	AutoIllustrate bool `json:"auto_illustrate"`
}

// DefaultToggles returns the toggles a fresh session starts with.
func DefaultToggles() Toggles {
	return Toggles{AgentPrompts: true, AutoIllustrate: true}
}

// PlayerRole is the part the player takes in the story.
type PlayerRole string

const (
	PlayerAuthor PlayerRole = "author"
	PlayerHero   PlayerRole = "hero"
)

// NarrativeMode selects the narrative perspective.
type NarrativeMode string

const (
	NarrativeFirstPerson  NarrativeMode = "first"
	NarrativeThirdPerson  NarrativeMode = "third"
	NarrativeLoveInterest NarrativeMode = "love-interest"
)

// Settings describes the story a session tells. It is sent verbatim to the
// narrative service and persisted with the session.
type Settings struct {
	Name              string        `json:"name"`
	Setting           string        `json:"setting"`
	Role              PlayerRole    `json:"role,omitempty"`
	NarrativeMode     NarrativeMode `json:"narrative_mode,omitempty"`
	PlayerCount       int           `json:"player_count,omitempty"`
	Genre             string        `json:"genre,omitempty"`
	Rating            string        `json:"rating,omitempty"`
	EloquenceLevel    int           `json:"eloquence_level,omitempty"`
	Instructions      string        `json:"instructions,omitempty"`
	InitialCharacters []Character   `json:"initial_characters,omitempty"`
}

// EpisodeProgress holds the intra-episode counters of a session.
type EpisodeProgress struct {
	// Episode is the current episode number, starting at 1.
	Episode int `json:"episode"`

	// AccumulatedChars is the number of narrator characters counted since the
	// last rollover.
	AccumulatedChars int `json:"accumulated_chars"`

	// TurnsInEpisode is the number of narrator turns completed in the
	// current episode.
	TurnsInEpisode int `json:"turns_in_episode"`

	// IllustrationsIssued is the number of illustration slots reserved in the
	// current episode.
	IllustrationsIssued int `json:"illustrations_issued"`
}

// FirstEpisode returns the progress of a brand-new session.
func FirstEpisode() EpisodeProgress {
	return EpisodeProgress{Episode: 1}
}

// KeyMoment pairs a key user decision with the narrator's response to it.
type KeyMoment struct {
	TurnID          string `json:"turn_id"`
	PlayerAction    string `json:"player_action"`
	Consequence     string `json:"consequence"`
	EmotionalWeight int    `json:"emotional_weight"`
}

// MemorySummary is the derived long-term memory of a session. It is never
// stored: it is recomputed from the message log and roster.
type MemorySummary struct {
	// Relationships maps a character name to its affinity score.
	Relationships map[string]int `json:"relationships"`

	// KeyMoments lists the most recent key decisions in log order.
	KeyMoments []KeyMoment `json:"key_moments"`
}

// SceneMeta carries structured scene annotations a narrator may append to
// its text.
type SceneMeta struct {
	Time      string   `json:"time,omitempty"`
	Events    []string `json:"events,omitempty"`
	Relations []string `json:"relations,omitempty"`
	Emotions  []string `json:"emotions,omitempty"`
	Clues     []string `json:"clues,omitempty"`
	Questions []string `json:"questions,omitempty"`
	Plans     []string `json:"plans,omitempty"`
}

// Empty reports whether m carries no annotations.
func (m *SceneMeta) Empty() bool {
	return m == nil || (m.Time == "" && len(m.Events) == 0 && len(m.Relations) == 0 &&
		len(m.Emotions) == 0 && len(m.Clues) == 0 && len(m.Questions) == 0 && len(m.Plans) == 0)
}
