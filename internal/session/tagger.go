package session

import (
	"strings"

	"github.com/MrWong99/talespin/pkg/story"
)

// Tags are the derived annotations of a user turn.
type Tags struct {
	Tone        story.Tone
	KeyDecision string
}

// Tagger assigns tags to a user action before it is appended.
type Tagger interface {
	Tag(action string) Tags
}

type weightedKeyword struct {
	keyword string
	weight  float64
}

// toneMinScore is the score a tone needs to win over neutral.
const toneMinScore = 0.4

// toneOrder fixes the tie-break order of tones with equal scores.
var toneOrder = []story.Tone{
	story.ToneAggressive,
	story.ToneRomantic,
	story.ToneFriendly,
	story.ToneCautious,
}

// keyDecisionMarkers are phrases that flag a user action as a key decision.
var keyDecisionMarkers = []string{
	"i decide",
	"i choose",
	"i chose",
	"i decided",
	"i swear",
	"i vow",
	"i promise",
	"i refuse",
	"i accept",
	"i betray",
	"once and for all",
}

// KeywordTagger is a rule-based [Tagger] that scores weighted keywords per
// tone. It is deterministic: identical actions always receive identical tags.
type KeywordTagger struct {
	patterns map[story.Tone][]weightedKeyword
}

// NewKeywordTagger returns a tagger with the built-in English patterns.
func NewKeywordTagger() *KeywordTagger {
	return &KeywordTagger{patterns: defaultTonePatterns()}
}

func defaultTonePatterns() map[story.Tone][]weightedKeyword {
	return map[story.Tone][]weightedKeyword{
		story.ToneAggressive: {
			{keyword: "attack", weight: 0.5}, {keyword: "kill", weight: 0.5},
			{keyword: "punch", weight: 0.5}, {keyword: "stab", weight: 0.5},
			{keyword: "threaten", weight: 0.4}, {keyword: "shout", weight: 0.3},
			{keyword: "draw my sword", weight: 0.4}, {keyword: "strike", weight: 0.4},
		},
		story.ToneRomantic: {
			{keyword: "kiss", weight: 0.5}, {keyword: "embrace", weight: 0.4},
			{keyword: "hold her hand", weight: 0.4}, {keyword: "hold his hand", weight: 0.4},
			{keyword: "love", weight: 0.4}, {keyword: "blush", weight: 0.3},
			{keyword: "caress", weight: 0.5},
		},
		story.ToneFriendly: {
			{keyword: "thank", weight: 0.4}, {keyword: "smile", weight: 0.3},
			{keyword: "help", weight: 0.3}, {keyword: "greet", weight: 0.4},
			{keyword: "hug", weight: 0.4}, {keyword: "laugh", weight: 0.3},
			{keyword: "friend", weight: 0.4},
		},
		story.ToneCautious: {
			{keyword: "carefully", weight: 0.4}, {keyword: "sneak", weight: 0.4},
			{keyword: "hide", weight: 0.4}, {keyword: "quietly", weight: 0.3},
			{keyword: "wait", weight: 0.3}, {keyword: "listen", weight: 0.3},
		},
	}
}

// Tag scores action and returns the winning tone and, when the action
// contains a key-decision marker, the trimmed action as decision summary.
func (kt *KeywordTagger) Tag(action string) Tags {
	lower := strings.ToLower(action)

	tone := story.ToneNeutral
	best := 0.0
	for _, t := range toneOrder {
		score := 0.0
		for _, kw := range kt.patterns[t] {
			if strings.Contains(lower, kw.keyword) {
				score += kw.weight
			}
		}
		if score >= toneMinScore && score > best {
			tone, best = t, score
		}
	}

	var decision string
	for _, m := range keyDecisionMarkers {
		if strings.Contains(lower, m) {
			decision = truncateRunes(strings.TrimSpace(action), DefaultConsequenceLength)
			break
		}
	}
	return Tags{Tone: tone, KeyDecision: decision}
}
