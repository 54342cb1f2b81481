package session

import (
	"strings"
	"unicode/utf8"

	"github.com/MrWong99/talespin/pkg/story"
)

// toneWeights maps a tone to the affinity change it causes for every
// character named in the turn.
var toneWeights = map[story.Tone]int{
	story.ToneRomantic:   20,
	story.ToneFriendly:   10,
	story.ToneAggressive: -15,
}

// ToneWeight returns the affinity weight of t. Tones without a weight
// return zero.
func ToneWeight(t story.Tone) int {
	return toneWeights[t]
}

// Synthesizer derives the [story.MemorySummary] of a session from its
// message log and roster. Synthesize is a pure function: the summary is never
// stored and can always be rebuilt from a persisted log.
type Synthesizer struct {
	// KeyMomentLimit is the number of most recent key decisions kept.
	KeyMomentLimit int

	// ConsequenceLength is the rune length consequences are truncated to.
	ConsequenceLength int
}

// Synthesize recomputes relationship scores and key moments from scratch.
func (sy Synthesizer) Synthesize(turns []story.Turn, roster []story.Character) story.MemorySummary {
	limit := sy.KeyMomentLimit
	if limit <= 0 {
		limit = DefaultKeyMomentLimit
	}
	consequenceLen := sy.ConsequenceLength
	if consequenceLen <= 0 {
		consequenceLen = DefaultConsequenceLength
	}

	rel := make(map[string]int, len(roster))
	names := make([]string, 0, len(roster))
	for _, c := range roster {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			continue
		}
		if _, ok := rel[name]; !ok {
			names = append(names, name)
		}
		rel[name] = 0
	}

	var moments []story.KeyMoment
	for i, t := range turns {
		if t.Role != story.RoleUser {
			continue
		}

		if w := ToneWeight(t.Tone); w != 0 {
			content := strings.ToLower(t.Content)
			for _, name := range names {
				if strings.Contains(content, strings.ToLower(name)) {
					rel[name] += w
				}
			}
		}

		if t.KeyDecision == "" {
			continue
		}
		var consequence string
		if i+1 < len(turns) && turns[i+1].Role == story.RoleNarrator {
			consequence = truncateRunes(turns[i+1].Content, consequenceLen)
		}
		moments = append(moments, story.KeyMoment{
			TurnID:          t.ID,
			PlayerAction:    t.KeyDecision,
			Consequence:     consequence,
			EmotionalWeight: abs(ToneWeight(t.Tone)),
		})
	}

	if len(moments) > limit {
		moments = moments[len(moments)-limit:]
	}
	return story.MemorySummary{Relationships: rel, KeyMoments: moments}
}

// truncateRunes shortens s to at most n runes, marking the cut with "...".
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return strings.TrimRightFunc(string(runes[:n]), func(r rune) bool { return r == ' ' }) + "..."
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
