package session

import (
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/MrWong99/talespin/pkg/story"
)

// Directives appended to player actions by the [PromptInjector].
const (
	PlotDirective       = "\n\n[Plot watcher: remember the open storylines and the characters. Time is passing, something has to happen!]"
	AtmosphereDirective = "\n\n[Time keeper: remind the reader of the time of day and the weather. The world has to feel alive!]"

	characterDirectiveFormat = "\n\n[Character watcher: what is %s doing right now? Show their actions and emotions!]"
)

// Directive cadences in turns.
const (
	plotEvery       = 3
	atmosphereEvery = 5
	characterEvery  = 7
)

// PromptInjector builds the directive suffix for a player action from the
// session's agent turn counter. The only state it owns is the random source
// used to pick a character, so each session gets its own injector.
//
// All methods are safe for concurrent use.
type PromptInjector struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewPromptInjector returns an injector whose character choice is seeded
// with seed.
func NewPromptInjector(seed uint64) *PromptInjector {
	return &PromptInjector{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// BuildSuffix returns the directives due at turnIndex (1-based) concatenated
// in plot, atmosphere, character order. The character directive requires a
// non-empty roster.
func (pi *PromptInjector) BuildSuffix(turnIndex int, roster []story.Character) string {
	if turnIndex <= 0 {
		return ""
	}
	var suffix string
	if turnIndex%plotEvery == 0 {
		suffix += PlotDirective
	}
	if turnIndex%atmosphereEvery == 0 {
		suffix += AtmosphereDirective
	}
	if turnIndex%characterEvery == 0 && len(roster) > 0 {
		pi.mu.Lock()
		c := roster[pi.rng.IntN(len(roster))]
		pi.mu.Unlock()
		suffix += fmt.Sprintf(characterDirectiveFormat, c.Name)
	}
	return suffix
}

// CharacterDirective returns the character directive for name.
func CharacterDirective(name string) string {
	return fmt.Sprintf(characterDirectiveFormat, name)
}
