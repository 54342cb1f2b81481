package session

import "github.com/MrWong99/talespin/pkg/story"

// Throttler spreads a fixed illustration budget across an episode.
type Throttler struct {
	// MaxPerEpisode is the illustration quota of one episode.
	MaxPerEpisode int

	// RolloverLimit is the expected number of turn-units in an episode.
	RolloverLimit int
}

// Interval returns the turn spacing between illustrations.
func (th Throttler) Interval() int {
	if th.MaxPerEpisode <= 0 {
		return 1
	}
	return max(1, th.RolloverLimit/th.MaxPerEpisode)
}

// ShouldIllustrate reports whether the turn following turnsInEpisode
// completed turns should be illustrated, given issued illustrations so far.
func (th Throttler) ShouldIllustrate(turnsInEpisode, issued int) bool {
	if issued >= th.MaxPerEpisode {
		return false
	}
	return turnsInEpisode == 0 || turnsInEpisode%th.Interval() == 0
}

// Reserve checks the policy against p and, when it allows an illustration,
// consumes one quota slot. Callers must hold the lock guarding p so that the
// check and the increment are atomic.
func (th Throttler) Reserve(p *story.EpisodeProgress) bool {
	if !th.ShouldIllustrate(p.TurnsInEpisode, p.IllustrationsIssued) {
		return false
	}
	p.IllustrationsIssued++
	return true
}
