package session

import "github.com/MrWong99/talespin/pkg/story"

// EpisodeUpdate describes the outcome of feeding narrator output to an
// [EpisodeTracker].
type EpisodeUpdate struct {
	// Episode is the episode after the update.
	Episode int `json:"episode"`

	// RolledOver is true when at least one rollover happened.
	RolledOver bool `json:"rolled_over"`

	// Rollovers is the number of episodes advanced by this update.
	Rollovers int `json:"rollovers,omitempty"`
}

// merge folds a later update into u.
func (u EpisodeUpdate) merge(later EpisodeUpdate) EpisodeUpdate {
	return EpisodeUpdate{
		Episode:    later.Episode,
		RolledOver: u.RolledOver || later.RolledOver,
		Rollovers:  u.Rollovers + later.Rollovers,
	}
}

// EpisodeTracker advances episodes by accumulated narrator output.
//
// An episode spans Threshold*Limit characters. Record is a pure function of
// its inputs. Because the remainder past a rollover is carried into the next
// episode, recording N characters at once yields exactly the same progress as
// recording them one at a time.
type EpisodeTracker struct {
	// Threshold is the number of characters per turn-unit.
	Threshold int

	// Limit is the number of turn-units per episode.
	Limit int
}

func (et EpisodeTracker) window() int {
	w := et.Threshold * et.Limit
	if w <= 0 {
		return DefaultRolloverThreshold * DefaultRolloverLimit
	}
	return w
}

// Record adds chars narrator characters to p. On rollover the episode
// advances once per full window crossed and the per-episode counters reset.
func (et EpisodeTracker) Record(p story.EpisodeProgress, chars int) (story.EpisodeProgress, EpisodeUpdate) {
	if p.Episode < 1 {
		p.Episode = 1
	}
	if chars < 0 {
		chars = 0
	}

	w := et.window()
	total := p.AccumulatedChars + chars
	crossed := total / w
	if crossed == 0 {
		p.AccumulatedChars = total
		return p, EpisodeUpdate{Episode: p.Episode}
	}

	p.Episode += crossed
	p.AccumulatedChars = total % w
	p.TurnsInEpisode = 0
	p.IllustrationsIssued = 0
	return p, EpisodeUpdate{Episode: p.Episode, RolledOver: true, Rollovers: crossed}
}

// Advance moves p forward to episode, resetting the per-episode counters.
// Targets at or below the current episode leave p unchanged.
func (et EpisodeTracker) Advance(p story.EpisodeProgress, episode int) (story.EpisodeProgress, EpisodeUpdate) {
	if p.Episode < 1 {
		p.Episode = 1
	}
	if episode <= p.Episode {
		return p, EpisodeUpdate{Episode: p.Episode}
	}
	n := episode - p.Episode
	return story.EpisodeProgress{Episode: episode}, EpisodeUpdate{Episode: episode, RolledOver: true, Rollovers: n}
}
