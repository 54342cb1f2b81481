package session

import (
	"slices"
	"time"

	"github.com/MrWong99/talespin/pkg/store"
	"github.com/MrWong99/talespin/pkg/story"
)

// State is a point-in-time view of a session.
type State struct {
	ID         string                `json:"id"`
	Turns      []story.Turn          `json:"turns"`
	Progress   story.EpisodeProgress `json:"progress"`
	AgentTurns int                   `json:"agent_turns"`
	Roster     []story.Character     `json:"characters"`
	Toggles    story.Toggles         `json:"toggles"`
	Settings   story.Settings        `json:"settings"`
	Memory     story.MemorySummary   `json:"memory"`
	Busy       bool                  `json:"busy"`
}

// Snapshot converts s to its persisted form.
func (s State) Snapshot(now time.Time) store.Snapshot {
	snap := store.Snapshot{
		SessionID: s.ID,
		Turns:     s.Turns,
		Episode: store.EpisodeMeta{
			EpisodeProgress:  s.Progress,
			AgentTurnCounter: s.AgentTurns,
		},
		Settings:   s.Settings,
		Characters: s.Roster,
		Toggles:    s.Toggles,
		UpdatedAt:  now,
	}
	return snap.Clone()
}

// StateFromSnapshot restores the mutable session state from a persisted
// snapshot. The memory summary is not persisted and must be recomputed.
func StateFromSnapshot(snap store.Snapshot) State {
	snap = snap.Clone()
	progress := snap.Episode.EpisodeProgress
	if progress.Episode < 1 {
		progress.Episode = 1
	}
	if n := len(snap.Turns); n > 0 && snap.Turns[n-1].Episode > progress.Episode {
		progress = story.EpisodeProgress{Episode: snap.Turns[n-1].Episode}
	}
	return State{
		ID:         snap.SessionID,
		Turns:      snap.Turns,
		Progress:   progress,
		AgentTurns: max(0, snap.Episode.AgentTurnCounter),
		Roster:     slices.Clone(snap.Characters),
		Toggles:    snap.Toggles,
		Settings:   snap.Settings,
	}
}
