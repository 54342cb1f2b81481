package session

import (
	"reflect"
	"strings"
	"testing"

	"github.com/MrWong99/talespin/pkg/store"
	"github.com/MrWong99/talespin/pkg/story"
)

func synthTurns() []story.Turn {
	return []story.Turn{
		{ID: "u1", Role: story.RoleUser, Content: "I kiss MIRA on the cheek", Tone: story.ToneRomantic, Episode: 1},
		{ID: "n1", Role: story.RoleNarrator, Content: "Mira blushes.", Episode: 1},
		{ID: "u2", Role: story.RoleUser, Content: "I punch Tobin and mock mira", Tone: story.ToneAggressive, KeyDecision: "Punch Tobin", Episode: 1},
		{ID: "n2", Role: story.RoleNarrator, Content: "Tobin staggers back, bleeding.", Episode: 1},
		{ID: "u3", Role: story.RoleUser, Content: "I thank Tobin", Tone: story.ToneFriendly, Episode: 1},
		{ID: "n3", Role: story.RoleNarrator, Content: "Tobin nods warily.", Episode: 1},
		{ID: "u4", Role: story.RoleUser, Content: "I wait for Mira", Tone: story.ToneCautious, KeyDecision: "Wait", Episode: 2},
	}
}

func TestSynthesizer_Relationships(t *testing.T) {
	t.Parallel()

	roster := []story.Character{{Name: "Mira"}, {Name: "Tobin"}, {Name: "Ghost"}}
	got := Synthesizer{}.Synthesize(synthTurns(), roster)

	want := map[string]int{
		"Mira":  20 - 15,
		"Tobin": -15 + 10,
		"Ghost": 0,
	}
	if !reflect.DeepEqual(got.Relationships, want) {
		t.Errorf("Relationships = %v, want %v", got.Relationships, want)
	}
}

func TestSynthesizer_NarratorTurnsDoNotScore(t *testing.T) {
	t.Parallel()

	turns := []story.Turn{
		{ID: "n1", Role: story.RoleNarrator, Content: "Mira kisses you.", Tone: story.ToneRomantic},
	}
	got := Synthesizer{}.Synthesize(turns, []story.Character{{Name: "Mira"}})
	if got.Relationships["Mira"] != 0 {
		t.Errorf("Mira = %d, want 0", got.Relationships["Mira"])
	}
}

func TestSynthesizer_KeyMoments(t *testing.T) {
	t.Parallel()

	got := Synthesizer{}.Synthesize(synthTurns(), nil)

	if len(got.KeyMoments) != 2 {
		t.Fatalf("got %d key moments, want 2", len(got.KeyMoments))
	}
	first := got.KeyMoments[0]
	if first.TurnID != "u2" || first.PlayerAction != "Punch Tobin" {
		t.Errorf("first moment = %+v", first)
	}
	if first.Consequence != "Tobin staggers back, bleeding." {
		t.Errorf("Consequence = %q", first.Consequence)
	}
	if first.EmotionalWeight != 15 {
		t.Errorf("EmotionalWeight = %d, want 15", first.EmotionalWeight)
	}
	if got.KeyMoments[1].Consequence != "" {
		t.Errorf("unanswered decision has consequence %q", got.KeyMoments[1].Consequence)
	}
}

func TestSynthesizer_KeyMomentLimitKeepsMostRecent(t *testing.T) {
	t.Parallel()

	var turns []story.Turn
	for i := range 8 {
		id := string(rune('a' + i))
		turns = append(turns,
			story.Turn{ID: "u" + id, Role: story.RoleUser, Content: "choice " + id, KeyDecision: "choice " + id},
			story.Turn{ID: "n" + id, Role: story.RoleNarrator, Content: "result " + id},
		)
	}

	got := Synthesizer{KeyMomentLimit: 5}.Synthesize(turns, nil)
	if len(got.KeyMoments) != 5 {
		t.Fatalf("got %d key moments, want 5", len(got.KeyMoments))
	}
	if got.KeyMoments[0].TurnID != "ud" || got.KeyMoments[4].TurnID != "uh" {
		t.Errorf("kept moments %s..%s, want ud..uh", got.KeyMoments[0].TurnID, got.KeyMoments[4].TurnID)
	}
}

func TestSynthesizer_ConsequenceTruncated(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("é", 300)
	turns := []story.Turn{
		{ID: "u1", Role: story.RoleUser, Content: "go", KeyDecision: "go"},
		{ID: "n1", Role: story.RoleNarrator, Content: long},
	}
	got := Synthesizer{ConsequenceLength: 10}.Synthesize(turns, nil)
	want := strings.Repeat("é", 10) + "..."
	if got.KeyMoments[0].Consequence != want {
		t.Errorf("Consequence = %q, want %q", got.KeyMoments[0].Consequence, want)
	}
}

func TestSynthesizer_Pure(t *testing.T) {
	t.Parallel()

	roster := []story.Character{{Name: "Mira"}, {Name: "Tobin"}}
	sy := Synthesizer{}
	a := sy.Synthesize(synthTurns(), roster)
	b := sy.Synthesize(synthTurns(), roster)
	if !reflect.DeepEqual(a, b) {
		t.Errorf("repeated synthesis differs:\n%+v\n%+v", a, b)
	}
}

func TestSynthesizer_RebuildsAfterReload(t *testing.T) {
	t.Parallel()

	roster := []story.Character{{Name: "Mira"}, {Name: "Tobin"}}
	before := Synthesizer{}.Synthesize(synthTurns(), roster)

	ms := store.NewMemStore()
	snap := State{ID: "s1", Turns: synthTurns(), Roster: roster, Progress: story.FirstEpisode()}.Snapshot(fixedNow)
	if err := ms.Save(t.Context(), snap); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := ms.Load(t.Context(), "s1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	st := StateFromSnapshot(*loaded)

	after := Synthesizer{}.Synthesize(st.Turns, st.Roster)
	if !reflect.DeepEqual(before, after) {
		t.Errorf("summary after reload differs:\nbefore %+v\nafter  %+v", before, after)
	}
}
