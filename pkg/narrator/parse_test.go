package narrator

import (
	"reflect"
	"testing"

	"github.com/MrWong99/talespin/pkg/story"
)

func TestParseMeta(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		text      string
		wantClean string
		wantMeta  *story.SceneMeta
	}{
		{
			name:      "no block",
			text:      "The tide rises.",
			wantClean: "The tide rises.",
		},
		{
			name:      "emoji markers",
			text:      "**[META]**\n⏰ Time: dusk, the docks\n🎬 Events: a ship arrives\n💕 Relations: Mira trusts you\n❓ Questions: who sent it?\n---\nThe tide rises.",
			wantClean: "The tide rises.",
			wantMeta: &story.SceneMeta{
				Time:      "dusk, the docks",
				Events:    []string{"a ship arrives"},
				Relations: []string{"Mira trusts you"},
				Questions: []string{"who sent it?"},
			},
		},
		{
			name:      "plain labels",
			text:      "Intro.\n**[META]**\nclues: a torn map\nPlans: sail at dawn\nweather: rain\n---\nThe tide rises.",
			wantClean: "Intro.\nThe tide rises.",
			wantMeta: &story.SceneMeta{
				Clues: []string{"a torn map"},
				Plans: []string{"sail at dawn"},
			},
		},
		{
			name:      "empty block removed",
			text:      "**[META]**\n⏰ Time:\n---\nStory.",
			wantClean: "Story.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			clean, meta := ParseMeta(tt.text)
			if clean != tt.wantClean {
				t.Errorf("clean = %q, want %q", clean, tt.wantClean)
			}
			if !reflect.DeepEqual(meta, tt.wantMeta) {
				t.Errorf("meta = %+v, want %+v", meta, tt.wantMeta)
			}
		})
	}
}

func TestExtractCharacters(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		text      string
		wantClean string
		want      []story.Character
	}{
		{
			name:      "no block",
			text:      "Nothing here.",
			wantClean: "Nothing here.",
		},
		{
			name:      "trailing block",
			text:      "Mira waves.\n\n```characters\n[{\"name\": \" Mira \", \"role\": \"smuggler\"}, {\"name\": \"\"}]\n```\n",
			wantClean: "Mira waves.",
			want:      []story.Character{{Name: "Mira", Role: "smuggler"}},
		},
		{
			name:      "invalid json is stripped",
			text:      "Story.\n```characters\nnot json\n```",
			wantClean: "Story.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			clean, got := ExtractCharacters(tt.text)
			if clean != tt.wantClean {
				t.Errorf("clean = %q, want %q", clean, tt.wantClean)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("characters = %+v, want %+v", got, tt.want)
			}
		})
	}
}
