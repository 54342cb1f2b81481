package llmnarrator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/talespin/pkg/narrator"
	"github.com/MrWong99/talespin/pkg/provider/llm"
	llmmock "github.com/MrWong99/talespin/pkg/provider/llm/mock"
	"github.com/MrWong99/talespin/pkg/story"
)

func testRequest() narrator.Request {
	return narrator.Request{
		Action: "I open the crate" + "\n\n[Plot watcher: hurry]",
		Settings: story.Settings{
			Name:           "Salt and Smoke",
			Setting:        "a rainy port town",
			Genre:          "noir",
			Role:           story.PlayerHero,
			NarrativeMode:  story.NarrativeThirdPerson,
			EloquenceLevel: 5,
			Instructions:   "Keep it tense.",
		},
		History: []story.Turn{
			{ID: "u1", Role: story.RoleUser, Content: "I walk in", Directive: "\n\n[Time keeper]"},
			{ID: "n1", Role: story.RoleNarrator, Content: "The bar is quiet."},
		},
		Characters: []story.Character{{Name: "Mira", Role: "smuggler", Description: "sharp-eyed"}},
		Memory: &story.MemorySummary{
			Relationships: map[string]int{"Mira": 20, "Tobin": 0},
			KeyMoments:    []story.KeyMoment{{PlayerAction: "Trust Mira", Consequence: "She smiles."}},
		},
		Episode:  2,
		Recalled: []story.Turn{{Role: story.RoleNarrator, Episode: 1, Content: "A crate fell overboard."}},
	}
}

func TestNew_RequiresProvider(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Error("expected error for nil provider")
	}
}

func TestNarrate(t *testing.T) {
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content:      "**[META]**\n⏰ Time: midnight, the pier\n---\nThe crate holds rifles.\n\n```characters\n[{\"name\": \"Tobin\", \"role\": \"dockhand\"}]\n```",
		FinishReason: "stop",
	}}
	n, err := New(p, WithTemperature(0.3), WithMaxTokens(500))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	resp, err := n.Narrate(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Narrate: %v", err)
	}
	if resp.Text != "The crate holds rifles." {
		t.Errorf("Text = %q", resp.Text)
	}
	if resp.Meta == nil || resp.Meta.Time != "midnight, the pier" {
		t.Errorf("Meta = %+v", resp.Meta)
	}
	if len(resp.Characters) != 1 || resp.Characters[0].Name != "Tobin" {
		t.Errorf("Characters = %+v", resp.Characters)
	}

	req, _ := p.LastRequest()
	if req.Temperature != 0.3 || req.MaxTokens != 500 {
		t.Errorf("generation params = %v/%d", req.Temperature, req.MaxTokens)
	}
	wantRoles := []string{llm.RoleUser, llm.RoleAssistant, llm.RoleUser}
	if len(req.Messages) != len(wantRoles) {
		t.Fatalf("got %d messages, want %d", len(req.Messages), len(wantRoles))
	}
	for i, role := range wantRoles {
		if req.Messages[i].Role != role {
			t.Errorf("message %d role = %q, want %q", i, req.Messages[i].Role, role)
		}
	}
	if req.Messages[0].Content != "I walk in\n\n[Time keeper]" {
		t.Errorf("history user message = %q, want content with directive", req.Messages[0].Content)
	}
	if !strings.HasPrefix(req.Messages[2].Content, "I open the crate") {
		t.Errorf("action message = %q", req.Messages[2].Content)
	}
}

func TestNarrate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		resp    *llm.CompletionResponse
		err     error
		wantErr error
	}{
		{name: "provider error", err: errors.New("503"), wantErr: nil},
		{name: "only meta", resp: &llm.CompletionResponse{Content: "**[META]**\n⏰ Time: noon\n---\n"}, wantErr: narrator.ErrEmptyText},
		{name: "blank", resp: &llm.CompletionResponse{Content: "  "}, wantErr: narrator.ErrEmptyText},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, _ := New(&llmmock.Provider{CompleteResponse: tt.resp, CompleteErr: tt.err})
			_, err := n.Narrate(context.Background(), testRequest())
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
			if tt.err != nil && !errors.Is(err, tt.err) {
				t.Errorf("error = %v, want wrapped %v", err, tt.err)
			}
		})
	}
}

func TestSystemPrompt(t *testing.T) {
	got := SystemPrompt(testRequest())

	for _, want := range []string{
		`"Salt and Smoke"`,
		"Setting: a rainy port town",
		"Genre: noir",
		"The player is the hero",
		"third person",
		"rich, ornate prose",
		"Current episode: 2.",
		"## Author Instructions\nKeep it tense.",
		"- Mira (smuggler): sharp-eyed",
		"- Mira: +20",
		"- Trust Mira → She smiles.",
		"[narrator, episode 1] A crate fell overboard.",
		"**[META]**",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
	if strings.Contains(got, "Tobin") {
		t.Error("neutral relationship must be omitted")
	}
}

func TestSystemPrompt_OmitsEmptySections(t *testing.T) {
	got := SystemPrompt(narrator.Request{Action: "go"})
	for _, section := range []string{"## Story", "## Characters", "## Relationships", "## Key Decisions", "## Earlier"} {
		if strings.Contains(got, section) {
			t.Errorf("empty request rendered section %q", section)
		}
	}
	if !strings.Contains(got, "## Format") {
		t.Error("format instructions missing")
	}
}
