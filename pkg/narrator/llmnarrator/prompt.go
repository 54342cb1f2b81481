package llmnarrator

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/MrWong99/talespin/pkg/narrator"
	"github.com/MrWong99/talespin/pkg/story"
)

const formatInstructions = `Start every answer with a scene annotation block:
**[META]**
⏰ Time: <time of day and place>
🎬 Events: <what just happened>
💕 Relations: <how relationships changed>
🧠 Emotions: <the characters' emotional state>
🔍 Clues: <new information>
❓ Questions: <open questions>
🎯 Plans: <what the characters intend>
---
Then write the scene in two or three paragraphs and end with a choice for the player.
Never act on behalf of the player.
If new characters appear, append a fenced block tagged characters containing a JSON array of objects with name, role and description.`

// eloquenceStyle maps the eloquence level (1-5) to a style hint.
func eloquenceStyle(level int) string {
	switch {
	case level <= 0:
		return ""
	case level <= 2:
		return "simple, direct sentences"
	case level <= 4:
		return "a measured literary style"
	default:
		return "rich, ornate prose"
	}
}

func narrativeVoice(mode story.NarrativeMode) string {
	switch mode {
	case story.NarrativeFirstPerson:
		return "first person, from the player's point of view"
	case story.NarrativeThirdPerson:
		return "third person"
	case story.NarrativeLoveInterest:
		return "second person, with a love interest at the heart of the story"
	}
	return ""
}

// SystemPrompt renders the system prompt for req. Empty sections are
// omitted. It is pure and safe for concurrent use.
func SystemPrompt(req narrator.Request) string {
	s := req.Settings
	var sb strings.Builder

	sb.WriteString("You are the game master of an interactive story.")
	if name := strings.TrimSpace(s.Name); name != "" {
		fmt.Fprintf(&sb, " The story is called %q.", name)
	}

	// ── Setting ──────────────────────────────────────────────────────────────
	var lines []string
	if v := strings.TrimSpace(s.Setting); v != "" {
		lines = append(lines, "Setting: "+v)
	}
	if v := strings.TrimSpace(s.Genre); v != "" {
		lines = append(lines, "Genre: "+v)
	}
	if v := strings.TrimSpace(s.Rating); v != "" {
		lines = append(lines, "Rating: "+v)
	}
	switch s.Role {
	case story.PlayerHero:
		lines = append(lines, "The player is the hero of the story.")
	case story.PlayerAuthor:
		lines = append(lines, "The player is the author directing the story.")
	}
	if v := narrativeVoice(s.NarrativeMode); v != "" {
		lines = append(lines, "Narrate in "+v+".")
	}
	if s.PlayerCount > 1 {
		lines = append(lines, fmt.Sprintf("There are %d players.", s.PlayerCount))
	}
	if v := eloquenceStyle(s.EloquenceLevel); v != "" {
		lines = append(lines, "Write in "+v+".")
	}
	if req.Episode > 0 {
		lines = append(lines, fmt.Sprintf("Current episode: %d.", req.Episode))
	}
	writeSection(&sb, "Story", lines)

	if v := strings.TrimSpace(s.Instructions); v != "" {
		writeSection(&sb, "Author Instructions", []string{v})
	}

	// ── Characters ───────────────────────────────────────────────────────────
	lines = lines[:0]
	for _, c := range req.Characters {
		line := "- " + c.Name
		if c.Role != "" {
			line += " (" + c.Role + ")"
		}
		if d := strings.TrimSpace(c.Description); d != "" {
			line += ": " + d
		}
		lines = append(lines, line)
	}
	writeSection(&sb, "Characters", lines)

	// ── Memory ───────────────────────────────────────────────────────────────
	if m := req.Memory; m != nil {
		lines = lines[:0]
		for _, name := range slices.Sorted(maps.Keys(m.Relationships)) {
			if score := m.Relationships[name]; score != 0 {
				lines = append(lines, fmt.Sprintf("- %s: %+d", name, score))
			}
		}
		writeSection(&sb, "Relationships With The Player", lines)

		lines = lines[:0]
		for _, km := range m.KeyMoments {
			line := "- " + km.PlayerAction
			if km.Consequence != "" {
				line += " → " + km.Consequence
			}
			lines = append(lines, line)
		}
		writeSection(&sb, "Key Decisions So Far", lines)
	}

	// ── Recalled passages ────────────────────────────────────────────────────
	lines = lines[:0]
	for _, t := range req.Recalled {
		lines = append(lines, fmt.Sprintf("- [%s, episode %d] %s", t.Role, t.Episode, t.Content))
	}
	writeSection(&sb, "Earlier In The Story", lines)

	sb.WriteString("\n\n## Format\n")
	sb.WriteString(formatInstructions)
	return sb.String()
}

func writeSection(sb *strings.Builder, title string, lines []string) {
	if len(lines) == 0 {
		return
	}
	fmt.Fprintf(sb, "\n\n## %s\n", title)
	sb.WriteString(strings.Join(lines, "\n"))
}
