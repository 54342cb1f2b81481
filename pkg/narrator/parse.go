package narrator

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/MrWong99/talespin/pkg/story"
)

// metaBlock matches a scene annotation block of the form
//
//	**[META]**
//	⏰ Time: evening, the docks
//	🎬 Events: ...
//	---
var metaBlock = regexp.MustCompile(`(?s)\*\*\[META\]\*\*(.*?)\n?---[ \t]*\n?`)

// charactersBlock matches a trailing fenced JSON block tagged "characters".
var charactersBlock = regexp.MustCompile("(?s)```characters[ \\t]*\\n(.*?)```[ \\t]*\\n?")

type metaField struct {
	marker string
	label  string
	set    func(m *story.SceneMeta, v string)
}

func appendTo(field func(m *story.SceneMeta) *[]string) func(*story.SceneMeta, string) {
	return func(m *story.SceneMeta, v string) {
		p := field(m)
		*p = append(*p, v)
	}
}

var metaFields = []metaField{
	{marker: "⏰", label: "time", set: func(m *story.SceneMeta, v string) { m.Time = v }},
	{marker: "🎬", label: "events", set: appendTo(func(m *story.SceneMeta) *[]string { return &m.Events })},
	{marker: "💕", label: "relations", set: appendTo(func(m *story.SceneMeta) *[]string { return &m.Relations })},
	{marker: "🧠", label: "emotions", set: appendTo(func(m *story.SceneMeta) *[]string { return &m.Emotions })},
	{marker: "🔍", label: "clues", set: appendTo(func(m *story.SceneMeta) *[]string { return &m.Clues })},
	{marker: "❓", label: "questions", set: appendTo(func(m *story.SceneMeta) *[]string { return &m.Questions })},
	{marker: "🎯", label: "plans", set: appendTo(func(m *story.SceneMeta) *[]string { return &m.Plans })},
}

// ParseMeta extracts the first **[META]** block from text. It returns the
// text with the block removed and the parsed annotations, or text unchanged
// and nil when no block is present. Lines are recognised by their emoji
// marker or by a leading "Label:" (Time, Events, Relations, Emotions, Clues,
// Questions, Plans); other lines are ignored.
func ParseMeta(text string) (string, *story.SceneMeta) {
	loc := metaBlock.FindStringSubmatchIndex(text)
	if loc == nil {
		return text, nil
	}
	body := text[loc[2]:loc[3]]
	clean := strings.TrimSpace(text[:loc[0]] + text[loc[1]:])

	meta := &story.SceneMeta{}
	for line := range strings.SplitSeq(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		for _, f := range metaFields {
			v, ok := metaValue(line, f)
			if !ok {
				continue
			}
			if v != "" {
				f.set(meta, v)
			}
			break
		}
	}
	if meta.Empty() {
		return clean, nil
	}
	return clean, meta
}

func metaValue(line string, f metaField) (string, bool) {
	switch {
	case strings.HasPrefix(line, f.marker):
		line = strings.TrimSpace(strings.TrimPrefix(line, f.marker))
		if _, after, ok := strings.Cut(line, ":"); ok {
			return strings.TrimSpace(after), true
		}
		return line, true
	case len(line) > len(f.label) && strings.EqualFold(line[:len(f.label)], f.label) && line[len(f.label)] == ':':
		return strings.TrimSpace(line[len(f.label)+1:]), true
	}
	return "", false
}

// ExtractCharacters removes a ```characters fenced JSON block from text and
// decodes it as a list of characters. A block that is not valid JSON is
// still removed and yields no characters. Entries without a name are
// dropped.
func ExtractCharacters(text string) (string, []story.Character) {
	loc := charactersBlock.FindStringSubmatchIndex(text)
	if loc == nil {
		return text, nil
	}
	raw := text[loc[2]:loc[3]]
	clean := strings.TrimSpace(text[:loc[0]] + text[loc[1]:])

	var decoded []story.Character
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return clean, nil
	}
	out := decoded[:0]
	for _, c := range decoded {
		c.Name = strings.TrimSpace(c.Name)
		if c.Name == "" {
			continue
		}
		out = append(out, c)
	}
	if len(out) == 0 {
		return clean, nil
	}
	return clean, out
}
