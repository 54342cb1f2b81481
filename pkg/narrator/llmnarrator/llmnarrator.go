// Package llmnarrator implements [narrator.Narrator] on top of a chat
// completion [llm.Provider].
//
// The narrator renders the story settings, roster and memory summary into a
// system prompt, replays the turn history as chat messages and sends the
// player's action as the final user message. Scene annotations and newly
// introduced characters are parsed out of the reply; see [narrator.ParseMeta]
// and [narrator.ExtractCharacters].
package llmnarrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MrWong99/talespin/pkg/narrator"
	"github.com/MrWong99/talespin/pkg/provider/llm"
	"github.com/MrWong99/talespin/pkg/story"
)

// Default generation parameters.
const (
	DefaultTemperature = 0.75
	DefaultMaxTokens   = 1200
)

// Option configures a [Narrator].
type Option func(*Narrator)

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(n *Narrator) { n.temperature = t }
}

// WithMaxTokens caps the length of a passage.
func WithMaxTokens(tokens int) Option {
	return func(n *Narrator) { n.maxTokens = tokens }
}

// Narrator is an LLM backed [narrator.Narrator]. It is safe for concurrent
// use.
type Narrator struct {
	provider    llm.Provider
	temperature float64
	maxTokens   int
}

var _ narrator.Narrator = (*Narrator)(nil)

// New returns a Narrator that generates passages with provider.
func New(provider llm.Provider, opts ...Option) (*Narrator, error) {
	if provider == nil {
		return nil, fmt.Errorf("llmnarrator: provider must not be nil")
	}
	n := &Narrator{
		provider:    provider,
		temperature: DefaultTemperature,
		maxTokens:   DefaultMaxTokens,
	}
	for _, o := range opts {
		o(n)
	}
	return n, nil
}

// Narrate implements [narrator.Narrator].
func (n *Narrator) Narrate(ctx context.Context, req narrator.Request) (*narrator.Response, error) {
	resp, err := n.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: SystemPrompt(req),
		Messages:     Messages(req),
		Temperature:  n.temperature,
		MaxTokens:    n.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("llmnarrator: complete: %w", err)
	}
	if resp.FinishReason == "length" {
		slog.Debug("llmnarrator: passage truncated by token limit", "max_tokens", n.maxTokens)
	}

	text, characters := narrator.ExtractCharacters(resp.Content)
	text, meta := narrator.ParseMeta(text)
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("llmnarrator: finish reason %q: %w", resp.FinishReason, narrator.ErrEmptyText)
	}
	return &narrator.Response{
		Text:       text,
		Characters: characters,
		Meta:       meta,
	}, nil
}

// Messages maps the history of req to chat messages and appends the action.
// Player turns are replayed with their original directive so the model sees
// the conversation exactly as it happened.
func Messages(req narrator.Request) []llm.Message {
	msgs := make([]llm.Message, 0, len(req.History)+1)
	for _, t := range req.History {
		switch t.Role {
		case story.RoleUser:
			msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: t.Action()})
		case story.RoleNarrator:
			msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: t.Content})
		}
	}
	return append(msgs, llm.Message{Role: llm.RoleUser, Content: req.Action})
}
