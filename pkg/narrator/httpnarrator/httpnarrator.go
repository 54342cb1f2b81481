// Package httpnarrator implements [narrator.Narrator] against a remote story
// service speaking a small JSON protocol.
//
// Each call POSTs the [narrator.Request] as JSON to the endpoint:
//
//	{"action": "...", "settings": {...}, "history": [...], "characters": [...],
//	 "memory": {...}, "episode": 2, "recalled": [...]}
//
// and expects a JSON body of the form:
//
//	{"text": "...", "episode": 2, "characters": [...], "meta": {...}}
//
// The legacy field name "story" is accepted in place of "text". Scene
// annotations embedded in the text are parsed when "meta" is absent.
package httpnarrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/talespin/pkg/narrator"
	"github.com/MrWong99/talespin/pkg/story"
)

var _ narrator.Narrator = (*Narrator)(nil)

const (
	defaultTimeout = 120 * time.Second

	// maxBodyBytes caps the size of a service response.
	maxBodyBytes = 4 << 20
)

// Option configures a [Narrator].
type Option func(*Narrator)

// WithAPIKey sends key as a bearer token.
func WithAPIKey(key string) Option {
	return func(n *Narrator) { n.apiKey = key }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(n *Narrator) { n.httpClient = c }
}

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(n *Narrator) { n.httpClient.Timeout = d }
}

// Narrator calls a remote story service. It is safe for concurrent use.
type Narrator struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// New returns a Narrator posting to endpoint.
func New(endpoint string, opts ...Option) (*Narrator, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("httpnarrator: endpoint must not be empty")
	}
	n := &Narrator{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(n)
	}
	return n, nil
}

type response struct {
	Text       string            `json:"text"`
	Story      string            `json:"story"`
	Episode    int               `json:"episode"`
	Characters []story.Character `json:"characters"`
	Meta       *story.SceneMeta  `json:"meta"`
	Error      string            `json:"error"`
}

// Narrate implements [narrator.Narrator].
func (n *Narrator) Narrate(ctx context.Context, req narrator.Request) (*narrator.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("httpnarrator: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("httpnarrator: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if n.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+n.apiKey)
	}

	resp, err := n.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("httpnarrator: post: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("httpnarrator: read response: %w", err)
	}

	var out response
	decodeErr := json.Unmarshal(raw, &out)
	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(out.Error)
		if decodeErr != nil || msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return nil, fmt.Errorf("httpnarrator: unexpected status %d: %s", resp.StatusCode, msg)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("httpnarrator: decode response: %w", decodeErr)
	}

	text := out.Text
	if text == "" {
		text = out.Story
	}
	text, inline := narrator.ExtractCharacters(text)
	text, meta := narrator.ParseMeta(text)
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("httpnarrator: %w", narrator.ErrEmptyText)
	}
	if out.Meta != nil && !out.Meta.Empty() {
		meta = out.Meta
	}
	return &narrator.Response{
		Text:       text,
		Episode:    max(0, out.Episode),
		Characters: append(out.Characters, inline...),
		Meta:       meta,
	}, nil
}
