// Package pollinations provides an image provider backed by the public
// Pollinations image endpoint, which renders an image for a prompt encoded in
// the request path. It implements the image.Provider interface.
//
// By default the provider downloads the rendered image and returns it as a
// data URL, so clients never depend on the remote host staying reachable.
// With WithLinkOnly the provider returns the generation URL without fetching.
//
// Typical usage:
//
//	p, err := pollinations.New("https://image.pollinations.ai",
//	    pollinations.WithSize(576, 1024),
//	    pollinations.WithModel("flux"),
//	)
//	res, err := p.Generate(ctx, image.Request{Prompt: "a misty harbour at dawn"})
package pollinations

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/talespin/pkg/provider/image"
)

// Compile-time interface assertion.
var _ image.Provider = (*Provider)(nil)

// ---- constants ----

const (
	// DefaultBaseURL is the public Pollinations image endpoint.
	DefaultBaseURL = "https://image.pollinations.ai"

	defaultModel   = "flux"
	defaultWidth   = 576
	defaultHeight  = 1024
	defaultTimeout = 90 * time.Second

	// maxImageBytes caps the size of a downloaded image.
	maxImageBytes = 16 << 20
)

// ---- options ----

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel selects the rendering model. Defaults to "flux".
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithSize sets the default image dimensions in pixels.
func WithSize(width, height int) Option {
	return func(p *Provider) {
		p.width = width
		p.height = height
	}
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 90 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// WithHTTPClient replaces the HTTP client used for downloads.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// WithLinkOnly makes Generate return the generation URL without downloading
// the image.
func WithLinkOnly() Option {
	return func(p *Provider) {
		p.linkOnly = true
	}
}

// WithSeed replaces the seed source. The default derives the seed from the
// current time, giving a fresh image for repeated prompts.
func WithSeed(seed func() int64) Option {
	return func(p *Provider) {
		p.seed = seed
	}
}

// ---- Provider ----

// Provider implements image.Provider against a Pollinations-compatible
// endpoint. It is safe for concurrent use.
type Provider struct {
	baseURL    string
	model      string
	width      int
	height     int
	linkOnly   bool
	seed       func() int64
	httpClient *http.Client
}

// New creates a Provider targeting baseURL. An empty baseURL selects
// DefaultBaseURL.
func New(baseURL string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("pollinations: invalid base url: %w", err)
	}
	p := &Provider{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   defaultModel,
		width:   defaultWidth,
		height:  defaultHeight,
		seed:    func() int64 { return time.Now().UnixMilli() },
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Generate implements image.Provider.
func (p *Provider) Generate(ctx context.Context, req image.Request) (*image.Result, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, errors.New("pollinations: prompt must not be empty")
	}
	link := p.buildURL(req)
	if p.linkOnly {
		return &image.Result{URL: link}, nil
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, fmt.Errorf("pollinations: build request: %w", err)
	}
	httpReq.Header.Set("Accept", "image/*")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("pollinations: fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("pollinations: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("pollinations: read image: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("pollinations: empty image")
	}
	if len(data) > maxImageBytes {
		return nil, fmt.Errorf("pollinations: image exceeds %d bytes", maxImageBytes)
	}

	return &image.Result{URL: dataURL(resp.Header.Get("Content-Type"), data)}, nil
}

// buildURL encodes the prompt into the request path and the rendering
// options into the query string.
func (p *Provider) buildURL(req image.Request) string {
	width, height := p.width, p.height
	if w, h, ok := parseSize(req.Size); ok {
		width, height = w, h
	}
	q := url.Values{}
	q.Set("width", strconv.Itoa(width))
	q.Set("height", strconv.Itoa(height))
	q.Set("seed", strconv.FormatInt(p.seed(), 10))
	q.Set("model", p.model)
	q.Set("nologo", "true")
	return p.baseURL + "/prompt/" + url.PathEscape(req.Prompt) + "?" + q.Encode()
}

// parseSize parses a WIDTHxHEIGHT string.
func parseSize(s string) (width, height int, ok bool) {
	ws, hs, found := strings.Cut(strings.ToLower(s), "x")
	if !found {
		return 0, 0, false
	}
	w, err1 := strconv.Atoi(ws)
	h, err2 := strconv.Atoi(hs)
	if err1 != nil || err2 != nil || w <= 0 || h <= 0 {
		return 0, 0, false
	}
	return w, h, true
}

// dataURL wraps data in a base64 data URL, defaulting the media type to JPEG.
func dataURL(contentType string, data []byte) string {
	mediaType := "image/jpeg"
	if mt, _, err := mime.ParseMediaType(contentType); err == nil && strings.HasPrefix(mt, "image/") {
		mediaType = mt
	}
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
