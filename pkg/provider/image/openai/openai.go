// Package openai provides an image provider backed by the OpenAI Images API.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/talespin/pkg/provider/image"
)

// DefaultModel is the default OpenAI image model.
const DefaultModel = oai.ImageModelDallE3

// Ensure Provider implements the image.Provider interface.
var _ image.Provider = (*Provider)(nil)

// Provider implements image.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
	size   string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL string
	size    string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithSize sets the default image size used when a request carries none.
func WithSize(size string) Option {
	return func(c *config) {
		c.size = size
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a new OpenAI image Provider.
// If model is empty, DefaultModel (dall-e-3) is used.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai image: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{size: string(oai.ImageGenerateParamsSize1024x1024)}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Provider{client: oai.NewClient(reqOpts...), model: model, size: cfg.size}, nil
}

// Generate implements image.Provider.
func (p *Provider) Generate(ctx context.Context, req image.Request) (*image.Result, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, fmt.Errorf("openai image: prompt must not be empty")
	}
	resp, err := p.client.Images.Generate(ctx, p.buildParams(req))
	if err != nil {
		return nil, fmt.Errorf("openai image: generate: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai image: empty response")
	}
	img := resp.Data[0]
	switch {
	case img.URL != "":
		return &image.Result{URL: img.URL}, nil
	case img.B64JSON != "":
		return &image.Result{URL: "data:image/png;base64," + img.B64JSON}, nil
	default:
		return nil, fmt.Errorf("openai image: response carries neither url nor data")
	}
}

// buildParams converts an image.Request into OpenAI SDK params. gpt-image
// models reject response_format, so it is only set for dall-e models.
func (p *Provider) buildParams(req image.Request) oai.ImageGenerateParams {
	size := req.Size
	if size == "" {
		size = p.size
	}
	params := oai.ImageGenerateParams{
		Prompt: req.Prompt,
		Model:  oai.ImageModel(p.model),
		N:      param.NewOpt(int64(1)),
		Size:   oai.ImageGenerateParamsSize(size),
	}
	if strings.HasPrefix(strings.ToLower(p.model), "dall-e") {
		params.ResponseFormat = oai.ImageGenerateParamsResponseFormatURL
	}
	return params
}
