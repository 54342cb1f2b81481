// Package mock provides a test double for the image.Provider interface.
//
// Example:
//
//	p := &mock.Provider{Result: &image.Result{URL: "https://img/1.png"}}
//	res, _ := p.Generate(ctx, image.Request{Prompt: "a castle"})
//
// Set Block to make Generate wait until its context is cancelled, which is
// useful for exercising timeouts.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/talespin/pkg/provider/image"
)

// GenerateCall records a single invocation of Generate.
type GenerateCall struct {
	// Req is the request passed to Generate.
	Req image.Request
}

// Provider is a mock implementation of image.Provider.
type Provider struct {
	mu sync.Mutex

	// Result is returned by Generate. When nil and Err is nil, a Result with
	// an empty URL is returned.
	Result *image.Result

	// Err, if non-nil, is returned as the error from Generate.
	Err error

	// Block makes Generate wait for ctx cancellation and return ctx.Err().
	Block bool

	// GenerateFunc, when set, replaces the canned response entirely.
	GenerateFunc func(ctx context.Context, req image.Request) (*image.Result, error)

	// Calls records every invocation of Generate in order.
	Calls []GenerateCall
}

// Generate implements image.Provider.
func (p *Provider) Generate(ctx context.Context, req image.Request) (*image.Result, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, GenerateCall{Req: req})
	fn, block, res, err := p.GenerateFunc, p.Block, p.Result, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	if res == nil {
		return &image.Result{}, nil
	}
	out := *res
	return &out, nil
}

// CallCount returns the number of Generate invocations. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Requests returns a copy of every request passed to Generate.
func (p *Provider) Requests() []image.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]image.Request, len(p.Calls))
	for i, c := range p.Calls {
		out[i] = c.Req
	}
	return out
}

// Ensure Provider implements image.Provider at compile time.
var _ image.Provider = (*Provider)(nil)
