// Package mock provides a test double for the narrator.Narrator interface.
//
// Use Narrator in unit tests to verify the requests the session engine sends
// and to feed controlled story passages without a live backend.
//
// Example:
//
//	n := &mock.Narrator{Response: &narrator.Response{Text: "The gate creaks open."}}
//	resp, err := n.Narrate(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/talespin/pkg/narrator"
)

// NarrateCall records a single invocation of Narrate.
type NarrateCall struct {
	// Ctx is the context passed to Narrate.
	Ctx context.Context
	// Req is the request passed to Narrate.
	Req narrator.Request
}

// Narrator is a mock implementation of narrator.Narrator.
// Zero values cause Narrate to return an empty response and a nil error.
type Narrator struct {
	mu sync.Mutex

	// Response is returned by Narrate when NarrateFunc is nil.
	Response *narrator.Response

	// Err, if non-nil, is returned as the error from Narrate.
	Err error

	// Block makes Narrate wait for ctx cancellation and return ctx.Err().
	Block bool

	// NarrateFunc, when set, computes the response for each call.
	NarrateFunc func(ctx context.Context, req narrator.Request) (*narrator.Response, error)

	// Calls records every invocation of Narrate in order.
	Calls []NarrateCall
}

// Narrate records the call and returns the configured response.
func (n *Narrator) Narrate(ctx context.Context, req narrator.Request) (*narrator.Response, error) {
	n.mu.Lock()
	n.Calls = append(n.Calls, NarrateCall{Ctx: ctx, Req: req})
	fn, block, resp, err := n.NarrateFunc, n.Block, n.Response, n.Err
	n.mu.Unlock()

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
	if resp == nil {
		return &narrator.Response{}, nil
	}
	out := *resp
	return &out, nil
}

// CallCount returns the number of Narrate invocations. Thread-safe.
func (n *Narrator) CallCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.Calls)
}

// Requests returns a copy of every request passed to Narrate.
func (n *Narrator) Requests() []narrator.Request {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]narrator.Request, len(n.Calls))
	for i, c := range n.Calls {
		out[i] = c.Req
	}
	return out
}

// SetResponse replaces Response while the mock may be in use.
func (n *Narrator) SetResponse(resp *narrator.Response) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Response = resp
}

// SetBlock toggles Block while the mock may be in use.
func (n *Narrator) SetBlock(block bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Block = block
}

// Ensure Narrator implements narrator.Narrator at compile time.
var _ narrator.Narrator = (*Narrator)(nil)
