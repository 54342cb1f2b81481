// Package image defines the Provider interface for illustration backends.
//
// An image provider turns a text prompt into a hosted image and returns a
// reference the client can render: usually an https URL, or a data URL for
// backends that only return inline bytes.
//
// Illustration is best-effort. Callers bound every request with a context
// deadline and treat any error, including a deadline expiry, as a silent
// miss.
//
// Implementations must be safe for concurrent use.
package image

import "context"

// Request describes the image to generate.
type Request struct {
	// Prompt is the full text prompt.
	Prompt string

	// Size is an optional WIDTHxHEIGHT hint, e.g. "1024x1024". Providers that
	// do not support the requested size fall back to their default.
	Size string
}

// Result is a generated image reference.
type Result struct {
	// URL is where the image can be fetched or an inline data URL.
	URL string
}

// Provider is the abstraction over any image generation backend.
type Provider interface {
	// Generate produces an image for req. It returns an error if the backend
	// fails, returns no image, or ctx is cancelled.
	Generate(ctx context.Context, req Request) (*Result, error)
}
