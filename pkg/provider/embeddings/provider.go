// Package embeddings defines the Provider interface for vector embedding
// backends.
//
// Embeddings map story passages to dense float32 vectors so that earlier
// turns that fell out of the narrator's history window can be recalled by
// similarity to the player's current action.
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// Provider is the abstraction over any text-embedding backend.
//
// All vectors returned by one Provider share the length reported by
// Dimensions. Vectors from different models must not be compared.
type Provider interface {
	// Embed computes the embedding vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch computes one vector per text in a single backend call. The
	// i-th result corresponds to texts[i]. On error no partial result is
	// returned.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed vector length of this provider.
	Dimensions() int

	// ModelID returns the backend model identifier.
	ModelID() string
}
