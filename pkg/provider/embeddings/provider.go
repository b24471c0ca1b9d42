// Package embeddings defines the Provider interface for vector embedding backends.
//
// An embeddings provider maps text to dense float32 vectors. The evaluator
// embeds a generated sentence together with the agent's actual reply and any
// decoy replies in one batch, then compares them with a dot product, so all
// vectors used in one comparison must come from the same Provider.
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// Provider is the abstraction over any text-embedding backend.
//
// All embedding vectors returned by a single Provider instance share the same
// dimensionality (returned by Dimensions).
type Provider interface {
	// Embed computes the embedding vector for a single text string. The
	// Provider passes text through verbatim.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch computes embedding vectors for texts in a single provider
	// call. The returned slice has the same length as texts and the i-th element
	// corresponds to texts[i]. On error the entire slice is nil.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed length of every embedding vector produced by this
	// provider.
	Dimensions() int

	// ModelID returns the provider-specific model identifier used for embeddings
	// (e.g., "text-embedding-ada-002", "nomic-embed-text"). It is recorded with
	// every evaluation run.
	ModelID() string
}
