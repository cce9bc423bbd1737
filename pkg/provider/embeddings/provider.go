// Package embeddings defines the Provider interface for vector embedding
// backends. The archive's optional semantic index uses these vectors to rank
// stored chunks by similarity to a question when keyword search comes up
// empty.
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// Provider is the abstraction over any text-embedding backend.
//
// All vectors returned by a single Provider instance share the same
// dimensionality (returned by Dimensions). Vectors from different Provider
// instances must not be mixed in the same similarity computation unless both
// use the same model.
type Provider interface {
	// Embed computes the embedding vector for a single text string. Returns
	// a float32 slice of length Dimensions() or an error if the request
	// fails or ctx is cancelled. Text is passed through verbatim; any
	// model-specific prefix ("query: ", "passage: ") is the caller's job.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch computes vectors for a slice of texts in one provider
	// call. The i-th result corresponds to texts[i]. On error the entire
	// result is nil; partial results are not returned.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed length of every vector produced by this
	// provider.
	Dimensions() int

	// ModelID returns the provider-specific model identifier, for logging
	// and for ensuring consistent model usage across an archive.
	ModelID() string
}
