package embeddings

import "context"

// Provider generates vector embeddings.
// Name identifies the model and is part of the cache key of every vector.
type Provider interface {
	// GenerateEmbedding creates a vector embedding for a single text
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)

	// GenerateBatchEmbeddings creates embeddings for multiple texts in one call.
	// The result is index-aligned with texts.
	GenerateBatchEmbeddings(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the dimensionality of embeddings produced by this provider
	Dimensions() int

	// Name returns the model name (e.g. "text-embedding-3-small")
	Name() string
}
