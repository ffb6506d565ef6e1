// Package embeddings defines the interface evaluators use to turn sentences
// into vectors, and an ONNX-backed implementation for pretrained baselines.
package embeddings

import "context"

// Embedder generates vector embeddings from text.
type Embedder interface {
	// Embed generates an embedding vector for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts efficiently.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// ModelVersion returns the model identifier.
	ModelVersion() string

	// Dimensions returns the embedding vector dimension.
	Dimensions() int

	// Close releases resources held by the embedder.
	Close() error
}
