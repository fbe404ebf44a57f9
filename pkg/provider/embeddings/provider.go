// Package embeddings defines the Provider interface for vector embedding
// backends.
//
// The gateway uses embeddings for semantic tool selection (ranking registered
// tools against a task description) and to serve embedding requests from the
// rest of the agent platform. Backends include OpenAI's text-embedding-3
// family and local Ollama models.
//
// Implementations must be safe for concurrent use.
package embeddings

import (
	"context"
	"math"
)

// Provider is the abstraction over any text-embedding backend.
//
// All vectors returned by a single Provider instance share the same
// dimensionality (returned by Dimensions). Vectors from different Provider
// instances must not be mixed in one similarity computation unless both use
// the same model.
type Provider interface {
	// Embed computes the embedding vector for a single text string. The text
	// is passed through verbatim; any model-specific prefixing is the
	// caller's responsibility.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch computes vectors for a slice of texts in a single provider
	// call. The returned slice has the same length and order as texts. On
	// error the entire result is nil, partial results are not returned.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed length of every vector produced by this
	// provider.
	Dimensions() int

	// ModelID returns the model identifier used for embeddings, for logging
	// and cache keying.
	ModelID() string
}

// CosineSimilarity computes the cosine similarity of two vectors. It returns
// 0 when the vectors differ in length or either has zero magnitude, so a
// malformed vector ranks last instead of poisoning a sort.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
