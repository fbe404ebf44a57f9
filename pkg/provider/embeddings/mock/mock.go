// Package mock provides a test double for the embeddings.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/shannon-ai/llm-gateway/pkg/provider/embeddings"
)

var _ embeddings.Provider = (*Provider)(nil)

// Provider is a configurable mock implementation of embeddings.Provider. It
// records every call so tests can assert on submitted texts.
type Provider struct {
	mu sync.Mutex

	// EmbedFunc, when set, computes Embed results per call. Otherwise
	// EmbedResult/EmbedErr are returned.
	EmbedFunc   func(text string) ([]float32, error)
	EmbedResult []float32
	EmbedErr    error

	EmbedBatchResult [][]float32
	EmbedBatchErr    error

	DimensionsValue int
	ModelIDValue    string

	EmbedCalls      []string
	EmbedBatchCalls [][]string
}

// Embed implements embeddings.Provider.
func (p *Provider) Embed(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	p.EmbedCalls = append(p.EmbedCalls, text)
	p.mu.Unlock()

	if p.EmbedFunc != nil {
		return p.EmbedFunc(text)
	}
	return p.EmbedResult, p.EmbedErr
}

// EmbedBatch implements embeddings.Provider.
func (p *Provider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	p.EmbedBatchCalls = append(p.EmbedBatchCalls, append([]string(nil), texts...))
	p.mu.Unlock()

	if p.EmbedBatchErr != nil {
		return nil, p.EmbedBatchErr
	}
	if p.EmbedBatchResult != nil {
		return p.EmbedBatchResult, nil
	}
	if p.EmbedFunc != nil {
		out := make([][]float32, len(texts))
		for i, t := range texts {
			vec, err := p.EmbedFunc(t)
			if err != nil {
				return nil, err
			}
			out[i] = vec
		}
		return out, nil
	}
	return make([][]float32, len(texts)), nil
}

// Dimensions implements embeddings.Provider.
func (p *Provider) Dimensions() int { return p.DimensionsValue }

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string { return p.ModelIDValue }
