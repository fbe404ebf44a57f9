// Package mock provides a test double for the llm.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/shannon-ai/llm-gateway/pkg/provider/llm"
	"github.com/shannon-ai/llm-gateway/pkg/types"
)

var _ llm.Provider = (*Provider)(nil)

// Provider is a configurable mock implementation of llm.Provider. It records
// every request so tests can assert on routing decisions.
type Provider struct {
	mu sync.Mutex

	// NameValue is returned by Name. Defaults to "mock".
	NameValue string

	// ModelsValue is returned by Models.
	ModelsValue []llm.ModelConfig

	// CompleteFunc, when set, computes Complete results per call. Otherwise
	// Response/Err are returned.
	CompleteFunc func(ctx context.Context, req *llm.Request) (*llm.Response, error)
	Response     *llm.Response
	Err          error

	// StreamChunks are emitted by StreamComplete when StreamFunc is unset.
	StreamFunc   func(ctx context.Context, req *llm.Request) (<-chan llm.Chunk, error)
	StreamChunks []llm.Chunk

	// CountTokensValue overrides the token heuristic when non-zero.
	CountTokensValue int

	// Calls records every Complete request in order.
	Calls []*llm.Request

	// StreamCalls records every StreamComplete request in order.
	StreamCalls []*llm.Request
}

// Name implements llm.Provider.
func (p *Provider) Name() string {
	if p.NameValue == "" {
		return "mock"
	}
	return p.NameValue
}

// Models implements llm.Provider.
func (p *Provider) Models() []llm.ModelConfig {
	return append([]llm.ModelConfig(nil), p.ModelsValue...)
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, req)
	p.mu.Unlock()

	if p.CompleteFunc != nil {
		return p.CompleteFunc(ctx, req)
	}
	if p.Err != nil {
		return nil, p.Err
	}
	if p.Response != nil {
		resp := *p.Response
		if resp.Provider == "" {
			resp.Provider = p.Name()
		}
		return &resp, nil
	}
	return &llm.Response{
		Content:      "mock response",
		Model:        "mock-model",
		Provider:     p.Name(),
		FinishReason: "stop",
		Usage:        types.TokenUsage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
	}, nil
}

// StreamComplete implements llm.Provider.
func (p *Provider) StreamComplete(ctx context.Context, req *llm.Request) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	p.StreamCalls = append(p.StreamCalls, req)
	p.mu.Unlock()

	if p.StreamFunc != nil {
		return p.StreamFunc(ctx, req)
	}
	if p.Err != nil {
		return nil, p.Err
	}

	ch := make(chan llm.Chunk, len(p.StreamChunks)+1)
	for _, c := range p.StreamChunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

// CountTokens implements llm.Provider.
func (p *Provider) CountTokens(messages []types.Message, functions []types.FunctionSchema, _ *llm.ModelConfig) int {
	if p.CountTokensValue > 0 {
		return p.CountTokensValue
	}
	return llm.EstimateTokens(messages, functions)
}

// EstimateCost implements llm.Provider.
func (p *Provider) EstimateCost(usage types.TokenUsage, model *llm.ModelConfig) float64 {
	return llm.Cost(usage, model)
}

// CallCount returns the number of Complete calls recorded so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}
