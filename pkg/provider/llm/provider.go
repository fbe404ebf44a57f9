// Package llm defines the Provider interface for Large Language Model backends.
//
// A provider wraps a remote model API (OpenAI, Anthropic, Gemini, Groq, xAI,
// or any OpenAI-compatible endpoint) and exposes a uniform interface for the
// gateway to perform completions, count tokens, and estimate costs without
// coupling to any specific SDK. A single provider hosts multiple models,
// registered under aliases and grouped into tiers; model resolution and the
// context-headroom clamp live in [ModelSet] so every vendor adapter shares
// the same behaviour.
//
// Implementors must be safe for concurrent use. Channels returned by
// StreamComplete must be closed by the implementation when the stream ends or
// when the supplied context is cancelled.
package llm

import (
	"context"
	"time"

	"github.com/shannon-ai/llm-gateway/pkg/types"
)

// ModelConfig is the per-model record a provider registers with the gateway.
type ModelConfig struct {
	// Provider is the owning provider's name (e.g. "openai", "anthropic").
	Provider string `json:"provider" yaml:"provider"`

	// ModelID is the vendor's model identifier (e.g. "gpt-4o-mini").
	ModelID string `json:"model_id" yaml:"model_id"`

	// Alias is the registry key under which this model is addressed. Unique
	// per provider; may differ from ModelID.
	Alias string `json:"alias" yaml:"alias"`

	// Tier is the cost/quality bucket this model belongs to.
	Tier types.ModelTier `json:"tier" yaml:"tier"`

	// ContextWindow caps prompt + output tokens.
	ContextWindow int `json:"context_window" yaml:"context_window"`

	// MaxTokens caps output tokens. Must not exceed ContextWindow.
	MaxTokens int `json:"max_tokens" yaml:"max_tokens"`

	// InputPricePer1K and OutputPricePer1K are USD prices per 1000 tokens.
	InputPricePer1K  float64 `json:"input_price_per_1k" yaml:"input_price_per_1k"`
	OutputPricePer1K float64 `json:"output_price_per_1k" yaml:"output_price_per_1k"`

	// Capability flags.
	SupportsFunctions bool `json:"supports_functions" yaml:"supports_functions"`
	SupportsStreaming bool `json:"supports_streaming" yaml:"supports_streaming"`
	SupportsVision    bool `json:"supports_vision" yaml:"supports_vision"`
	SupportsReasoning bool `json:"supports_reasoning" yaml:"supports_reasoning"`

	// Timeout is the default per-request deadline for this model.
	Timeout time.Duration `json:"-" yaml:"-"`
}

// Request is the normalised completion input shared by every provider.
type Request struct {
	// Messages is the ordered conversation history. Must be non-empty.
	Messages []types.Message `json:"messages"`

	// ModelTier selects a tier when Model is empty. Defaults to small.
	ModelTier types.ModelTier `json:"model_tier,omitempty"`

	// Model optionally names a model explicitly, as "alias" or "provider:alias".
	Model string `json:"model,omitempty"`

	// Sampling parameters. Nil pointers mean "vendor default".
	Temperature      *float64 `json:"temperature,omitempty"`
	MaxTokens        int      `json:"max_tokens,omitempty"`
	TopP             *float64 `json:"top_p,omitempty"`
	FrequencyPenalty *float64 `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64 `json:"presence_penalty,omitempty"`
	Stop             []string `json:"stop,omitempty"`
	Seed             *int     `json:"seed,omitempty"`

	// ResponseFormat requests a structured output mode; the only recognised
	// value of ResponseFormat["type"] is "json_object".
	ResponseFormat map[string]string `json:"response_format,omitempty"`

	// Functions declares the tools offered to the model, with FunctionCall
	// controlling whether the model may call them.
	Functions    []types.FunctionSchema    `json:"functions,omitempty"`
	FunctionCall *types.FunctionCallPolicy `json:"function_call,omitempty"`

	// Routing context. Excluded from the cache fingerprint.
	SessionID        string `json:"session_id,omitempty"`
	TaskID           string `json:"task_id,omitempty"`
	AgentID          string `json:"agent_id,omitempty"`
	WorkflowID       string `json:"workflow_id,omitempty"`
	ProviderOverride string `json:"provider_override,omitempty"`

	// CacheKey overrides the computed fingerprint; CacheTTL overrides the
	// default cache TTL (seconds).
	CacheKey string `json:"cache_key,omitempty"`
	CacheTTL int    `json:"cache_ttl,omitempty"`

	// MaxTokensBudget overrides the per-session token budget for this request.
	MaxTokensBudget int `json:"max_tokens_budget,omitempty"`

	// ComplexityScore in [0,1] steers reasoning-capable providers towards
	// their Responses path. Populated by the analysis layer when known.
	ComplexityScore float64 `json:"complexity_score,omitempty"`

	// Stream requests incremental delivery via StreamComplete.
	Stream bool `json:"stream,omitempty"`
}

// Response is the normalised completion output.
type Response struct {
	// Content is the assistant's reply. May be empty when FunctionCall is the
	// sole output.
	Content string `json:"content"`

	// Model is the vendor model that produced the response.
	Model string `json:"model"`

	// Provider names the backend that served the request. Never empty —
	// providers set "unknown" when the vendor reports nothing.
	Provider string `json:"provider"`

	// Usage is the token accounting for this exchange.
	Usage types.TokenUsage `json:"usage"`

	// FinishReason is the vendor's stop reason ("stop", "length", "tool_calls").
	FinishReason string `json:"finish_reason,omitempty"`

	// FunctionCall is set when the model requested a tool invocation.
	FunctionCall *types.FunctionCall `json:"function_call,omitempty"`

	// RequestID is the vendor request identifier, when available.
	RequestID string `json:"request_id,omitempty"`

	// LatencyMs is the wall-clock round trip in milliseconds.
	LatencyMs int64 `json:"latency_ms,omitempty"`

	// Cached is true when the response was served from the gateway cache.
	Cached bool `json:"cached"`

	// EffectiveMaxCompletion is the output-token ceiling actually sent to the
	// vendor after the headroom clamp.
	EffectiveMaxCompletion int `json:"effective_max_completion,omitempty"`
}

// Chunk is a single fragment of a streaming completion. The usage chunk, if
// the vendor produces one, is always the last chunk before the channel closes.
type Chunk struct {
	// Delta is the incremental text content.
	Delta string

	// Usage carries final token accounting. Non-nil only on the last chunk.
	Usage *types.TokenUsage

	// Err surfaces a mid-stream failure; the channel closes after it.
	Err error
}

// Provider is the abstraction over any LLM backend.
//
// Implementations must be safe for concurrent use and must propagate context
// cancellation promptly: when ctx is cancelled the method must return (or
// close its channel) within one network timeout.
type Provider interface {
	// Name returns the provider's registry name.
	Name() string

	// Models lists the models this provider registered at construction.
	Models() []ModelConfig

	// Complete sends req to the resolved model and waits for the full,
	// normalised response.
	Complete(ctx context.Context, req *Request) (*Response, error)

	// StreamComplete sends req and returns a channel of text deltas. The
	// channel is closed by the implementation when generation finishes or ctx
	// is cancelled. Callers must drain the channel.
	StreamComplete(ctx context.Context, req *Request) (<-chan Chunk, error)

	// CountTokens estimates prompt token consumption for the given messages
	// and function schemas. Implementations may call a vendor tokenizer; the
	// fallback heuristic in [EstimateTokens] keeps budgets comparable.
	CountTokens(messages []types.Message, functions []types.FunctionSchema, model *ModelConfig) int

	// EstimateCost computes the USD cost of usage under model's pricing.
	EstimateCost(usage types.TokenUsage, model *ModelConfig) float64
}

// Embedder is implemented by providers that can generate text embeddings.
// The manager discovers embedding support via type assertion.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string, model string) ([]float64, error)
}
