// Package types defines the shared wire types used across all gateway packages.
//
// These types form the lingua franca between providers, the router, the tool
// layer, and the HTTP surface. They are intentionally minimal — each package
// defines its own domain types, but cross-cutting data structures live here to
// avoid circular imports. JSON field names in this package are authoritative
// for the external wire format.
package types

import "fmt"

// ModelTier is a coarse cost/quality bucket used for routing when no explicit
// model is named in a request.
type ModelTier string

const (
	// TierSmall selects cheap, fast models (classification, extraction).
	TierSmall ModelTier = "small"

	// TierMedium selects balanced general-purpose models.
	TierMedium ModelTier = "medium"

	// TierLarge selects the most capable (and expensive) models.
	TierLarge ModelTier = "large"
)

// IsValid reports whether t is a recognised tier.
func (t ModelTier) IsValid() bool {
	switch t {
	case TierSmall, TierMedium, TierLarge:
		return true
	}
	return false
}

// ParseTier converts a string into a ModelTier, defaulting to TierSmall for
// the empty string and returning an error for anything unrecognised.
func ParseTier(s string) (ModelTier, error) {
	if s == "" {
		return TierSmall, nil
	}
	t := ModelTier(s)
	if !t.IsValid() {
		return "", fmt.Errorf("types: unknown model tier %q; valid values: small, medium, large", s)
	}
	return t, nil
}

// Message roles. Providers translate these into whatever role vocabulary their
// vendor dialect uses.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
	RoleFunction  = "function"
)

// Message represents a single message in an LLM conversation history.
type Message struct {
	// Role is one of "system", "user", "assistant", "tool", or "function".
	Role string `json:"role"`

	// Content is the message payload: plain text, a list of typed parts, or an
	// unrecognised vendor shape preserved verbatim.
	Content MessageContent `json:"content"`

	// Name is an optional participant or function name.
	Name string `json:"name,omitempty"`

	// ToolCalls contains any tool invocations requested by the assistant.
	ToolCalls []FunctionCall `json:"tool_calls,omitempty"`

	// ToolCallID is set when Role is "tool", identifying which call this answers.
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// FunctionSchema describes a function/tool offered to a model, in
// OpenAI-function form.
type FunctionSchema struct {
	// Name is the function's unique identifier.
	Name string `json:"name"`

	// Description explains what the function does (included in LLM prompts).
	Description string `json:"description,omitempty"`

	// Parameters is the JSON Schema describing the function's input parameters.
	Parameters map[string]any `json:"parameters,omitempty"`
}

// FunctionCall is a normalised tool/function invocation produced by a model.
// Every vendor dialect is reduced to this {name, arguments} pair.
type FunctionCall struct {
	// ID is the provider-assigned call identifier, when the vendor supplies one.
	ID string `json:"id,omitempty"`

	// Name is the function name.
	Name string `json:"name"`

	// Arguments is the JSON-encoded arguments string.
	Arguments string `json:"arguments"`
}

// FunctionCallPolicy controls whether and which function the model may call.
// The zero value means "auto".
type FunctionCallPolicy struct {
	// Mode is "auto", "none", or "named".
	Mode string `json:"mode,omitempty"`

	// Name is the forced function name when Mode is "named".
	Name string `json:"name,omitempty"`
}

// TokenUsage holds token accounting for a single request/response pair.
// Values are commutatively additive via Add.
type TokenUsage struct {
	// InputTokens is the number of tokens consumed by the prompt.
	InputTokens int `json:"input_tokens"`

	// OutputTokens is the number of tokens generated in the response.
	OutputTokens int `json:"output_tokens"`

	// TotalTokens is InputTokens + OutputTokens. Normalize enforces this.
	TotalTokens int `json:"total_tokens"`

	// EstimatedCost is the estimated cost in USD for this usage.
	EstimatedCost float64 `json:"estimated_cost"`
}

// Normalize enforces the TotalTokens = InputTokens + OutputTokens invariant.
// Providers call this after constructing usage from vendor responses so the
// invariant holds regardless of what the vendor reported.
func (u *TokenUsage) Normalize() {
	u.TotalTokens = u.InputTokens + u.OutputTokens
}

// Add returns the component-wise sum of u and other.
func (u TokenUsage) Add(other TokenUsage) TokenUsage {
	return TokenUsage{
		InputTokens:   u.InputTokens + other.InputTokens,
		OutputTokens:  u.OutputTokens + other.OutputTokens,
		TotalTokens:   u.TotalTokens + other.TotalTokens,
		EstimatedCost: u.EstimatedCost + other.EstimatedCost,
	}
}
