package llm

import (
	"fmt"
	"strings"

	"github.com/shannon-ai/llm-gateway/pkg/types"
)

// headroomMargin is the safety margin (in tokens) reserved between the prompt
// estimate and the model's context window before any output may be generated.
const headroomMargin = 256

// ModelSet holds a provider's registered models and implements the resolution
// and clamping rules shared by every vendor adapter. Vendor adapters embed a
// ModelSet by value; it is immutable after construction and therefore safe
// for concurrent use.
type ModelSet struct {
	provider string
	ordered  []ModelConfig
	byAlias  map[string]*ModelConfig
}

// NewModelSet validates and indexes the given models for provider. Aliases
// must be unique; MaxTokens must not exceed ContextWindow. An empty model
// list is rejected unless allowEmpty is set (providers must refuse to start
// with no configured models unless explicitly marked empty-allowed).
func NewModelSet(provider string, models []ModelConfig, allowEmpty bool) (ModelSet, error) {
	if provider == "" {
		return ModelSet{}, fmt.Errorf("llm: model set requires a provider name")
	}
	if len(models) == 0 && !allowEmpty {
		return ModelSet{}, fmt.Errorf("llm: provider %q has no configured models", provider)
	}

	ms := ModelSet{
		provider: provider,
		ordered:  make([]ModelConfig, len(models)),
		byAlias:  make(map[string]*ModelConfig, len(models)),
	}
	copy(ms.ordered, models)

	for i := range ms.ordered {
		m := &ms.ordered[i]
		m.Provider = provider
		if m.Alias == "" {
			m.Alias = m.ModelID
		}
		if m.ModelID == "" {
			return ModelSet{}, fmt.Errorf("llm: provider %q model %q has no model_id", provider, m.Alias)
		}
		if _, dup := ms.byAlias[m.Alias]; dup {
			return ModelSet{}, fmt.Errorf("llm: provider %q has duplicate model alias %q", provider, m.Alias)
		}
		if m.Tier == "" {
			m.Tier = types.TierSmall
		}
		if !m.Tier.IsValid() {
			return ModelSet{}, fmt.Errorf("llm: provider %q model %q has invalid tier %q", provider, m.Alias, m.Tier)
		}
		if m.ContextWindow <= 0 {
			m.ContextWindow = 128_000
		}
		if m.MaxTokens <= 0 {
			m.MaxTokens = 4_096
		}
		if m.MaxTokens > m.ContextWindow {
			return ModelSet{}, fmt.Errorf("llm: provider %q model %q: max_tokens %d exceeds context_window %d",
				provider, m.Alias, m.MaxTokens, m.ContextWindow)
		}
		ms.byAlias[m.Alias] = m
	}
	return ms, nil
}

// Provider returns the owning provider's name.
func (ms *ModelSet) Provider() string { return ms.provider }

// Models returns a copy of the registered model configs in registration order.
func (ms *ModelSet) Models() []ModelConfig {
	out := make([]ModelConfig, len(ms.ordered))
	copy(out, ms.ordered)
	return out
}

// Resolve picks the model a request addresses.
//
// Rules, in order:
//  1. A "provider:alias" form has its provider prefix stripped.
//  2. Direct lookup by alias, else linear match by vendor ModelID.
//  3. With no explicit model, the first model in the requested tier wins.
func (ms *ModelSet) Resolve(model string, tier types.ModelTier) (*ModelConfig, error) {
	if model != "" {
		if i := strings.Index(model, ":"); i >= 0 {
			model = model[i+1:]
		}
		if m, ok := ms.byAlias[model]; ok {
			return m, nil
		}
		for i := range ms.ordered {
			if ms.ordered[i].ModelID == model {
				return &ms.ordered[i], nil
			}
		}
		return nil, fmt.Errorf("llm: model %q not available for provider %q", model, ms.provider)
	}

	if tier == "" {
		tier = types.TierSmall
	}
	for i := range ms.ordered {
		if ms.ordered[i].Tier == tier {
			return &ms.ordered[i], nil
		}
	}
	return nil, fmt.Errorf("llm: provider %q has no models in tier %q", ms.provider, tier)
}

// HasAlias reports whether alias is registered (after stripping any
// "provider:" prefix). Used by the router to verify preference entries.
func (ms *ModelSet) HasAlias(alias string) bool {
	if i := strings.Index(alias, ":"); i >= 0 {
		alias = alias[i+1:]
	}
	_, ok := ms.byAlias[alias]
	return ok
}

// ServesTier reports whether any registered model belongs to tier.
func (ms *ModelSet) ServesTier(tier types.ModelTier) bool {
	for i := range ms.ordered {
		if ms.ordered[i].Tier == tier {
			return true
		}
	}
	return false
}

// ClampMaxTokens computes the output-token ceiling for a request against
// model, given an estimated prompt size:
//
//	adjusted = max(1, min(requested, model.MaxTokens, ContextWindow − prompt − margin))
//
// A requested value of 0 means "model default" (model.MaxTokens). When the
// headroom itself is non-positive the prompt cannot fit and a
// [*ContextOverflowError] is returned — the request must fail fast rather
// than silently truncate.
func (ms *ModelSet) ClampMaxTokens(requested int, model *ModelConfig, promptTokens int) (int, error) {
	headroom := model.ContextWindow - promptTokens - headroomMargin
	if headroom <= 0 {
		return 0, &ContextOverflowError{
			Provider:      ms.provider,
			Model:         model.Alias,
			PromptTokens:  promptTokens,
			ContextWindow: model.ContextWindow,
			Margin:        headroomMargin,
		}
	}

	adjusted := model.MaxTokens
	if requested > 0 && requested < adjusted {
		adjusted = requested
	}
	if headroom < adjusted {
		adjusted = headroom
	}
	if adjusted < 1 {
		adjusted = 1
	}
	return adjusted, nil
}

// Cost computes the USD cost of usage under model's per-1k pricing.
func Cost(usage types.TokenUsage, model *ModelConfig) float64 {
	return float64(usage.InputTokens)/1000*model.InputPricePer1K +
		float64(usage.OutputTokens)/1000*model.OutputPricePer1K
}
