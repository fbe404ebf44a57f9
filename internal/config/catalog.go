package config

import (
	"fmt"
	"sort"
)

// The gateway accepts two configuration dialects. The legacy form declares
// providers/routing/cache sections directly ([Config]). The catalog form
// splits the same information across model_catalog, model_tiers,
// provider_settings, selection_strategy and prompt_cache sections; it is
// translated into a [Config] here so the rest of the gateway only ever sees
// one shape.

// catalogConfig mirrors the catalog-form YAML document.
type catalogConfig struct {
	Server ServerConfig `yaml:"server"`

	// ModelCatalog is keyed by provider name, then model ID.
	ModelCatalog map[string]map[string]catalogModel `yaml:"model_catalog"`

	// ModelTiers assigns providers to tiers with priorities.
	ModelTiers map[string]catalogTier `yaml:"model_tiers"`

	// ProviderSettings carries credentials and limits per provider.
	ProviderSettings map[string]catalogProviderSettings `yaml:"provider_settings"`

	// SelectionStrategy is accepted for compatibility; only the priority
	// strategy is implemented and other values degrade to it.
	SelectionStrategy string `yaml:"selection_strategy"`

	PromptCache promptCacheConfig `yaml:"prompt_cache"`

	Budget     BudgetConfig     `yaml:"budget"`
	Events     EventsConfig     `yaml:"events"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Tools      ToolsConfig      `yaml:"tools"`
	Pricing    PricingConfig    `yaml:"pricing"`
}

type catalogModel struct {
	Alias             string  `yaml:"alias"`
	Tier              string  `yaml:"tier"`
	ContextWindow     int     `yaml:"context_window"`
	MaxTokens         int     `yaml:"max_tokens"`
	InputPricePer1K   float64 `yaml:"input_price_per_1k"`
	OutputPricePer1K  float64 `yaml:"output_price_per_1k"`
	SupportsFunctions bool    `yaml:"supports_functions"`
	SupportsStreaming bool    `yaml:"supports_streaming"`
	SupportsVision    bool    `yaml:"supports_vision"`
	SupportsReasoning bool    `yaml:"supports_reasoning"`
	TimeoutSeconds    int     `yaml:"timeout_seconds"`
}

type catalogTier struct {
	Providers []catalogTierEntry `yaml:"providers"`
}

type catalogTierEntry struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	Priority int    `yaml:"priority"`
}

type catalogProviderSettings struct {
	Kind           string `yaml:"kind"`
	Type           string `yaml:"type"`
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	RateLimitRPM   int    `yaml:"rate_limit_rpm"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	Enabled        *bool  `yaml:"enabled"`
}

type promptCacheConfig struct {
	Enabled    *bool `yaml:"enabled"`
	Capacity   int   `yaml:"capacity"`
	TTLSeconds int   `yaml:"ttl_seconds"`
}

// translate converts a catalog-form document into the canonical [Config].
func (cc *catalogConfig) translate() (*Config, error) {
	cfg := &Config{
		Server:     cc.Server,
		Providers:  make(map[string]ProviderConfig, len(cc.ModelCatalog)),
		Budget:     cc.Budget,
		Events:     cc.Events,
		Embeddings: cc.Embeddings,
		Tools:      cc.Tools,
		Pricing:    cc.Pricing,
		Cache: CacheConfig{
			Enabled:           cc.PromptCache.Enabled,
			Capacity:          cc.PromptCache.Capacity,
			DefaultTTLSeconds: cc.PromptCache.TTLSeconds,
		},
	}

	for providerName, models := range cc.ModelCatalog {
		settings := cc.ProviderSettings[providerName]
		if settings.Enabled != nil && !*settings.Enabled {
			continue
		}

		entry := ProviderConfig{
			Kind:           settings.Kind,
			Type:           settings.Type,
			APIKey:         settings.APIKey,
			BaseURL:        settings.BaseURL,
			RateLimitRPM:   settings.RateLimitRPM,
			TimeoutSeconds: settings.TimeoutSeconds,
		}

		ids := make([]string, 0, len(models))
		for id := range models {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			m := models[id]
			entry.Models = append(entry.Models, ModelEntry{
				ID:                id,
				Alias:             m.Alias,
				Tier:              m.Tier,
				ContextWindow:     m.ContextWindow,
				MaxTokens:         m.MaxTokens,
				InputPricePer1K:   m.InputPricePer1K,
				OutputPricePer1K:  m.OutputPricePer1K,
				SupportsFunctions: m.SupportsFunctions,
				SupportsStreaming: m.SupportsStreaming,
				SupportsVision:    m.SupportsVision,
				SupportsReasoning: m.SupportsReasoning,
				TimeoutSeconds:    m.TimeoutSeconds,
			})
		}
		cfg.Providers[providerName] = entry
	}

	// Settings-only entries (legacy model declared inline) are an error in
	// the catalog form: every provider must appear in model_catalog.
	for name := range cc.ProviderSettings {
		if _, ok := cc.ModelCatalog[name]; !ok {
			return nil, fmt.Errorf("config: provider_settings.%s has no model_catalog entry", name)
		}
	}

	if len(cc.ModelTiers) > 0 {
		cfg.Routing.TierPreferences = make(map[string][]PreferenceEntry, len(cc.ModelTiers))
		for tier, ct := range cc.ModelTiers {
			for _, e := range ct.Providers {
				cfg.Routing.TierPreferences[tier] = append(cfg.Routing.TierPreferences[tier], PreferenceEntry{
					Provider: e.Provider,
					Model:    e.Model,
					Priority: e.Priority,
				})
			}
		}
	}
	return cfg, nil
}
