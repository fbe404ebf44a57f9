// Package registry constructs LLM providers from configuration and answers
// the routing question: which providers, in which order, serve a given tier.
//
// The registry's state is swapped atomically on config reload, so in-flight
// requests keep the provider set they started with while new requests see
// the new one.
package registry

import (
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"

	"github.com/shannon-ai/llm-gateway/internal/config"
	"github.com/shannon-ai/llm-gateway/internal/ratelimit"
	"github.com/shannon-ai/llm-gateway/pkg/provider/llm"
	"github.com/shannon-ai/llm-gateway/pkg/provider/llm/anyllm"
	"github.com/shannon-ai/llm-gateway/pkg/provider/llm/openai"
	"github.com/shannon-ai/llm-gateway/pkg/provider/llm/xai"
	"github.com/shannon-ai/llm-gateway/pkg/types"
)

// Candidate pairs a provider with the model preference that selected it.
type Candidate struct {
	Provider llm.Provider

	// Model is the preferred model alias for this candidate, empty when the
	// tier preference did not name one.
	Model string
}

// state is the immutable snapshot the atomic pointer guards.
type state struct {
	providers       map[string]llm.Provider
	limiters        *ratelimit.Registry
	prefs           map[types.ModelTier][]config.PreferenceEntry
	defaultProvider string
	fallbackEnabled bool
}

// Registry holds the constructed provider set. Safe for concurrent use.
type Registry struct {
	current atomic.Pointer[state]
}

// New returns an empty registry. Call Rebuild before routing.
func New() *Registry {
	r := &Registry{}
	r.current.Store(&state{
		providers: map[string]llm.Provider{},
		limiters:  ratelimit.NewRegistry(),
		prefs:     map[types.ModelTier][]config.PreferenceEntry{},
	})
	return r
}

// Rebuild constructs providers from cfg and atomically installs them. On
// error nothing is swapped and the previous set stays in force. A config
// with no providers is valid; the manager then serves mock responses.
func (r *Registry) Rebuild(cfg *config.Config) error {
	providers := make(map[string]llm.Provider, len(cfg.Providers))
	limiters := ratelimit.NewRegistry()

	for name, pc := range cfg.Providers {
		p, err := construct(name, pc, cfg.Pricing.Models[name])
		if err != nil {
			return fmt.Errorf("registry: provider %q: %w", name, err)
		}
		providers[name] = p
		limiters.Set(name, pc.RateLimitRPM)
	}

	prefs := make(map[types.ModelTier][]config.PreferenceEntry, len(cfg.Routing.TierPreferences))
	for tierName, entries := range cfg.Routing.TierPreferences {
		tier, err := types.ParseTier(tierName)
		if err != nil {
			return fmt.Errorf("registry: routing tier %q: %w", tierName, err)
		}
		sorted := append([]config.PreferenceEntry(nil), entries...)
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })
		prefs[tier] = sorted
	}

	fallback := cfg.Routing.FallbackEnabled == nil || *cfg.Routing.FallbackEnabled
	r.current.Store(&state{
		providers:       providers,
		limiters:        limiters,
		prefs:           prefs,
		defaultProvider: cfg.Routing.DefaultProvider,
		fallbackEnabled: fallback,
	})

	slog.Info("provider registry rebuilt", "providers", len(providers))
	return nil
}

// construct builds one provider from its config entry.
func construct(name string, pc config.ProviderConfig, overrides map[string]config.PricingOverride) (llm.Provider, error) {
	models := pc.ModelConfigs(name, overrides)
	kind := pc.ProviderKind(name)

	switch kind {
	case "openai":
		return openai.New(openai.Config{
			Name:    name,
			APIKey:  pc.APIKey,
			BaseURL: pc.BaseURL,
			Models:  models,
			Timeout: pc.Timeout(),
		})
	case "xai":
		return xai.New(xai.Config{
			Name:    name,
			APIKey:  pc.APIKey,
			BaseURL: pc.BaseURL,
			Models:  models,
			Timeout: pc.Timeout(),
		})
	case "anthropic", "gemini", "groq", "deepseek", "qwen", "ollama":
		return anyllm.New(anyllm.Config{
			Name:    name,
			Family:  kind,
			APIKey:  pc.APIKey,
			BaseURL: pc.BaseURL,
			Models:  models,
			Timeout: pc.Timeout(),
		})
	default:
		return nil, fmt.Errorf("unknown provider kind %q", kind)
	}
}

// Install adds or replaces a single provider without a full rebuild, with an
// optional requests-per-minute limit (0 means unlimited). Tier preferences
// are left untouched.
func (r *Registry) Install(name string, p llm.Provider, rpm int) {
	for {
		old := r.current.Load()
		providers := make(map[string]llm.Provider, len(old.providers)+1)
		for k, v := range old.providers {
			providers[k] = v
		}
		providers[name] = p
		old.limiters.Set(name, rpm)

		next := &state{
			providers:       providers,
			limiters:        old.limiters,
			prefs:           old.prefs,
			defaultProvider: old.defaultProvider,
			fallbackEnabled: old.fallbackEnabled,
		}
		if r.current.CompareAndSwap(old, next) {
			return
		}
	}
}

// Provider returns the provider registered under name.
func (r *Registry) Provider(name string) (llm.Provider, bool) {
	s := r.current.Load()
	p, ok := s.providers[name]
	return p, ok
}

// Providers returns a copy of the current provider map.
func (r *Registry) Providers() map[string]llm.Provider {
	s := r.current.Load()
	out := make(map[string]llm.Provider, len(s.providers))
	for k, v := range s.providers {
		out[k] = v
	}
	return out
}

// Limiter returns the rate limiter for a provider (nil means unlimited).
func (r *Registry) Limiter(name string) *ratelimit.Limiter {
	return r.current.Load().limiters.Get(name)
}

// FallbackEnabled reports whether a single fallback provider may be tried.
func (r *Registry) FallbackEnabled() bool {
	return r.current.Load().fallbackEnabled
}

// CandidatesForTier returns the ordered providers serving tier. Explicit
// tier preferences come first, sorted by priority; preference entries whose
// provider is missing or whose named model is not registered are skipped
// with a warning. The configured default provider follows the preferences
// when it serves the tier, and every remaining provider serving the tier is
// appended in name order for determinism.
func (r *Registry) CandidatesForTier(tier types.ModelTier) []Candidate {
	s := r.current.Load()

	var out []Candidate
	seen := make(map[string]bool)

	for _, pref := range s.prefs[tier] {
		p, ok := s.providers[pref.Provider]
		if !ok {
			slog.Warn("tier preference references unknown provider",
				"tier", tier, "provider", pref.Provider)
			continue
		}
		if pref.Model != "" && !hasAlias(p, pref.Model) {
			slog.Warn("tier preference references unknown model",
				"tier", tier, "provider", pref.Provider, "model", pref.Model)
			continue
		}
		out = append(out, Candidate{Provider: p, Model: pref.Model})
		seen[pref.Provider] = true
	}

	if dp := s.defaultProvider; dp != "" && !seen[dp] {
		if p, ok := s.providers[dp]; ok && servesTier(p, tier) {
			out = append(out, Candidate{Provider: p})
			seen[dp] = true
		}
	}

	names := make([]string, 0, len(s.providers))
	for name, p := range s.providers {
		if !seen[name] && servesTier(p, tier) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		out = append(out, Candidate{Provider: s.providers[name]})
	}
	return out
}

// CandidatesForProvider returns the single candidate for an explicit
// provider override.
func (r *Registry) CandidatesForProvider(name, model string) ([]Candidate, error) {
	p, ok := r.Provider(name)
	if !ok {
		return nil, fmt.Errorf("registry: provider %q not configured", name)
	}
	return []Candidate{{Provider: p, Model: model}}, nil
}

// aliasChecker is implemented by providers embedding llm.ModelSet.
type aliasChecker interface {
	HasAlias(alias string) bool
}

func hasAlias(p llm.Provider, alias string) bool {
	if ac, ok := p.(aliasChecker); ok {
		return ac.HasAlias(alias)
	}
	for _, m := range p.Models() {
		if m.Alias == alias || m.ModelID == alias {
			return true
		}
	}
	return false
}

// tierChecker is implemented by providers embedding llm.ModelSet.
type tierChecker interface {
	ServesTier(tier types.ModelTier) bool
}

func servesTier(p llm.Provider, tier types.ModelTier) bool {
	if tc, ok := p.(tierChecker); ok {
		return tc.ServesTier(tier)
	}
	for _, m := range p.Models() {
		if m.Tier == tier {
			return true
		}
	}
	return false
}
