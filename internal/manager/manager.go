// Package manager orchestrates the completion pipeline: cache consult,
// candidate selection, rate limiting, budget enforcement, the provider call
// with retries and a single fallback, usage accounting and event emission.
//
// A Manager is the one object the HTTP layer talks to. It owns the provider
// registry, the prompt cache, the budget tracker and the event emitter, and
// swaps their configuration in place on reload so in-flight requests are
// never disturbed.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shannon-ai/llm-gateway/internal/budget"
	"github.com/shannon-ai/llm-gateway/internal/cache"
	"github.com/shannon-ai/llm-gateway/internal/config"
	"github.com/shannon-ai/llm-gateway/internal/events"
	"github.com/shannon-ai/llm-gateway/internal/registry"
	"github.com/shannon-ai/llm-gateway/internal/resilience"
	"github.com/shannon-ai/llm-gateway/pkg/provider/embeddings"
	embollama "github.com/shannon-ai/llm-gateway/pkg/provider/embeddings/ollama"
	embopenai "github.com/shannon-ai/llm-gateway/pkg/provider/embeddings/openai"
	"github.com/shannon-ai/llm-gateway/pkg/provider/llm"
	"github.com/shannon-ai/llm-gateway/pkg/types"
)

// mockContent is served when no providers are configured, so the rest of the
// platform can be developed against the gateway without vendor credentials.
const mockContent = "This is a mock response. No LLM providers are configured."

// ErrNoEmbedder is returned when no configured backend can produce embeddings.
var ErrNoEmbedder = errors.New("manager: no embedding backend configured")

// Manager wires the gateway subsystems into the completion pipeline.
// Safe for concurrent use.
type Manager struct {
	registry *registry.Registry
	budget   *budget.Tracker

	// mu guards the reconfigurable fields below.
	mu       sync.RWMutex
	cfg      *config.Config
	cache    *cache.Cache
	emitter  *events.Emitter
	embedder embeddings.Provider

	// groups holds per-route fallback groups so circuit breaker state
	// survives across requests. Cleared when providers or routing change.
	groupsMu sync.Mutex
	groups   map[string]*resilience.FallbackGroup[registry.Candidate]

	retryPolicy resilience.RetryPolicy
}

// New constructs a Manager from cfg, building every provider up front.
func New(cfg *config.Config) (*Manager, error) {
	reg := registry.New()
	if err := reg.Rebuild(cfg); err != nil {
		return nil, fmt.Errorf("manager: %w", err)
	}

	m := &Manager{
		registry:    reg,
		budget:      budget.New(cfg.Budget.SessionTokens),
		cfg:         cfg,
		emitter:     events.New(cfg.Events.IngestURL, cfg.Events.AuthToken),
		groups:      make(map[string]*resilience.FallbackGroup[registry.Candidate]),
		retryPolicy: resilience.DefaultRetryPolicy(llm.IsRetryable),
	}
	if cfg.Cache.IsEnabled() {
		m.cache = cache.New(cfg.Cache.Capacity)
	}

	embedder, err := buildEmbedder(cfg.Embeddings)
	if err != nil {
		return nil, fmt.Errorf("manager: %w", err)
	}
	m.embedder = embedder
	return m, nil
}

func buildEmbedder(cfg config.EmbeddingsConfig) (embeddings.Provider, error) {
	switch cfg.Provider {
	case "":
		return nil, nil
	case "openai":
		return embopenai.New(embopenai.Config{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
		})
	case "ollama":
		return embollama.New(embollama.Config{
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
		})
	default:
		return nil, fmt.Errorf("unknown embeddings provider %q", cfg.Provider)
	}
}

// snapshot returns the reconfigurable fields consistently.
func (m *Manager) snapshot() (*config.Config, *cache.Cache, *events.Emitter) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg, m.cache, m.emitter
}

// Complete runs the full pipeline for a non-streaming completion.
func (m *Manager) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("manager: request has no messages")
	}
	cfg, promptCache, emitter := m.snapshot()

	routeKey, candidates, err := m.selectCandidates(req)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		resp := m.mockResponse(req)
		emitter.EmitPrompt(req.WorkflowID, req.AgentID, req.Messages)
		emitter.EmitOutput(req.WorkflowID, req.AgentID, resp.Content, resp.Provider, resp.Model, resp.Usage)
		return resp, nil
	}

	// Cache consult happens before rate limiting and budgeting: a hit costs
	// neither a limiter slot nor budget.
	var cacheKey string
	if promptCache != nil && !req.Stream {
		cacheKey = cache.Fingerprint(req)
		if resp, ok := promptCache.Get(cacheKey); ok {
			return resp, nil
		}
	}

	estimate := candidates[0].Provider.CountTokens(req.Messages, req.Functions, nil) + req.MaxTokens
	if err := m.checkBudget(req, estimate); err != nil {
		return nil, err
	}

	group := m.groupFor(routeKey, candidates, m.allowFallback(req))
	resp, err := resilience.ExecuteWithResult(group, func(name string, cand registry.Candidate) (*llm.Response, error) {
		return m.callProvider(ctx, name, cand, req)
	})
	if err != nil {
		return nil, err
	}

	m.budget.Record(req.SessionID, req.TaskID, resp.Usage)
	if cacheKey != "" {
		promptCache.Put(cacheKey, resp, cacheTTL(req, cfg))
	}
	emitter.EmitPrompt(req.WorkflowID, req.AgentID, req.Messages)
	emitter.EmitOutput(req.WorkflowID, req.AgentID, resp.Content, resp.Provider, resp.Model, resp.Usage)
	return resp, nil
}

// callProvider is one fallback-group attempt: acquire the provider's rate
// limiter, then call Complete under the standard retry policy.
func (m *Manager) callProvider(ctx context.Context, name string, cand registry.Candidate, req *llm.Request) (*llm.Response, error) {
	attemptReq := *req
	if attemptReq.Model == "" && cand.Model != "" {
		attemptReq.Model = cand.Model
	}

	if err := m.registry.Limiter(name).Acquire(ctx); err != nil {
		return nil, fmt.Errorf("manager: rate limit wait for %s: %w", name, err)
	}

	return resilience.Retry(ctx, m.retryPolicy, func() (*llm.Response, error) {
		return cand.Provider.Complete(ctx, &attemptReq)
	})
}

// StreamComplete runs the pipeline for a streaming completion. The cache is
// bypassed; usage is recorded and events are emitted when the stream ends.
func (m *Manager) StreamComplete(ctx context.Context, req *llm.Request) (<-chan llm.Chunk, error) {
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("manager: request has no messages")
	}
	_, _, emitter := m.snapshot()

	_, candidates, err := m.selectCandidates(req)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return m.mockStream(req, emitter), nil
	}

	estimate := candidates[0].Provider.CountTokens(req.Messages, req.Functions, nil) + req.MaxTokens
	if err := m.checkBudget(req, estimate); err != nil {
		return nil, err
	}

	// Fallback applies to stream setup only; a failure mid-stream reaches
	// the caller, which has already seen partial output.
	limit := 1
	if m.allowFallback(req) && len(candidates) > 1 {
		limit = 2
	}
	var lastErr error
	for _, cand := range candidates[:limit] {
		name := cand.Provider.Name()
		if err := m.registry.Limiter(name).Acquire(ctx); err != nil {
			return nil, fmt.Errorf("manager: rate limit wait for %s: %w", name, err)
		}

		attemptReq := *req
		if attemptReq.Model == "" && cand.Model != "" {
			attemptReq.Model = cand.Model
		}
		upstream, err := cand.Provider.StreamComplete(ctx, &attemptReq)
		if err != nil {
			lastErr = err
			if !llm.IsRetryable(err) {
				return nil, err
			}
			slog.Warn("stream setup failed, trying next provider", "provider", name, "error", err)
			continue
		}
		return m.relayStream(upstream, cand, req, emitter), nil
	}
	return nil, fmt.Errorf("manager: %w: %v", resilience.ErrAllFailed, lastErr)
}

// relayStream forwards chunks while accumulating output, then settles usage
// and events after the upstream channel closes.
func (m *Manager) relayStream(upstream <-chan llm.Chunk, cand registry.Candidate, req *llm.Request, emitter *events.Emitter) <-chan llm.Chunk {
	out := make(chan llm.Chunk)
	go func() {
		defer close(out)
		var (
			b     strings.Builder
			usage *types.TokenUsage
		)
		for chunk := range upstream {
			if chunk.Usage != nil {
				usage = chunk.Usage
			}
			b.WriteString(chunk.Delta)
			out <- chunk
		}

		content := b.String()
		var final types.TokenUsage
		if usage != nil {
			final = *usage
		} else {
			final.InputTokens = cand.Provider.CountTokens(req.Messages, req.Functions, nil)
			final.OutputTokens = llm.EstimateTokens([]types.Message{
				{Role: types.RoleAssistant, Content: types.TextContent(content)},
			}, nil)
			final.Normalize()
		}
		m.budget.Record(req.SessionID, req.TaskID, final)

		emitter.EmitPrompt(req.WorkflowID, req.AgentID, req.Messages)
		emitter.EmitPartials(req.WorkflowID, req.AgentID, content)
		emitter.EmitOutput(req.WorkflowID, req.AgentID, content, cand.Provider.Name(), req.Model, final)
	}()
	return out
}

// CompleteSimple satisfies the analysis layer's Completer interface with a
// single-turn completion against the given tier.
func (m *Manager) CompleteSimple(ctx context.Context, prompt string, tier types.ModelTier) (string, error) {
	resp, err := m.Complete(ctx, &llm.Request{
		Messages:  []types.Message{{Role: types.RoleUser, Content: types.TextContent(prompt)}},
		ModelTier: tier,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// GenerateEmbedding produces an embedding vector for text. The dedicated
// embeddings backend is preferred; otherwise any LLM provider advertising
// embedding support is used, in name order.
func (m *Manager) GenerateEmbedding(ctx context.Context, text, model string) ([]float64, error) {
	m.mu.RLock()
	embedder := m.embedder
	m.mu.RUnlock()

	if embedder != nil {
		vec, err := embedder.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out := make([]float64, len(vec))
		for i, v := range vec {
			out[i] = float64(v)
		}
		return out, nil
	}

	providers := m.registry.Providers()
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if e, ok := providers[name].(llm.Embedder); ok {
			return e.GenerateEmbedding(ctx, text, model)
		}
	}
	return nil, ErrNoEmbedder
}

// Embedder returns the dedicated embeddings backend, or nil.
func (m *Manager) Embedder() embeddings.Provider {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.embedder
}

// Registry exposes the provider registry for the HTTP layer.
func (m *Manager) Registry() *registry.Registry { return m.registry }

// Config returns the currently active configuration.
func (m *Manager) Config() *config.Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// ListModels returns every registered model, optionally filtered by tier,
// sorted by provider then alias for stable output.
func (m *Manager) ListModels(tier types.ModelTier) []llm.ModelConfig {
	var out []llm.ModelConfig
	for _, p := range m.registry.Providers() {
		for _, mc := range p.Models() {
			if tier != "" && mc.Tier != tier {
				continue
			}
			out = append(out, mc)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Provider != out[j].Provider {
			return out[i].Provider < out[j].Provider
		}
		return out[i].Alias < out[j].Alias
	})
	return out
}

// UsageReport aggregates budget ledgers and cache statistics.
type UsageReport struct {
	budget.Report
	CacheHits    uint64  `json:"cache_hits"`
	CacheMisses  uint64  `json:"cache_misses"`
	CacheHitRate float64 `json:"cache_hit_rate"`
}

// GetUsageReport snapshots token spend and cache effectiveness.
func (m *Manager) GetUsageReport() UsageReport {
	report := UsageReport{Report: m.budget.Snapshot()}
	m.mu.RLock()
	promptCache := m.cache
	m.mu.RUnlock()
	if promptCache != nil {
		report.CacheHits, report.CacheMisses, report.CacheHitRate = promptCache.Stats()
	}
	return report
}

// Reload applies a new configuration. The registry is rebuilt only when
// providers, routing or pricing changed; budget and cache settings are
// adjusted in place. On a failed rebuild the previous provider set stays.
func (m *Manager) Reload(newCfg *config.Config) error {
	m.mu.RLock()
	oldCfg := m.cfg
	m.mu.RUnlock()

	diff := config.Compare(oldCfg, newCfg)
	if diff.ProvidersChanged || diff.RoutingChanged {
		if err := m.registry.Rebuild(newCfg); err != nil {
			return fmt.Errorf("manager: reload: %w", err)
		}
		m.groupsMu.Lock()
		m.groups = make(map[string]*resilience.FallbackGroup[registry.Candidate])
		m.groupsMu.Unlock()
	}
	if diff.BudgetChanged {
		m.budget.SetBudget(newCfg.Budget.SessionTokens)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if diff.CacheChanged {
		if newCfg.Cache.IsEnabled() {
			m.cache = cache.New(newCfg.Cache.Capacity)
		} else {
			m.cache = nil
		}
	}
	if oldCfg.Events != newCfg.Events {
		m.emitter = events.New(newCfg.Events.IngestURL, newCfg.Events.AuthToken)
	}
	if oldCfg.Embeddings != newCfg.Embeddings {
		embedder, err := buildEmbedder(newCfg.Embeddings)
		if err != nil {
			return fmt.Errorf("manager: reload: %w", err)
		}
		m.embedder = embedder
	}
	m.cfg = newCfg

	slog.Info("configuration reloaded",
		"providers_changed", diff.ProvidersChanged,
		"routing_changed", diff.RoutingChanged,
		"budget_changed", diff.BudgetChanged,
		"cache_changed", diff.CacheChanged)
	return nil
}

// selectCandidates resolves the ordered provider candidates for req and the
// route key under which their fallback group is cached.
func (m *Manager) selectCandidates(req *llm.Request) (string, []registry.Candidate, error) {
	if req.ProviderOverride != "" {
		candidates, err := m.registry.CandidatesForProvider(req.ProviderOverride, "")
		if err != nil {
			return "", nil, err
		}
		return "provider:" + req.ProviderOverride, candidates, nil
	}

	tier := req.ModelTier
	if !tier.IsValid() {
		tier = types.TierSmall
	}
	return "tier:" + string(tier), m.registry.CandidatesForTier(tier), nil
}

// allowFallback reports whether a second provider may be tried. An explicit
// provider override is exclusive.
func (m *Manager) allowFallback(req *llm.Request) bool {
	return req.ProviderOverride == "" && m.registry.FallbackEnabled()
}

// groupFor returns the cached fallback group for routeKey, creating it with
// the primary candidate and at most one fallback.
func (m *Manager) groupFor(routeKey string, candidates []registry.Candidate, allowFallback bool) *resilience.FallbackGroup[registry.Candidate] {
	m.groupsMu.Lock()
	defer m.groupsMu.Unlock()

	if g, ok := m.groups[routeKey]; ok {
		return g
	}
	g := resilience.NewFallbackGroup(candidates[0], candidates[0].Provider.Name(), resilience.FallbackConfig{
		ShouldFallback: llm.IsRetryable,
	})
	if allowFallback && len(candidates) > 1 {
		g.AddFallback(candidates[1].Provider.Name(), candidates[1])
	}
	m.groups[routeKey] = g
	return g
}

// checkBudget enforces the session token budget before any provider call.
// MaxTokensBudget overrides the configured budget for this request only.
func (m *Manager) checkBudget(req *llm.Request, estimate int) error {
	if req.SessionID == "" {
		return nil
	}
	if req.MaxTokensBudget > 0 {
		used, _ := m.budget.SessionUsage(req.SessionID)
		if used.TotalTokens+estimate > req.MaxTokensBudget {
			return fmt.Errorf("manager: session %s: %w: used %d + estimated %d exceeds request budget %d",
				req.SessionID, budget.ErrBudgetExceeded, used.TotalTokens, estimate, req.MaxTokensBudget)
		}
		return nil
	}
	if err := m.budget.Check(req.SessionID, estimate); err != nil {
		return err
	}
	return nil
}

func cacheTTL(req *llm.Request, cfg *config.Config) time.Duration {
	if req.CacheTTL > 0 {
		return time.Duration(req.CacheTTL) * time.Second
	}
	return cfg.Cache.DefaultTTL()
}

// mockResponse fabricates a deterministic response for provider-less
// deployments. Token counts are word counts so budgets stay plausible.
func (m *Manager) mockResponse(req *llm.Request) *llm.Response {
	var inputWords int
	for _, msg := range req.Messages {
		if text, ok := msg.Content.AsText(); ok {
			inputWords += len(strings.Fields(text))
		}
	}
	usage := types.TokenUsage{
		InputTokens:  inputWords,
		OutputTokens: len(strings.Fields(mockContent)),
	}
	usage.Normalize()

	resp := &llm.Response{
		Content:      mockContent,
		Model:        "mock",
		Provider:     "mock",
		Usage:        usage,
		FinishReason: "stop",
	}
	m.budget.Record(req.SessionID, req.TaskID, usage)
	return resp
}

func (m *Manager) mockStream(req *llm.Request, emitter *events.Emitter) <-chan llm.Chunk {
	resp := m.mockResponse(req)
	out := make(chan llm.Chunk, 2)
	usage := resp.Usage
	out <- llm.Chunk{Delta: resp.Content}
	out <- llm.Chunk{Usage: &usage}
	close(out)

	emitter.EmitPrompt(req.WorkflowID, req.AgentID, req.Messages)
	emitter.EmitOutput(req.WorkflowID, req.AgentID, resp.Content, resp.Provider, resp.Model, usage)
	return out
}
