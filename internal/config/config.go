// Package config provides the configuration schema, loader and file watcher
// for the LLM gateway.
package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/shannon-ai/llm-gateway/pkg/provider/llm"
	"github.com/shannon-ai/llm-gateway/pkg/types"
)

// LogLevel controls log verbosity for the gateway.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// KnownProviderKinds lists the vendor dialects the gateway can construct.
var KnownProviderKinds = []string{
	"openai", "xai", "anthropic", "gemini", "groq", "deepseek", "qwen", "ollama",
}

// kindAliases maps alternative dialect spellings onto the kinds the registry
// constructs. "google" is the Gemini family; "openai_compatible" is any
// OpenAI-style endpoint reached through base_url.
var kindAliases = map[string]string{
	"google":            "gemini",
	"openai_compatible": "openai",
}

// Config is the root configuration structure, typically loaded from a YAML
// file via [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig              `yaml:"server"`
	Providers  map[string]ProviderConfig `yaml:"providers"`
	Routing    RoutingConfig             `yaml:"routing"`
	Cache      CacheConfig               `yaml:"cache"`
	Budget     BudgetConfig              `yaml:"budget"`
	Events     EventsConfig              `yaml:"events"`
	Embeddings EmbeddingsConfig          `yaml:"embeddings"`
	Tools      ToolsConfig               `yaml:"tools"`

	// Pricing overrides per-model pricing without touching the provider
	// catalogs. Applied at startup and after every reload.
	Pricing PricingConfig `yaml:"pricing"`
}

// PricingConfig is the pricing override document. Models is keyed by
// provider name, then by model ID or alias.
type PricingConfig struct {
	Models map[string]map[string]PricingOverride `yaml:"models"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server listens on.
	// Default ":8081".
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures HTTPS. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`

	// ShutdownGraceSeconds bounds graceful shutdown. Default 10.
	ShutdownGraceSeconds int `yaml:"shutdown_grace_seconds"`
}

// TLSConfig holds TLS certificate paths.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ProviderConfig declares one LLM backend. Two forms are accepted: the
// legacy single-model form (model + tier) and the catalog form (models).
// When both are present the catalog wins and the legacy fields are ignored.
type ProviderConfig struct {
	// Kind selects the vendor dialect. Defaults to the map key, so an entry
	// named "openai" needs no explicit kind while "openai-eu" would set
	// kind: openai. The orchestrator's config documents spell this field
	// "type"; both spellings are accepted and must agree when both appear.
	Kind string `yaml:"kind"`
	Type string `yaml:"type"`

	// APIKey authenticates against the vendor. Supports $ENV references.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the vendor's default endpoint.
	BaseURL string `yaml:"base_url"`

	// RateLimitRPM caps requests per sliding minute. 0 means unlimited.
	RateLimitRPM int `yaml:"rate_limit_rpm"`

	// TimeoutSeconds is the per-request timeout. Default 60.
	TimeoutSeconds int `yaml:"timeout_seconds"`

	// Model and Tier form the legacy single-model declaration.
	Model string `yaml:"model"`
	Tier  string `yaml:"tier"`

	// Models is the full catalog form.
	Models []ModelEntry `yaml:"models"`
}

// ModelEntry declares one model inside a provider catalog.
type ModelEntry struct {
	ID                string  `yaml:"id"`
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

// PricingOverride replaces a model's pricing.
type PricingOverride struct {
	InputPricePer1K  float64 `yaml:"input_price_per_1k"`
	OutputPricePer1K float64 `yaml:"output_price_per_1k"`
}

// RoutingConfig declares tier preferences and failover behaviour.
type RoutingConfig struct {
	// TierPreferences orders providers per tier. Entries are sorted by
	// Priority ascending; lower numbers are tried first.
	TierPreferences map[string][]PreferenceEntry `yaml:"tier_preferences"`

	// DefaultProvider is tried after the tier preferences and before the
	// any-provider-serving-the-tier scan.
	DefaultProvider string `yaml:"default_provider"`

	// FallbackEnabled allows one fallback provider per request. Default
	// true; set to false to fail fast on the primary.
	FallbackEnabled *bool `yaml:"fallback_enabled"`
}

// PreferenceEntry names one provider/model choice inside a tier.
type PreferenceEntry struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	Priority int    `yaml:"priority"`
}

// CacheConfig tunes the completion response cache.
type CacheConfig struct {
	// Enabled toggles caching. Default true.
	Enabled *bool `yaml:"enabled"`

	// Capacity bounds live entries. Default 1000.
	Capacity int `yaml:"capacity"`

	// DefaultTTLSeconds applies to requests without an explicit TTL.
	// Default 300.
	DefaultTTLSeconds int `yaml:"default_ttl_seconds"`
}

// DefaultTTL returns the configured default TTL as a duration.
func (c CacheConfig) DefaultTTL() time.Duration {
	if c.DefaultTTLSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.DefaultTTLSeconds) * time.Second
}

// IsEnabled reports whether caching is on (the default).
func (c CacheConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// BudgetConfig tunes token budget enforcement.
type BudgetConfig struct {
	// SessionTokens is the per-session allowance. Default 100000.
	SessionTokens int `yaml:"session_tokens"`
}

// EventsConfig configures the event emitter.
type EventsConfig struct {
	// IngestURL receives gateway events via POST. Empty disables emission.
	IngestURL string `yaml:"ingest_url"`

	// AuthToken is sent as a bearer token. Supports $ENV references.
	AuthToken string `yaml:"auth_token"`
}

// EmbeddingsConfig selects the embeddings backend.
type EmbeddingsConfig struct {
	// Provider is "openai" or "ollama". Empty disables embeddings.
	Provider string `yaml:"provider"`

	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
}

// ToolsConfig configures the tool execution layer.
type ToolsConfig struct {
	// WorkspaceDir is the root under which per-session file workspaces are
	// created. Default: a "workspaces" directory under the working dir.
	WorkspaceDir string `yaml:"workspace_dir"`

	// BashAllowlist lists the only binaries the bash tool may invoke.
	BashAllowlist []string `yaml:"bash_allowlist"`

	// MCPAllowedDomains restricts which hosts MCP tools may call. Also
	// settable via the MCP_ALLOWED_DOMAINS environment variable.
	MCPAllowedDomains []string `yaml:"mcp_allowed_domains"`

	// PythonExecutorAddr is the agent-core address serving sandboxed Python
	// execution. Also settable via AGENT_CORE_ADDR.
	PythonExecutorAddr string `yaml:"python_executor_addr"`

	// RateLimitRPM is the default per-session tool rate limit. Tools only
	// enforce limits below 100 RPM. Default 90.
	RateLimitRPM int `yaml:"rate_limit_rpm"`

	// OpenAPI registers tool bundles generated from OpenAPI documents.
	OpenAPI []OpenAPIToolConfig `yaml:"openapi"`

	// MCP registers remote stateless MCP tool endpoints.
	MCP []MCPToolConfig `yaml:"mcp"`

	// MCPServers connects full MCP servers over the official SDK.
	MCPServers []MCPServerConfig `yaml:"mcp_servers"`

	// GA4 activates the Google Analytics reporting tools, authenticated by a
	// service account key file.
	GA4 *GA4Config `yaml:"ga4"`
}

// GA4Config configures the GA4 analytics tool family.
type GA4Config struct {
	// CredentialsPath points at a Google service account JSON key file.
	CredentialsPath string `yaml:"credentials_path"`

	// PropertyID is the default GA4 property, used when a call names none.
	PropertyID string `yaml:"property_id"`
}

// OpenAPIToolConfig registers one OpenAPI document as a tool bundle.
type OpenAPIToolConfig struct {
	// Name prefixes every generated tool.
	Name string `yaml:"name"`

	// SpecURL and SpecPath locate the document; exactly one must be set.
	SpecURL  string `yaml:"spec_url"`
	SpecPath string `yaml:"spec_path"`

	// BaseURL overrides the document's server URL.
	BaseURL string `yaml:"base_url"`

	// AuthHeader is a header template like "Authorization: Bearer $API_KEY";
	// $VARNAME references resolve from the environment at call time.
	AuthHeader string `yaml:"auth_header"`

	// AuthQuery appends a query parameter template like "api_key=$API_KEY"
	// to every call, resolved the same way.
	AuthQuery string `yaml:"auth_query"`

	// AuthBasic holds "user:$PASSWORD" credentials sent as HTTP basic auth.
	AuthBasic string `yaml:"auth_basic"`

	// Operations and Tags filter which operations become tools. Empty
	// filters keep everything.
	Operations []string `yaml:"operations"`
	Tags       []string `yaml:"tags"`

	// Enabled defaults to true.
	Enabled *bool `yaml:"enabled"`
}

// MCPToolConfig registers one stateless MCP function endpoint.
type MCPToolConfig struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`

	// Functions optionally restricts which remote functions are callable.
	Functions []string `yaml:"functions"`

	// Headers are sent verbatim with every call; values may reference the
	// environment via $VARNAME.
	Headers map[string]string `yaml:"headers"`

	// RateLimitRPM throttles each generated tool per session. Default 60.
	RateLimitRPM int `yaml:"rate_limit_rpm"`
}

// MCPTransport selects how an SDK-backed MCP server is reached.
type MCPTransport string

const (
	TransportStdio          MCPTransport = "stdio"
	TransportStreamableHTTP MCPTransport = "streamable-http"
)

// IsValid reports whether t is a recognised transport.
func (t MCPTransport) IsValid() bool {
	return t == TransportStdio || t == TransportStreamableHTTP
}

// MCPServerConfig connects one MCP server via the official SDK.
type MCPServerConfig struct {
	Name      string       `yaml:"name"`
	Transport MCPTransport `yaml:"transport"`

	// Command and Args launch a stdio server.
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`

	// URL locates a streamable-http server.
	URL string `yaml:"url"`
}

// Timeout returns the provider's request timeout.
func (p ProviderConfig) Timeout() time.Duration {
	if p.TimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// ModelConfigs normalises a provider entry into the model list the provider
// constructors consume. The legacy single-model form becomes a one-entry
// catalog. Pricing overrides (keyed by model ID or alias) are applied last.
func (p ProviderConfig) ModelConfigs(name string, overrides map[string]PricingOverride) []llm.ModelConfig {
	entries := p.Models
	if len(entries) == 0 && p.Model != "" {
		entries = []ModelEntry{{
			ID:                p.Model,
			Tier:              p.Tier,
			SupportsFunctions: true,
			SupportsStreaming: true,
		}}
	}

	out := make([]llm.ModelConfig, 0, len(entries))
	for _, e := range entries {
		// Tier strings were validated during load; an unknown value can only
		// appear through a hand-built Config and falls back to small.
		tier, err := types.ParseTier(e.Tier)
		if err != nil {
			tier = types.TierSmall
		}
		mc := llm.ModelConfig{
			Provider:          name,
			ModelID:           e.ID,
			Alias:             e.Alias,
			Tier:              tier,
			ContextWindow:     e.ContextWindow,
			MaxTokens:         e.MaxTokens,
			InputPricePer1K:   e.InputPricePer1K,
			OutputPricePer1K:  e.OutputPricePer1K,
			SupportsFunctions: e.SupportsFunctions,
			SupportsStreaming: e.SupportsStreaming,
			SupportsVision:    e.SupportsVision,
			SupportsReasoning: e.SupportsReasoning,
		}
		if e.TimeoutSeconds > 0 {
			mc.Timeout = time.Duration(e.TimeoutSeconds) * time.Second
		}
		if mc.Alias == "" {
			mc.Alias = mc.ModelID
		}
		if ov, ok := overrides[mc.Alias]; ok {
			mc.InputPricePer1K = ov.InputPricePer1K
			mc.OutputPricePer1K = ov.OutputPricePer1K
		} else if ov, ok := overrides[mc.ModelID]; ok {
			mc.InputPricePer1K = ov.InputPricePer1K
			mc.OutputPricePer1K = ov.OutputPricePer1K
		}
		out = append(out, mc)
	}
	return out
}

// ProviderKind resolves the effective dialect for the entry named name. An
// explicit kind (or its "type" spelling) wins over the map key, and alias
// spellings such as "google" and "openai_compatible" are canonicalised.
func (p ProviderConfig) ProviderKind(name string) string {
	kind := p.Kind
	if kind == "" {
		kind = p.Type
	}
	if kind == "" {
		kind = name
	}
	if canonical, ok := kindAliases[kind]; ok {
		return canonical
	}
	return kind
}

// declaresKind reports whether the entry names the given dialect spelling
// explicitly, under either field.
func (p ProviderConfig) declaresKind(kind string) bool {
	return p.Kind == kind || p.Type == kind
}

// validateEventsURL rejects ingest URLs that are not absolute http(s).
func validateEventsURL(raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("events.ingest_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("events.ingest_url: scheme %q is not http or https", u.Scheme)
	}
	return nil
}
