package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/shannon-ai/llm-gateway/pkg/types"
)

// envPattern matches $VAR and ${VAR} references in the raw config text.
var envPattern = regexp.MustCompile(`\$\{?([A-Za-z_][A-Za-z0-9_]*)\}?`)

// ExpandEnv replaces $VAR and ${VAR} references with environment values.
// Unset variables expand to the empty string with a warning, so a missing
// API key surfaces at provider validation instead of as a literal "$KEY"
// being sent to a vendor.
func ExpandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := string(envPattern.FindSubmatch(match)[1])
		value, ok := os.LookupEnv(name)
		if !ok {
			slog.Warn("config: environment variable not set", "name", name)
			return nil
		}
		return []byte(value)
	})
}

// Load reads the YAML configuration file at path, expands environment
// references and returns a validated [Config].
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(ExpandEnv(data)))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Unknown fields are rejected. Both the legacy providers/routing form and
// the catalog form (model_catalog, model_tiers, provider_settings) are
// accepted; the document is routed by probing for a model_catalog key. No
// environment expansion happens here; tests construct configs from string
// literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}

	cfg, err := decodeDocument(data)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeDocument(data []byte) (*Config, error) {
	var probe map[string]yaml.Node
	if err := yaml.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	_, isCatalog := probe["model_catalog"]

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if isCatalog {
		cc := &catalogConfig{}
		if err := dec.Decode(cc); err != nil {
			return nil, fmt.Errorf("config: decode catalog yaml: %w", err)
		}
		return cc.translate()
	}

	cfg := &Config{}
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8081"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.ShutdownGraceSeconds <= 0 {
		cfg.Server.ShutdownGraceSeconds = 10
	}
	if cfg.Cache.Capacity <= 0 {
		cfg.Cache.Capacity = 1000
	}
	if cfg.Cache.DefaultTTLSeconds <= 0 {
		cfg.Cache.DefaultTTLSeconds = 300
	}
	if cfg.Budget.SessionTokens <= 0 {
		cfg.Budget.SessionTokens = 100_000
	}
	if cfg.Tools.RateLimitRPM <= 0 {
		cfg.Tools.RateLimitRPM = 90
	}
	if cfg.Tools.WorkspaceDir == "" {
		cfg.Tools.WorkspaceDir = "workspaces"
	}
	if cfg.Tools.PythonExecutorAddr == "" {
		cfg.Tools.PythonExecutorAddr = os.Getenv("AGENT_CORE_ADDR")
	}
	if len(cfg.Tools.MCPAllowedDomains) == 0 {
		if env := os.Getenv("MCP_ALLOWED_DOMAINS"); env != "" {
			cfg.Tools.MCPAllowedDomains = splitCommaList(env)
		}
	}
}

func splitCommaList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func validTier(s string) bool {
	return types.ModelTier(s).IsValid()
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing every failure found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if err := validateEventsURL(cfg.Events.IngestURL); err != nil {
		errs = append(errs, err)
	}

	for name, p := range cfg.Providers {
		prefix := fmt.Sprintf("providers.%s", name)
		kind := p.ProviderKind(name)
		if !slices.Contains(KnownProviderKinds, kind) {
			slog.Warn("unknown provider kind, may be a typo",
				"provider", name, "kind", kind, "known", KnownProviderKinds)
		}
		if p.Kind != "" && p.Type != "" && p.Kind != p.Type {
			errs = append(errs, fmt.Errorf("%s: kind %q and type %q disagree", prefix, p.Kind, p.Type))
		}
		if p.declaresKind("openai_compatible") && p.BaseURL == "" {
			errs = append(errs, fmt.Errorf("%s: openai_compatible requires base_url", prefix))
		}
		if len(p.Models) == 0 && p.Model == "" {
			errs = append(errs, fmt.Errorf("%s: declares neither a model nor a models catalog", prefix))
		}
		if len(p.Models) > 0 && p.Model != "" {
			slog.Warn("provider declares both legacy model and catalog; catalog wins", "provider", name)
		}
		for i, m := range p.Models {
			if m.ID == "" {
				errs = append(errs, fmt.Errorf("%s.models[%d].id is required", prefix, i))
			}
			if m.Tier != "" && !validTier(m.Tier) {
				errs = append(errs, fmt.Errorf("%s.models[%d].tier %q is invalid; valid values: small, medium, large", prefix, i, m.Tier))
			}
			if m.MaxTokens > m.ContextWindow && m.ContextWindow > 0 {
				errs = append(errs, fmt.Errorf("%s.models[%d]: max_tokens %d exceeds context_window %d", prefix, i, m.MaxTokens, m.ContextWindow))
			}
		}
		if p.RateLimitRPM < 0 {
			errs = append(errs, fmt.Errorf("%s.rate_limit_rpm must not be negative", prefix))
		}
	}

	if dp := cfg.Routing.DefaultProvider; dp != "" {
		if _, ok := cfg.Providers[dp]; !ok {
			errs = append(errs, fmt.Errorf("routing.default_provider references unconfigured provider %q", dp))
		}
	}
	for tier, prefs := range cfg.Routing.TierPreferences {
		if !validTier(tier) {
			errs = append(errs, fmt.Errorf("routing.tier_preferences key %q is invalid; valid values: small, medium, large", tier))
		}
		for i, pref := range prefs {
			if pref.Provider == "" {
				errs = append(errs, fmt.Errorf("routing.tier_preferences.%s[%d].provider is required", tier, i))
				continue
			}
			if _, ok := cfg.Providers[pref.Provider]; !ok {
				errs = append(errs, fmt.Errorf("routing.tier_preferences.%s[%d] references unconfigured provider %q", tier, i, pref.Provider))
			}
		}
	}

	if cfg.Embeddings.Provider != "" &&
		cfg.Embeddings.Provider != "openai" && cfg.Embeddings.Provider != "ollama" {
		errs = append(errs, fmt.Errorf("embeddings.provider %q is invalid; valid values: openai, ollama", cfg.Embeddings.Provider))
	}

	for i, t := range cfg.Tools.OpenAPI {
		prefix := fmt.Sprintf("tools.openapi[%d]", i)
		if t.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
		if (t.SpecURL == "") == (t.SpecPath == "") {
			errs = append(errs, fmt.Errorf("%s: exactly one of spec_url and spec_path must be set", prefix))
		}
		auths := 0
		for _, a := range []string{t.AuthHeader, t.AuthQuery, t.AuthBasic} {
			if a != "" {
				auths++
			}
		}
		if auths > 1 {
			errs = append(errs, fmt.Errorf("%s: at most one of auth_header, auth_query and auth_basic may be set", prefix))
		}
	}
	if g := cfg.Tools.GA4; g != nil && g.CredentialsPath == "" {
		errs = append(errs, fmt.Errorf("tools.ga4.credentials_path is required"))
	}
	for i, t := range cfg.Tools.MCP {
		prefix := fmt.Sprintf("tools.mcp[%d]", i)
		if t.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
		if t.URL == "" {
			errs = append(errs, fmt.Errorf("%s.url is required", prefix))
		}
	}
	for i, srv := range cfg.Tools.MCPServers {
		prefix := fmt.Sprintf("tools.mcp_servers[%d]", i)
		if srv.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
		if srv.Transport != "" && !srv.Transport.IsValid() {
			errs = append(errs, fmt.Errorf("%s.transport %q is invalid; valid values: stdio, streamable-http", prefix, srv.Transport))
		}
		if srv.Transport == TransportStdio && srv.Command == "" {
			errs = append(errs, fmt.Errorf("%s.command is required when transport is stdio", prefix))
		}
		if srv.Transport == TransportStreamableHTTP && srv.URL == "" {
			errs = append(errs, fmt.Errorf("%s.url is required when transport is streamable-http", prefix))
		}
	}

	return errors.Join(errs...)
}
