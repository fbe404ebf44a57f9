package config

import (
	"strings"
	"testing"

	"github.com/shannon-ai/llm-gateway/pkg/types"
)

const validYAML = `
server:
  listen_addr: ":9000"
  log_level: debug
providers:
  openai:
    api_key: sk-test
    rate_limit_rpm: 60
    models:
      - id: gpt-4o-mini
        alias: fast
        tier: small
        context_window: 128000
        max_tokens: 16384
        input_price_per_1k: 0.00015
        output_price_per_1k: 0.0006
        supports_functions: true
        supports_streaming: true
  local:
    kind: ollama
    model: llama3.2
    tier: small
routing:
  tier_preferences:
    small:
      - provider: openai
        model: fast
        priority: 1
      - provider: local
        priority: 2
budget:
  session_tokens: 50000
events:
  ingest_url: https://events.internal.example.com/ingest
  auth_token: tok
`

func TestLoadFromReaderValid(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.ListenAddr != ":9000" {
		t.Errorf("listen_addr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Budget.SessionTokens != 50000 {
		t.Errorf("session_tokens = %d", cfg.Budget.SessionTokens)
	}
	if got := len(cfg.Providers); got != 2 {
		t.Fatalf("providers = %d, want 2", got)
	}
	if cfg.Providers["local"].ProviderKind("local") != "ollama" {
		t.Error("explicit kind not honoured")
	}
}

func TestLoadFromReaderDefaults(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader("providers:\n  openai:\n    model: gpt-4o-mini\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.ListenAddr != ":8081" {
		t.Errorf("default listen_addr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Budget.SessionTokens != 100_000 {
		t.Errorf("default budget = %d", cfg.Budget.SessionTokens)
	}
	if cfg.Cache.Capacity != 1000 || cfg.Cache.DefaultTTLSeconds != 300 {
		t.Errorf("cache defaults = %+v", cfg.Cache)
	}
	if !cfg.Cache.IsEnabled() {
		t.Error("cache must default to enabled")
	}
	if cfg.Tools.RateLimitRPM != 90 {
		t.Errorf("default tool rpm = %d", cfg.Tools.RateLimitRPM)
	}
}

func TestLoadFromReaderAcceptsTypeDialects(t *testing.T) {
	doc := `
providers:
  openai:
    type: openai
    api_key: sk-test
    model: gpt-4o-mini
  corporate:
    type: openai_compatible
    base_url: https://llm.corp.example.com/v1
    api_key: corp-key
    model: internal-llm
  analytics:
    type: google
    api_key: g-key
    model: gemini-2.0-flash
routing:
  default_provider: openai
tools:
  ga4:
    credentials_path: /etc/shannon/ga4-sa.json
    property_id: "123456"
`
	cfg, err := LoadFromReader(strings.NewReader(doc))
	if err != nil {
		t.Fatal(err)
	}
	if got := cfg.Providers["openai"].ProviderKind("openai"); got != "openai" {
		t.Errorf("type openai resolved to %q", got)
	}
	if got := cfg.Providers["corporate"].ProviderKind("corporate"); got != "openai" {
		t.Errorf("openai_compatible resolved to %q, want openai", got)
	}
	if got := cfg.Providers["analytics"].ProviderKind("analytics"); got != "gemini" {
		t.Errorf("google resolved to %q, want gemini", got)
	}
	if cfg.Routing.DefaultProvider != "openai" {
		t.Errorf("default_provider = %q", cfg.Routing.DefaultProvider)
	}
	if g := cfg.Tools.GA4; g == nil || g.CredentialsPath != "/etc/shannon/ga4-sa.json" || g.PropertyID != "123456" {
		t.Errorf("ga4 section = %+v", cfg.Tools.GA4)
	}

	// An entry named after an alias spelling canonicalises the same way.
	if got := (ProviderConfig{}).ProviderKind("google"); got != "gemini" {
		t.Errorf("entry named google resolved to %q, want gemini", got)
	}
}

func TestValidateDialectAndAuthFields(t *testing.T) {
	cases := []struct {
		name string
		doc  string
		want string
	}{
		{
			"kind and type disagree",
			"providers:\n  p1:\n    kind: openai\n    type: xai\n    api_key: k\n    model: m\n",
			"disagree",
		},
		{
			"openai_compatible without base_url",
			"providers:\n  p1:\n    type: openai_compatible\n    api_key: k\n    model: m\n",
			"requires base_url",
		},
		{
			"ga4 without credentials",
			"tools:\n  ga4:\n    property_id: \"1\"\n",
			"credentials_path",
		},
		{
			"unknown default provider",
			"providers:\n  openai:\n    api_key: k\n    model: m\nrouting:\n  default_provider: ghost\n",
			"default_provider",
		},
		{
			"conflicting openapi auth modes",
			"tools:\n  openapi:\n    - name: pets\n      spec_url: https://pets.example.com/openapi.json\n      auth_header: \"X-Key: $K\"\n      auth_query: \"key=$K\"\n",
			"at most one",
		},
	}
	for _, tc := range cases {
		_, err := LoadFromReader(strings.NewReader(tc.doc))
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Errorf("%s: err = %v, want %q", tc.name, err, tc.want)
		}
	}
}

func TestLoadFromReaderRejectsUnknownFields(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader("serverr:\n  listen_addr: ':1'\n"))
	if err == nil {
		t.Fatal("unknown top-level field accepted")
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	bad := `
providers:
  empty: {}
  openai:
    models:
      - id: ""
        tier: gigantic
routing:
  tier_preferences:
    huge:
      - provider: missing
`
	_, err := LoadFromReader(strings.NewReader(bad))
	if err == nil {
		t.Fatal("invalid config accepted")
	}
	msg := err.Error()
	for _, want := range []string{
		"providers.empty",
		"models[0].id is required",
		`tier "gigantic"`,
		`key "huge"`,
		"unconfigured provider",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q missing %q", msg, want)
		}
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("GW_TEST_KEY", "sk-expanded")

	out := string(ExpandEnv([]byte("api_key: $GW_TEST_KEY\nother: ${GW_TEST_KEY}\nunset: $GW_TEST_MISSING_VAR\n")))
	if !strings.Contains(out, "api_key: sk-expanded") || !strings.Contains(out, "other: sk-expanded") {
		t.Fatalf("expansion failed: %q", out)
	}
	if strings.Contains(out, "GW_TEST_MISSING_VAR") {
		t.Fatalf("unset variable left literal: %q", out)
	}
}

func TestModelConfigsLegacyForm(t *testing.T) {
	p := ProviderConfig{Model: "llama3.2", Tier: "medium"}
	models := p.ModelConfigs("local", nil)
	if len(models) != 1 {
		t.Fatalf("models = %d, want 1", len(models))
	}
	m := models[0]
	if m.ModelID != "llama3.2" || m.Tier != types.TierMedium || m.Alias != "llama3.2" {
		t.Fatalf("legacy normalisation wrong: %+v", m)
	}
	if !m.SupportsFunctions || !m.SupportsStreaming {
		t.Fatal("legacy entries should default to function and streaming support")
	}
}

func TestModelConfigsPricingOverride(t *testing.T) {
	p := ProviderConfig{Models: []ModelEntry{{
		ID: "gpt-4o-mini", Alias: "fast", Tier: "small",
		InputPricePer1K: 1, OutputPricePer1K: 2,
	}}}
	overrides := map[string]PricingOverride{
		"fast": {InputPricePer1K: 0.1, OutputPricePer1K: 0.2},
	}
	m := p.ModelConfigs("openai", overrides)[0]
	if m.InputPricePer1K != 0.1 || m.OutputPricePer1K != 0.2 {
		t.Fatalf("override not applied: %+v", m)
	}
}
