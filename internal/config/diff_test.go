package config

import (
	"slices"
	"testing"
)

func baseConfig() *Config {
	return &Config{
		Server: ServerConfig{LogLevel: LogInfo},
		Providers: map[string]ProviderConfig{
			"openai": {APIKey: "a", Model: "gpt-4o-mini"},
		},
		Budget: BudgetConfig{SessionTokens: 100_000},
	}
}

func TestCompareNoChanges(t *testing.T) {
	d := Compare(baseConfig(), baseConfig())
	if d.ProvidersChanged || d.RoutingChanged || d.BudgetChanged || d.LogLevelChanged {
		t.Fatalf("unexpected diff: %+v", d)
	}
}

func TestCompareProviderChanges(t *testing.T) {
	old := baseConfig()
	new := baseConfig()
	new.Providers["openai"] = ProviderConfig{APIKey: "b", Model: "gpt-4o-mini"}
	new.Providers["xai"] = ProviderConfig{APIKey: "x", Model: "grok-3-mini"}
	delete(new.Providers, "missing") // no-op, keeps maps comparable

	d := Compare(old, new)
	if !d.ProvidersChanged {
		t.Fatal("provider change not detected")
	}
	if !slices.Contains(d.UpdatedProviders, "openai") {
		t.Errorf("updated = %v", d.UpdatedProviders)
	}
	if !slices.Contains(d.AddedProviders, "xai") {
		t.Errorf("added = %v", d.AddedProviders)
	}
}

func TestCompareRemovedProvider(t *testing.T) {
	old := baseConfig()
	new := baseConfig()
	new.Providers = map[string]ProviderConfig{}

	d := Compare(old, new)
	if !slices.Contains(d.RemovedProviders, "openai") {
		t.Fatalf("removed = %v", d.RemovedProviders)
	}
}

func TestCompareScalarSections(t *testing.T) {
	old := baseConfig()
	new := baseConfig()
	new.Budget.SessionTokens = 1
	new.Server.LogLevel = LogDebug

	d := Compare(old, new)
	if !d.BudgetChanged {
		t.Error("budget change not detected")
	}
	if !d.LogLevelChanged || d.NewLogLevel != LogDebug {
		t.Error("log level change not detected")
	}
}
