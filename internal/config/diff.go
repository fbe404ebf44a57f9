package config

import "reflect"

// Diff describes what changed between two configs, at the granularity the
// reload path cares about: provider sets trigger a registry rebuild, the
// rest is applied in place.
type Diff struct {
	ProvidersChanged bool
	RoutingChanged   bool
	BudgetChanged    bool
	CacheChanged     bool
	ToolsChanged     bool
	LogLevelChanged  bool
	NewLogLevel      LogLevel

	// AddedProviders and RemovedProviders list provider names by change.
	AddedProviders   []string
	RemovedProviders []string
	UpdatedProviders []string
}

// Compare reports the differences between old and new.
func Compare(old, new *Config) Diff {
	d := Diff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	for name, oldP := range old.Providers {
		newP, ok := new.Providers[name]
		if !ok {
			d.RemovedProviders = append(d.RemovedProviders, name)
			continue
		}
		if !reflect.DeepEqual(oldP, newP) {
			d.UpdatedProviders = append(d.UpdatedProviders, name)
		}
	}
	for name := range new.Providers {
		if _, ok := old.Providers[name]; !ok {
			d.AddedProviders = append(d.AddedProviders, name)
		}
	}
	d.ProvidersChanged = len(d.AddedProviders)+len(d.RemovedProviders)+len(d.UpdatedProviders) > 0 ||
		!reflect.DeepEqual(old.Pricing, new.Pricing)

	d.RoutingChanged = !reflect.DeepEqual(old.Routing, new.Routing)
	d.BudgetChanged = old.Budget != new.Budget
	d.CacheChanged = !reflect.DeepEqual(old.Cache, new.Cache)
	d.ToolsChanged = !reflect.DeepEqual(old.Tools, new.Tools)
	return d
}
