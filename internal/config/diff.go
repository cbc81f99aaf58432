package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs. Tenant profiles,
// the log level and per-call settings apply without restart; everything
// listed in RestartRequired needs a new process.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	TenantsChanged bool
	TenantChanges  []TenantDiff

	// CallChanged is true when telephony, agent, silence or function
	// timing settings changed. New calls pick them up; live calls keep
	// their configuration.
	CallChanged bool

	// RestartRequired names the sections whose changes are ignored until
	// restart.
	RestartRequired []string
}

// TenantDiff describes what changed for a single tenant profile.
type TenantDiff struct {
	ID                  string
	InstructionsChanged bool
	GreetingChanged     bool
	FunctionsChanged    bool
	Added               bool
	Removed             bool
}

// Empty reports whether the diff carries no change at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.TenantsChanged && !d.CallChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	oldCall, newCall := old.CallConfig(), new.CallConfig()
	d.CallChanged = !reflect.DeepEqual(oldCall, newCall)

	if old.Server.ListenAddr != new.Server.ListenAddr ||
		!reflect.DeepEqual(old.Server.TLS, new.Server.TLS) ||
		old.Telephony.StreamPath != new.Telephony.StreamPath {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Functions.Backend != new.Functions.Backend || old.Functions.URL != new.Functions.URL ||
		!reflect.DeepEqual(old.Functions.Catalog, new.Functions.Catalog) ||
		!reflect.DeepEqual(old.Functions.Breaker, new.Functions.Breaker) {
		d.RestartRequired = append(d.RestartRequired, "functions")
	}
	if old.Tenants.Store != new.Tenants.Store || old.Tenants.DSN != new.Tenants.DSN {
		d.RestartRequired = append(d.RestartRequired, "tenants")
	}
	if old.Transcripts != new.Transcripts {
		d.RestartRequired = append(d.RestartRequired, "transcripts")
	}

	// Profiles only matter for the memory store.
	if new.Tenants.Store != TenantsMemory {
		return d
	}

	oldP := make(map[string]int, len(old.Tenants.Profiles))
	for i, p := range old.Tenants.Profiles {
		oldP[p.ID] = i
	}
	newP := make(map[string]int, len(new.Tenants.Profiles))
	for i, p := range new.Tenants.Profiles {
		newP[p.ID] = i
	}

	for _, p := range old.Tenants.Profiles {
		j, ok := newP[p.ID]
		if !ok {
			d.TenantChanges = append(d.TenantChanges, TenantDiff{ID: p.ID, Removed: true})
			continue
		}
		n := new.Tenants.Profiles[j]
		td := TenantDiff{
			ID:                  p.ID,
			InstructionsChanged: p.Instructions != n.Instructions || p.Language != n.Language || p.Name != n.Name,
			GreetingChanged:     p.Greeting != n.Greeting,
			FunctionsChanged:    !slices.Equal(p.Functions, n.Functions),
		}
		if td.InstructionsChanged || td.GreetingChanged || td.FunctionsChanged {
			d.TenantChanges = append(d.TenantChanges, td)
		}
	}
	for _, p := range new.Tenants.Profiles {
		if _, ok := oldP[p.ID]; !ok {
			d.TenantChanges = append(d.TenantChanges, TenantDiff{ID: p.ID, Added: true})
		}
	}
	d.TenantsChanged = len(d.TenantChanges) > 0 || old.Tenants.Default != new.Tenants.Default
	return d
}
