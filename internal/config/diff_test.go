package config_test

import (
	"slices"
	"strings"
	"testing"

	"github.com/MrWong99/voxbridge/internal/config"
)

func mustLoad(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return cfg
}

func TestDiff_NoChange(t *testing.T) {
	t.Parallel()
	a, b := mustLoad(t, validYAML), mustLoad(t, validYAML)
	if d := config.Diff(a, b); !d.Empty() {
		t.Errorf("expected empty diff, got %+v", d)
	}
}

func TestDiff_LogLevel(t *testing.T) {
	t.Parallel()
	a := mustLoad(t, validYAML)
	b := mustLoad(t, strings.Replace(validYAML, "log_level: info", "log_level: debug", 1))

	d := config.Diff(a, b)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("log level diff = %+v", d)
	}
	if d.TenantsChanged || d.CallChanged {
		t.Errorf("unexpected changes: %+v", d)
	}
}

func TestDiff_Tenants(t *testing.T) {
	t.Parallel()
	a := mustLoad(t, validYAML)
	b := mustLoad(t, strings.Replace(validYAML,
		"      instructions: You are the receptionist.\n      functions: [get_services]\n",
		"      instructions: You are the head receptionist.\n      functions: [get_services]\n    - id: spa\n      instructions: Spa desk.\n",
		1))

	d := config.Diff(a, b)
	if !d.TenantsChanged {
		t.Fatalf("expected tenant changes, got %+v", d)
	}
	byID := map[string]config.TenantDiff{}
	for _, td := range d.TenantChanges {
		byID[td.ID] = td
	}
	if !byID["salon"].InstructionsChanged || byID["salon"].FunctionsChanged {
		t.Errorf("salon diff = %+v", byID["salon"])
	}
	if !byID["spa"].Added {
		t.Errorf("spa diff = %+v", byID["spa"])
	}

	d = config.Diff(b, a)
	if len(d.TenantChanges) != 2 {
		t.Fatalf("reverse diff = %+v", d.TenantChanges)
	}
	for _, td := range d.TenantChanges {
		if td.ID == "spa" && !td.Removed {
			t.Errorf("spa should be removed: %+v", td)
		}
	}
}

func TestDiff_CallSettings(t *testing.T) {
	t.Parallel()
	a := mustLoad(t, validYAML)
	b := mustLoad(t, validYAML+"\nsilence:\n  threshold: 20s\n")

	d := config.Diff(a, b)
	if !d.CallChanged {
		t.Error("silence change not reported")
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("RestartRequired = %v", d.RestartRequired)
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	a := mustLoad(t, validYAML)
	b := mustLoad(t, strings.Replace(validYAML, "server:\n", "server:\n  listen_addr: \":9090\"\n", 1)+"\ntranscripts:\n  sink: none\n")

	d := config.Diff(a, b)
	for _, want := range []string{"server", "transcripts"} {
		if !slices.Contains(d.RestartRequired, want) {
			t.Errorf("RestartRequired = %v, missing %q", d.RestartRequired, want)
		}
	}
}
