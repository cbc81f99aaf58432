package voiceagent_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/voxbridge/pkg/voiceagent"
)

func TestMachine_Handshake(t *testing.T) {
	t.Parallel()

	m := voiceagent.NewMachine()
	var seen []string
	m.OnTransition = func(from, to voiceagent.State, trigger string) {
		seen = append(seen, from.String()+"->"+to.String())
	}

	steps := []struct {
		trigger string
		want    voiceagent.State
	}{
		{voiceagent.TriggerOpen, voiceagent.StateAwaitingWelcome},
		{voiceagent.TypeWelcome, voiceagent.StateConfiguringAgent},
		{voiceagent.TypeSettingsApplied, voiceagent.StateReady},
	}
	for _, s := range steps {
		got, err := m.Fire(s.trigger)
		if err != nil {
			t.Fatalf("Fire(%s): %v", s.trigger, err)
		}
		if got != s.want {
			t.Fatalf("Fire(%s) = %s, want %s", s.trigger, got, s.want)
		}
	}
	if !m.Ready() {
		t.Fatal("expected Ready")
	}
	if len(seen) != 3 {
		t.Errorf("OnTransition called %d times, want 3", len(seen))
	}
}

func TestMachine_OutOfOrder(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		prefix  []string
		trigger string
		state   voiceagent.State
	}{
		{"settings applied before welcome", []string{voiceagent.TriggerOpen}, voiceagent.TypeSettingsApplied, voiceagent.StateAwaitingWelcome},
		{"welcome before open", nil, voiceagent.TypeWelcome, voiceagent.StateConnecting},
		{"second welcome", []string{voiceagent.TriggerOpen, voiceagent.TypeWelcome}, voiceagent.TypeWelcome, voiceagent.StateConfiguringAgent},
		{"unknown trigger", nil, "Bogus", voiceagent.StateConnecting},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			m := voiceagent.NewMachine()
			for _, p := range tc.prefix {
				if _, err := m.Fire(p); err != nil {
					t.Fatalf("prefix %s: %v", p, err)
				}
			}
			got, err := m.Fire(tc.trigger)
			if !errors.Is(err, voiceagent.ErrInvalidTransition) {
				t.Fatalf("err = %v, want ErrInvalidTransition", err)
			}
			if got != tc.state {
				t.Errorf("state = %s, want %s", got, tc.state)
			}
		})
	}
}

func TestMachine_CloseFromAnyState(t *testing.T) {
	t.Parallel()

	m := voiceagent.NewMachine()
	if _, err := m.Fire(voiceagent.TriggerClosing); err != nil {
		t.Fatalf("closing: %v", err)
	}
	if _, err := m.Fire(voiceagent.TriggerClosed); err != nil {
		t.Fatalf("closed: %v", err)
	}
	if _, err := m.Fire(voiceagent.TriggerClosing); !errors.Is(err, voiceagent.ErrInvalidTransition) {
		t.Errorf("closing after closed: err = %v", err)
	}
	if m.State() != voiceagent.StateClosed {
		t.Errorf("state = %s, want Closed", m.State())
	}
}

func TestMachine_KeepAliveAllowed(t *testing.T) {
	t.Parallel()

	m := voiceagent.NewMachine()
	if m.KeepAliveAllowed() {
		t.Fatal("keep-alive allowed before Ready")
	}
	for _, tr := range []string{voiceagent.TriggerOpen, voiceagent.TypeWelcome, voiceagent.TypeSettingsApplied} {
		if _, err := m.Fire(tr); err != nil {
			t.Fatal(err)
		}
	}
	if !m.KeepAliveAllowed() {
		t.Fatal("keep-alive not allowed in Ready")
	}
	m.SetFunctionCallInFlight(true)
	if m.KeepAliveAllowed() {
		t.Fatal("keep-alive allowed with function call in flight")
	}
	m.SetFunctionCallInFlight(false)
	if !m.KeepAliveAllowed() {
		t.Fatal("keep-alive not resumed")
	}
}
