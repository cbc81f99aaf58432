package voiceagent

import (
	"errors"
	"fmt"
)

// State is the handshake state of an upstream connection.
type State int

const (
	StateConnecting State = iota
	StateAwaitingWelcome
	StateConfiguringAgent
	StateReady
	StateClosing
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateAwaitingWelcome:
		return "AwaitingWelcome"
	case StateConfiguringAgent:
		return "ConfiguringAgent"
	case StateReady:
		return "Ready"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Triggers that are not control event types.
const (
	TriggerOpen    = "open"
	TriggerClosing = "closing"
	TriggerClosed  = "closed"
)

// ErrInvalidTransition is returned by [Machine.Fire] when the trigger is not
// accepted in the current state.
var ErrInvalidTransition = errors.New("voiceagent: invalid state transition")

// transitions is the handshake table. Control events received in Ready do
// not change state and are not listed; closing triggers apply from any state
// and are handled in Fire.
var transitions = map[State]map[string]State{
	StateConnecting:       {TriggerOpen: StateAwaitingWelcome},
	StateAwaitingWelcome:  {TypeWelcome: StateConfiguringAgent},
	StateConfiguringAgent: {TypeSettingsApplied: StateReady},
}

// Machine tracks the upstream connection state and the
// function-call-in-flight flag that gates keep-alives. It is not safe for
// concurrent use.
type Machine struct {
	state    State
	inFlight bool

	// OnTransition, if set, observes every state change.
	OnTransition func(from, to State, trigger string)
}

// NewMachine returns a Machine in StateConnecting.
func NewMachine() *Machine {
	return &Machine{state: StateConnecting}
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// Ready reports whether the handshake completed and the connection is live.
func (m *Machine) Ready() bool { return m.state == StateReady }

// Fire applies trigger and returns the new state. Unknown triggers leave
// the state unchanged and return [ErrInvalidTransition].
func (m *Machine) Fire(trigger string) (State, error) {
	var next State
	switch trigger {
	case TriggerClosed:
		next = StateClosed
	case TriggerClosing:
		if m.state == StateClosed {
			return m.state, fmt.Errorf("%w: %s in %s", ErrInvalidTransition, trigger, m.state)
		}
		next = StateClosing
	default:
		to, ok := transitions[m.state][trigger]
		if !ok {
			return m.state, fmt.Errorf("%w: %s in %s", ErrInvalidTransition, trigger, m.state)
		}
		next = to
	}
	from := m.state
	m.state = next
	if from != next && m.OnTransition != nil {
		m.OnTransition(from, next, trigger)
	}
	return next, nil
}

// FunctionCallInFlight reports whether a function-call batch is being
// answered.
func (m *Machine) FunctionCallInFlight() bool { return m.inFlight }

// SetFunctionCallInFlight sets the in-flight flag.
func (m *Machine) SetFunctionCallInFlight(v bool) { m.inFlight = v }

// KeepAliveAllowed reports whether a keep-alive may be sent now: the
// connection is Ready and no function call is in flight.
func (m *Machine) KeepAliveAllowed() bool {
	return m.state == StateReady && !m.inFlight
}
