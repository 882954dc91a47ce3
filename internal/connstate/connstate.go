// Package connstate owns the connection lifecycle state: a tagged
// variant with an exhaustive transition table. Every transition is
// reported through a callback before any state-dependent side effect
// runs, so the composing client can guarantee exactly one state-change
// event per transition.
package connstate

import (
	"sync"
	"time"
)

// State is the connection lifecycle's tagged variant.
type State string

const (
	Disconnected State = "disconnected"
	Connecting   State = "connecting"
	Connected    State = "connected"
	Disconnecting State = "disconnecting"
	Reconnecting  State = "reconnecting"
	// Destroyed is terminal: reached only via Facade destroy, never
	// re-enterable.
	Destroyed State = "destroyed"
)

// Change describes a single transition.
type Change struct {
	Old       State
	New       State
	Timestamp time.Time
}

// OnChange is invoked synchronously, before the caller proceeds to any
// side effect that assumes the new state.
type OnChange func(Change)

// Machine is the single owner of the connection state. Transitions are
// expected to be driven by a single logical task runner, but State()
// may be polled from anywhere.
type Machine struct {
	mu    sync.RWMutex
	state State
	onChg OnChange
}

// New builds a Machine starting at Disconnected.
func New(onChange OnChange) *Machine {
	if onChange == nil {
		onChange = func(Change) {}
	}
	return &Machine{state: Disconnected, onChg: onChange}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// transitions enumerates every legal (from, to) pair.
var transitions = map[State]map[State]bool{
	Disconnected: {
		Connecting:   true,
		Reconnecting: true, // e.g. heartbeat death settles at Disconnected, then the retry loop takes over
	},
	Connecting: {
		Connected:    true,
		Disconnected: true, // error/close/timeout before open
	},
	Connected: {
		Disconnecting: true,
		Disconnected:  true, // clean close
		Reconnecting:  true, // unclean close, reconnect enabled
	},
	Disconnecting: {
		Disconnected: true,
	},
	Reconnecting: {
		Connecting:   true,
		Disconnected: true, // max attempts exhausted
	},
}

// canTransition additionally allows a transition into Destroyed from
// anywhere, and Destroyed accepts none.
func canTransition(from, to State) bool {
	if to == Destroyed {
		return from != Destroyed
	}
	if from == Destroyed {
		return false
	}
	return transitions[from][to]
}

// Transition attempts to move from the current state to to. It
// returns false without effect if the transition is not legal from
// the current state.
func (m *Machine) Transition(to State) bool {
	m.mu.Lock()
	from := m.state
	if !canTransition(from, to) {
		m.mu.Unlock()
		return false
	}
	m.state = to
	m.mu.Unlock()

	m.onChg(Change{Old: from, New: to, Timestamp: time.Now()})
	return true
}

// Is reports whether the current state equals s.
func (m *Machine) Is(s State) bool { return m.State() == s }
