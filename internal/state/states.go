// Package state provides the canonical connection states of a device session,
// the translator from raw provider status codes, and the per-session state machine.
package state

// State represents a canonical connection state of one session identity.
type State string

const (
	StateInitializing   State = "initializing"
	StateAwaitingQRScan State = "awaiting_qr_scan"
	StateConnecting     State = "connecting"
	StateConnected      State = "connected"
	StateDisconnected   State = "disconnected"
	StateError          State = "error"
)

// All lists every canonical state in lifecycle order.
var All = []State{
	StateInitializing,
	StateAwaitingQRScan,
	StateConnecting,
	StateConnected,
	StateDisconnected,
	StateError,
}

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// Valid reports whether s is one of the canonical states.
func (s State) Valid() bool {
	for _, v := range All {
		if s == v {
			return true
		}
	}
	return false
}

// IsProgressing returns true while a session is on its way to Connected.
func (s State) IsProgressing() bool {
	switch s {
	case StateInitializing, StateAwaitingQRScan, StateConnecting:
		return true
	default:
		return false
	}
}

// IsOperational returns true if messages can be sent in this state.
func (s State) IsOperational() bool {
	return s == StateConnected
}

// Parse converts a persisted value back into a State. Unknown or empty
// values map to Initializing.
func Parse(v string) State {
	s := State(v)
	if !s.Valid() {
		return StateInitializing
	}
	return s
}
