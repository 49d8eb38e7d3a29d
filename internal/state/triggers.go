package state

// Trigger represents an event that causes a state transition.
type Trigger string

const (
	TriggerCreate     Trigger = "create"
	TriggerQRIssued   Trigger = "qr_issued"
	TriggerProgress   Trigger = "progress"
	TriggerLoggedIn   Trigger = "logged_in"
	TriggerDisconnect Trigger = "disconnect"
	TriggerFail       Trigger = "fail"
	// TriggerShutdown marks a session closed by process shutdown rather
	// than by a caller or the device.
	TriggerShutdown Trigger = "shutdown"
)

// String returns the string representation of the trigger.
func (t Trigger) String() string {
	return string(t)
}

// TriggerFor returns the trigger that moves a machine into s.
func TriggerFor(s State) Trigger {
	switch s {
	case StateConnected:
		return TriggerLoggedIn
	case StateAwaitingQRScan:
		return TriggerQRIssued
	case StateDisconnected:
		return TriggerDisconnect
	case StateError:
		return TriggerFail
	default:
		return TriggerProgress
	}
}
