package state

import (
	"context"
	"sync"

	"github.com/qmuntal/stateless"
)

// TransitionCallback is called when a state transition occurs.
type TransitionCallback func(ctx context.Context, from, to State, trigger Trigger)

// Machine wraps the stateless state machine for one session identity.
type Machine struct {
	sm          *stateless.StateMachine
	callbacks   []TransitionCallback
	callbacksMu sync.RWMutex
}

// NewMachine creates a state machine starting in initial. Sessions loaded
// from storage start in their persisted state; new ones in Initializing.
func NewMachine(initial State) *Machine {
	if !initial.Valid() {
		initial = StateInitializing
	}

	m := &Machine{
		callbacks: make([]TransitionCallback, 0),
	}

	sm := stateless.NewStateMachine(initial)

	sm.Configure(StateInitializing).
		Permit(TriggerCreate, StateConnecting).
		Permit(TriggerDisconnect, StateDisconnected).
		Permit(TriggerShutdown, StateDisconnected).
		Permit(TriggerFail, StateError)

	sm.Configure(StateConnecting).
		PermitReentry(TriggerCreate).
		PermitReentry(TriggerProgress).
		Permit(TriggerQRIssued, StateAwaitingQRScan).
		Permit(TriggerLoggedIn, StateConnected).
		Permit(TriggerDisconnect, StateDisconnected).
		Permit(TriggerShutdown, StateDisconnected).
		Permit(TriggerFail, StateError)

	// A newer QR supersedes the current one.
	sm.Configure(StateAwaitingQRScan).
		PermitReentry(TriggerQRIssued).
		Permit(TriggerCreate, StateConnecting).
		Permit(TriggerProgress, StateConnecting).
		Permit(TriggerLoggedIn, StateConnected).
		Permit(TriggerDisconnect, StateDisconnected).
		Permit(TriggerShutdown, StateDisconnected).
		Permit(TriggerFail, StateError)

	sm.Configure(StateConnected).
		PermitReentry(TriggerLoggedIn).
		Permit(TriggerCreate, StateConnecting).
		Permit(TriggerProgress, StateConnecting).
		Permit(TriggerQRIssued, StateAwaitingQRScan).
		Permit(TriggerDisconnect, StateDisconnected).
		Permit(TriggerShutdown, StateDisconnected).
		Permit(TriggerFail, StateError)

	// Only a new create leaves Disconnected or Error; late provider events
	// for a torn-down handle are rejected.
	sm.Configure(StateDisconnected).
		PermitReentry(TriggerDisconnect).
		Permit(TriggerCreate, StateConnecting).
		Permit(TriggerFail, StateError)

	sm.Configure(StateError).
		PermitReentry(TriggerFail).
		Permit(TriggerCreate, StateConnecting).
		Permit(TriggerDisconnect, StateDisconnected).
		Permit(TriggerShutdown, StateDisconnected)

	sm.OnTransitioned(func(ctx context.Context, t stateless.Transition) {
		m.callbacksMu.RLock()
		callbacks := make([]TransitionCallback, len(m.callbacks))
		copy(callbacks, m.callbacks)
		m.callbacksMu.RUnlock()

		from := t.Source.(State)
		to := t.Destination.(State)
		trigger := t.Trigger.(Trigger)

		for _, cb := range callbacks {
			cb(ctx, from, to, trigger)
		}
	})

	m.sm = sm
	return m
}

// State returns the current state.
func (m *Machine) State(ctx context.Context) (State, error) {
	state, err := m.sm.State(ctx)
	if err != nil {
		return "", err
	}
	return state.(State), nil
}

// Fire triggers a state transition.
func (m *Machine) Fire(ctx context.Context, trigger Trigger, args ...any) error {
	return m.sm.FireCtx(ctx, trigger, args...)
}

// CanFire returns true if the trigger can be fired from the current state.
func (m *Machine) CanFire(ctx context.Context, trigger Trigger, args ...any) (bool, error) {
	return m.sm.CanFireCtx(ctx, trigger, args...)
}

// IsInState returns true if the machine is in the specified state.
func (m *Machine) IsInState(ctx context.Context, state State) (bool, error) {
	currentState, err := m.State(ctx)
	if err != nil {
		return false, err
	}
	return currentState == state, nil
}

// OnTransition registers a callback to be called on state transitions.
func (m *Machine) OnTransition(cb TransitionCallback) {
	m.callbacksMu.Lock()
	defer m.callbacksMu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

// MustState returns the current state, panicking on error.
func (m *Machine) MustState() State {
	state, err := m.State(context.Background())
	if err != nil {
		panic(err)
	}
	return state
}
