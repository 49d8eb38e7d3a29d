package state

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMachine(t *testing.T) {
	m := NewMachine(StateInitializing)
	require.NotNil(t, m)

	state, err := m.State(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateInitializing, state)
}

func TestNewMachine_SeededFromPersistedState(t *testing.T) {
	m := NewMachine(StateConnected)
	assert.Equal(t, StateConnected, m.MustState())

	m = NewMachine(State("bogus"))
	assert.Equal(t, StateInitializing, m.MustState())
}

func TestMachine_QRFlow(t *testing.T) {
	ctx := context.Background()
	m := NewMachine(StateInitializing)

	require.NoError(t, m.Fire(ctx, TriggerCreate))
	assert.Equal(t, StateConnecting, m.MustState())

	require.NoError(t, m.Fire(ctx, TriggerQRIssued))
	assert.Equal(t, StateAwaitingQRScan, m.MustState())

	// Newer QR supersedes the old one
	require.NoError(t, m.Fire(ctx, TriggerQRIssued))
	assert.Equal(t, StateAwaitingQRScan, m.MustState())

	require.NoError(t, m.Fire(ctx, TriggerProgress))
	assert.Equal(t, StateConnecting, m.MustState())

	require.NoError(t, m.Fire(ctx, TriggerLoggedIn))
	assert.Equal(t, StateConnected, m.MustState())
}

func TestMachine_DisconnectAndRecreate(t *testing.T) {
	ctx := context.Background()
	m := NewMachine(StateConnected)

	require.NoError(t, m.Fire(ctx, TriggerDisconnect))
	assert.Equal(t, StateDisconnected, m.MustState())

	// Repeated disconnect is a reentry, not an error
	require.NoError(t, m.Fire(ctx, TriggerDisconnect))
	assert.Equal(t, StateDisconnected, m.MustState())

	require.NoError(t, m.Fire(ctx, TriggerCreate))
	assert.Equal(t, StateConnecting, m.MustState())
}

func TestMachine_ErrorFromAnyState(t *testing.T) {
	ctx := context.Background()
	for _, s := range All {
		t.Run(s.String(), func(t *testing.T) {
			m := NewMachine(s)
			require.NoError(t, m.Fire(ctx, TriggerFail))
			assert.Equal(t, StateError, m.MustState())
		})
	}
}

func TestMachine_Shutdown(t *testing.T) {
	ctx := context.Background()
	for _, s := range All {
		t.Run(s.String(), func(t *testing.T) {
			m := NewMachine(s)
			ok, err := m.CanFire(ctx, TriggerShutdown)
			require.NoError(t, err)

			if s == StateDisconnected {
				assert.False(t, ok, "shutdown must not re-enter disconnected")
				return
			}
			assert.True(t, ok)
			require.NoError(t, m.Fire(ctx, TriggerShutdown))
			assert.Equal(t, StateDisconnected, m.MustState())
		})
	}
}

func TestMachine_StaleEventsRejectedAfterTeardown(t *testing.T) {
	ctx := context.Background()

	for _, s := range []State{StateDisconnected, StateError} {
		m := NewMachine(s)
		for _, tr := range []Trigger{TriggerQRIssued, TriggerProgress, TriggerLoggedIn} {
			can, err := m.CanFire(ctx, tr)
			require.NoError(t, err)
			assert.False(t, can, "%s should not be accepted in %s", tr, s)
			assert.Error(t, m.Fire(ctx, tr))
		}
		assert.Equal(t, s, m.MustState())
	}
}

func TestMachine_CreateAllowedFromEveryState(t *testing.T) {
	ctx := context.Background()
	for _, s := range All {
		m := NewMachine(s)
		can, err := m.CanFire(ctx, TriggerCreate)
		require.NoError(t, err)
		assert.True(t, can, "create from %s", s)
	}
}

func TestMachine_TransitionCallback(t *testing.T) {
	ctx := context.Background()
	m := NewMachine(StateInitializing)

	var mu sync.Mutex
	var transitions []struct {
		from, to State
		trigger  Trigger
	}

	m.OnTransition(func(ctx context.Context, from, to State, trigger Trigger) {
		mu.Lock()
		defer mu.Unlock()
		transitions = append(transitions, struct {
			from, to State
			trigger  Trigger
		}{from, to, trigger})
	})

	_ = m.Fire(ctx, TriggerCreate)
	_ = m.Fire(ctx, TriggerQRIssued)
	_ = m.Fire(ctx, TriggerQRIssued)

	mu.Lock()
	defer mu.Unlock()

	require.Len(t, transitions, 3)
	assert.Equal(t, StateInitializing, transitions[0].from)
	assert.Equal(t, StateConnecting, transitions[0].to)
	assert.Equal(t, TriggerCreate, transitions[0].trigger)
	assert.Equal(t, StateAwaitingQRScan, transitions[2].from)
	assert.Equal(t, StateAwaitingQRScan, transitions[2].to)
}

func TestMachine_IsInState(t *testing.T) {
	ctx := context.Background()
	m := NewMachine(StateConnecting)

	in, err := m.IsInState(ctx, StateConnecting)
	require.NoError(t, err)
	assert.True(t, in)

	in, err = m.IsInState(ctx, StateConnected)
	require.NoError(t, err)
	assert.False(t, in)
}

func TestState_Helpers(t *testing.T) {
	assert.True(t, StateConnected.IsOperational())
	assert.False(t, StateConnecting.IsOperational())
	assert.True(t, StateAwaitingQRScan.IsProgressing())
	assert.False(t, StateError.IsProgressing())
	assert.Equal(t, StateError, Parse("error"))
	assert.Equal(t, StateInitializing, Parse(""))
}
