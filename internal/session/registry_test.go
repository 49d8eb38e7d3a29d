package session

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/internal/device"
	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/internal/device/devicetest"
)

func TestRegistry_RegisterLookupUnregister(t *testing.T) {
	r := NewRegistry(time.Second, nil)
	h := &devicetest.FakeHandle{}

	_, ok := r.Lookup(testID)
	assert.False(t, ok)

	r.Register(testID, h)
	got, ok := r.Lookup(testID)
	require.True(t, ok)
	assert.Same(t, h, got)
	assert.Equal(t, []device.Identity{testID}, r.ListActive())

	assert.Same(t, h, r.Unregister(testID))
	assert.Nil(t, r.Unregister(testID))
	assert.Empty(t, r.ListActive())
}

func TestRegistry_RegisterOverLiveHandleClosesStale(t *testing.T) {
	r := NewRegistry(time.Second, nil)
	stale := &devicetest.FakeHandle{}
	fresh := &devicetest.FakeHandle{}

	r.Register(testID, stale)
	r.Register(testID, fresh)

	assert.True(t, stale.Closed())
	assert.False(t, fresh.Closed())
	got, _ := r.Lookup(testID)
	assert.Same(t, fresh, got)
}

func TestRegistry_ListActiveSorted(t *testing.T) {
	r := NewRegistry(time.Second, nil)
	ids := []device.Identity{
		{TenantID: "t2", SessionName: "a"},
		{TenantID: "t1", SessionName: "b"},
		{TenantID: "t1", SessionName: "a"},
	}
	for _, id := range ids {
		r.Register(id, &devicetest.FakeHandle{})
	}

	assert.Equal(t, []device.Identity{ids[2], ids[1], ids[0]}, r.ListActive())
}

func TestRegistry_TimerReplaceAndClear(t *testing.T) {
	r := NewRegistry(time.Second, nil)
	var fired atomic.Int32

	r.SetTimer(testID, time.Hour, func(uint64) { fired.Add(1) })
	r.SetTimer(testID, time.Hour, func(uint64) { fired.Add(1) })
	assert.Equal(t, 1, r.PendingTimers())

	assert.True(t, r.ClearTimer(testID))
	assert.False(t, r.ClearTimer(testID))
	assert.False(t, r.HasTimer(testID))
	assert.Zero(t, fired.Load())
}

func TestRegistry_TakeTimerRejectsSuperseded(t *testing.T) {
	r := NewRegistry(time.Second, nil)
	seqs := make(chan uint64, 2)

	first := r.SetTimer(testID, 10*time.Millisecond, func(seq uint64) { seqs <- seq })
	require.Equal(t, first, <-seqs)

	second := r.SetTimer(testID, time.Hour, func(uint64) {})
	assert.False(t, r.TakeTimer(testID, first), "an older timer cannot claim a newer slot")
	assert.True(t, r.TakeTimer(testID, second))
	assert.False(t, r.TakeTimer(testID, second))
}

// blockingHandle never finishes closing until released.
type blockingHandle struct {
	*devicetest.FakeHandle
	release chan struct{}
}

func (h *blockingHandle) Close(context.Context) error {
	<-h.release
	return nil
}

func TestCloseHandle_Timeout(t *testing.T) {
	h := &blockingHandle{FakeHandle: &devicetest.FakeHandle{}, release: make(chan struct{})}
	defer close(h.release)

	err := closeHandle(h, 20*time.Millisecond)
	assert.Error(t, err)
}
