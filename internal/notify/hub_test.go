package notify

import (
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu  sync.Mutex
	got []Notification
}

func (c *collector) add(n Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, n)
}

func (c *collector) all() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := append([]Notification(nil), c.got...)
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

func TestHub_TenantScoping(t *testing.T) {
	h := NewHub(nil)

	var t1, t2, everyone collector
	_, err := h.Subscribe("t1", t1.add)
	require.NoError(t, err)
	_, err = h.Subscribe("t2", t2.add)
	require.NoError(t, err)
	_, err = h.SubscribeAll(everyone.add)
	require.NoError(t, err)

	h.Broadcast("t1", EventWhatsAppStatus, StatusPayload{SessionName: "s1", Status: "connecting"})
	h.Broadcast("t1", EventWhatsAppStatus, StatusPayload{SessionName: "s1", Status: "connected"})
	h.Broadcast("t2", EventNewMessage, MessagePayload{ConversationID: "c1"})
	h.Close()

	got := t1.all()
	require.Len(t, got, 2)
	assert.Equal(t, "connecting", got[0].Payload.(StatusPayload).Status)
	assert.Equal(t, "connected", got[1].Payload.(StatusPayload).Status)
	assert.Less(t, got[0].Seq, got[1].Seq)

	require.Len(t, t2.all(), 1)
	assert.Equal(t, EventNewMessage, t2.all()[0].Event)
	assert.Len(t, everyone.all(), 3)
}

func TestHub_CancelStopsDelivery(t *testing.T) {
	h := NewHub(nil)

	var c collector
	sub, err := h.Subscribe("t1", c.add)
	require.NoError(t, err)

	h.Broadcast("t1", EventWhatsAppStatus, StatusPayload{Status: "connecting"})
	h.bus.WaitAsync()
	sub.Cancel()
	h.Broadcast("t1", EventWhatsAppStatus, StatusPayload{Status: "connected"})
	h.Close()

	assert.Len(t, c.all(), 1)
}

func TestHub_PanickingHandlerIsContained(t *testing.T) {
	h := NewHub(nil)

	_, err := h.Subscribe("t1", func(Notification) { panic("boom") })
	require.NoError(t, err)
	var c collector
	_, err = h.Subscribe("t1", c.add)
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		h.Broadcast("t1", EventWhatsAppStatus, StatusPayload{Status: "error"})
		h.Close()
	})
	assert.Len(t, c.all(), 1)
}

func TestHub_BroadcastAfterCloseIsDropped(t *testing.T) {
	h := NewHub(nil)
	var c collector
	_, err := h.SubscribeAll(c.add)
	require.NoError(t, err)

	h.Close()
	h.Broadcast("t1", EventWhatsAppStatus, StatusPayload{Status: "connected"})
	time.Sleep(10 * time.Millisecond)
	assert.Empty(t, c.all())
}

func TestHub_SubscribeRequiresTenant(t *testing.T) {
	h := NewHub(nil)
	_, err := h.Subscribe("", func(Notification) {})
	assert.Error(t, err)
}
