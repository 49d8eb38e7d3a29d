package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/internal/config"
	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/internal/device"
	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/internal/device/devicetest"
	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/internal/notify"
	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/internal/state"
	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/internal/store"
)

var testID = device.Identity{TenantID: "t1", SessionName: "s1"}

type recordedNote struct {
	TenantID string
	Event    string
	Payload  interface{}
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []recordedNote
}

func (n *recordingNotifier) Broadcast(tenantID, event string, payload interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, recordedNote{TenantID: tenantID, Event: event, Payload: payload})
}

func (n *recordingNotifier) statuses() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, note := range n.notes {
		if p, ok := note.Payload.(notify.StatusPayload); ok {
			out = append(out, p.Status)
		}
	}
	return out
}

func (n *recordingNotifier) messages() []notify.MessagePayload {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notify.MessagePayload
	for _, note := range n.notes {
		if p, ok := note.Payload.(notify.MessagePayload); ok {
			out = append(out, p)
		}
	}
	return out
}

type evalCall struct {
	In   Inbound
	Conv ConversationContext
}

type recordingEvaluator struct {
	mu    sync.Mutex
	calls []evalCall
	reply string
}

func (e *recordingEvaluator) Evaluate(ctx context.Context, in Inbound, conv ConversationContext, sender Sender) error {
	e.mu.Lock()
	e.calls = append(e.calls, evalCall{In: in, Conv: conv})
	reply := e.reply
	e.mu.Unlock()

	if reply == "" {
		return nil
	}
	_, err := sender.Send(ctx, in.Identity, SendRequest{To: in.From, Content: reply, FromBot: true})
	return err
}

func (e *recordingEvaluator) Calls() []evalCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]evalCall(nil), e.calls...)
}

type recordingMetrics struct {
	noopMetrics

	mu        sync.Mutex
	active    int
	tiers     []int
	exhausted int
}

func (m *recordingMetrics) SessionsActive(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = n
}

func (m *recordingMetrics) ReconnectScheduled(tier int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tiers = append(m.tiers, tier)
}

func (m *recordingMetrics) ReconnectExhausted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exhausted++
}

func (m *recordingMetrics) Tiers() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.tiers...)
}

func (m *recordingMetrics) Exhausted() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exhausted
}

func (m *recordingMetrics) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

type harness struct {
	c         *Controller
	provider  *devicetest.Provider
	store     *store.SQLiteStore
	notes     *recordingNotifier
	evaluator *recordingEvaluator
	metrics   *recordingMetrics
	cfg       *config.Config
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.ConnectTimeout = time.Second
	cfg.CloseTimeout = 100 * time.Millisecond
	cfg.CleanupGrace = time.Millisecond
	cfg.RestartQuiescence = time.Millisecond
	cfg.ReconnectBaseDelay = 20 * time.Millisecond
	cfg.ReconnectMaxDelay = 80 * time.Millisecond
	cfg.ReconnectMultiplier = 4
	cfg.ReconnectMaxRetries = 2
	cfg.SendRateLimit = 1000
	cfg.SendBurst = 100
	cfg.ShutdownWorkers = 4
	return cfg
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	h := &harness{
		provider:  devicetest.NewProvider(),
		store:     s,
		notes:     &recordingNotifier{},
		evaluator: &recordingEvaluator{},
		metrics:   &recordingMetrics{},
		cfg:       testConfig(),
	}
	h.c = NewController(h.cfg, Options{
		Provider:  h.provider,
		Store:     s,
		Notifier:  h.notes,
		Evaluator: h.evaluator,
		Metrics:   h.metrics,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		h.c.Shutdown(ctx)
	})
	return h
}

func (h *harness) ensure(t *testing.T, id device.Identity) *store.Instance {
	t.Helper()
	inst, err := h.store.Instances.Ensure(context.Background(), id.TenantID, id.SessionName)
	require.NoError(t, err)
	return inst
}

func (h *harness) instance(t *testing.T, id device.Identity) *store.Instance {
	t.Helper()
	inst, err := h.store.GetInstance(context.Background(), id.TenantID, id.SessionName)
	require.NoError(t, err)
	return inst
}

func (h *harness) waitState(t *testing.T, id device.Identity, want state.State) {
	t.Helper()
	require.Eventually(t, func() bool {
		inst, err := h.store.GetInstance(context.Background(), id.TenantID, id.SessionName)
		return err == nil && inst.Status == want
	}, 2*time.Second, 5*time.Millisecond, "state never became %s", want)
}

// connect creates the session and drives it to Connected.
func (h *harness) connect(t *testing.T, id device.Identity) *devicetest.FakeHandle {
	t.Helper()
	h.ensure(t, id)
	require.NoError(t, h.c.CreateSession(context.Background(), id, CreateOptions{}))

	fh := h.provider.Last(id)
	require.NotNil(t, fh)
	fh.SetConnected(true)
	fh.SetPhone("5511999990000")
	require.NoError(t, h.provider.Status(id, state.RawIsLogged))
	h.waitState(t, id, state.StateConnected)
	return fh
}
