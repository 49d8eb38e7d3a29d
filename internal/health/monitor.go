// Package health tracks session manager activity, exports it as Prometheus
// metrics and runs periodic housekeeping.
package health

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/internal/session"
	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/internal/state"
	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/internal/store"
)

// Status is a snapshot of manager activity.
type Status struct {
	UptimeSeconds       int64     `json:"uptime_seconds"`
	ActiveSessions      int       `json:"active_sessions"`
	LastMessage         time.Time `json:"last_message,omitempty"`
	MessagesReceived    int64     `json:"messages_received"`
	MessagesSent        int64     `json:"messages_sent"`
	ReconnectsScheduled int64     `json:"reconnects_scheduled"`
	ReconnectsExhausted int64     `json:"reconnects_exhausted"`
	Transitions         int64     `json:"transitions"`
}

// Monitor records controller activity. It implements session.Metrics.
type Monitor struct {
	startTime time.Time

	active              atomic.Int64
	messagesReceived    atomic.Int64
	messagesSent        atomic.Int64
	reconnectsScheduled atomic.Int64
	reconnectsExhausted atomic.Int64
	transitions         atomic.Int64

	mu          sync.RWMutex
	lastMessage time.Time

	sessionsActive   prometheus.Gauge
	transitionsTotal *prometheus.CounterVec
	reconnectsTotal  *prometheus.CounterVec
	exhaustedTotal   prometheus.Counter
	messagesTotal    *prometheus.CounterVec
}

var _ session.Metrics = (*Monitor)(nil)

// NewMonitor creates a monitor registering its collectors on reg. A nil reg
// keeps the collectors unregistered.
func NewMonitor(reg prometheus.Registerer) *Monitor {
	f := promauto.With(reg)

	return &Monitor{
		startTime: time.Now(),
		sessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "wa",
			Subsystem: "session",
			Name:      "active",
			Help:      "Number of sessions with a live device handle",
		}),
		transitionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wa",
			Subsystem: "session",
			Name:      "transitions_total",
			Help:      "State transitions by destination state",
		}, []string{"state"}),
		reconnectsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wa",
			Subsystem: "session",
			Name:      "reconnects_scheduled_total",
			Help:      "Reconnect attempts scheduled by backoff tier",
		}, []string{"attempt"}),
		exhaustedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: "wa",
			Subsystem: "session",
			Name:      "reconnects_exhausted_total",
			Help:      "Sessions left in error after every reconnect tier failed",
		}),
		messagesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wa",
			Subsystem: "session",
			Name:      "messages_total",
			Help:      "Messages recorded by direction",
		}, []string{"direction"}),
	}
}

// SessionsActive records how many sessions hold a live device handle.
func (m *Monitor) SessionsActive(n int) {
	m.active.Store(int64(n))
	m.sessionsActive.Set(float64(n))
}

// TransitionRecorded counts a state transition into to.
func (m *Monitor) TransitionRecorded(to state.State) {
	m.transitions.Add(1)
	m.transitionsTotal.WithLabelValues(string(to)).Inc()
}

// ReconnectScheduled counts a reconnect armed at the given backoff tier.
func (m *Monitor) ReconnectScheduled(tier int) {
	m.reconnectsScheduled.Add(1)
	m.reconnectsTotal.WithLabelValues(strconv.Itoa(tier)).Inc()
}

// ReconnectExhausted counts a session that ran out of reconnect tiers.
func (m *Monitor) ReconnectExhausted() {
	m.reconnectsExhausted.Add(1)
	m.exhaustedTotal.Inc()
}

// MessageRecorded counts a sent or received message.
func (m *Monitor) MessageRecorded(direction string) {
	switch direction {
	case store.DirectionInbound:
		m.messagesReceived.Add(1)
		m.mu.Lock()
		m.lastMessage = time.Now()
		m.mu.Unlock()
	case store.DirectionOutbound:
		m.messagesSent.Add(1)
	}
	m.messagesTotal.WithLabelValues(direction).Inc()
}

// GetStatus returns the current activity snapshot.
func (m *Monitor) GetStatus() Status {
	m.mu.RLock()
	last := m.lastMessage
	m.mu.RUnlock()

	return Status{
		UptimeSeconds:       int64(time.Since(m.startTime).Seconds()),
		ActiveSessions:      int(m.active.Load()),
		LastMessage:         last,
		MessagesReceived:    m.messagesReceived.Load(),
		MessagesSent:        m.messagesSent.Load(),
		ReconnectsScheduled: m.reconnectsScheduled.Load(),
		ReconnectsExhausted: m.reconnectsExhausted.Load(),
		Transitions:         m.transitions.Load(),
	}
}
