// Package notify broadcasts session events to tenant-scoped subscribers.
package notify

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/asaskevich/EventBus"

	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/internal/store"
)

// Event names.
const (
	EventWhatsAppStatus = "whatsapp-status"
	EventNewMessage     = "new-message"
)

const topicAll = "tenant:*"

func tenantTopic(tenantID string) string {
	return "tenant:" + tenantID
}

// StatusPayload is broadcast on every canonical state change.
type StatusPayload struct {
	InstanceID  string `json:"instanceId"`
	SessionName string `json:"sessionName"`
	Status      string `json:"status"`
	QRCode      string `json:"qrCode,omitempty"`
	Phone       string `json:"phone,omitempty"`
}

// MessagePayload is broadcast for each persisted inbound message.
type MessagePayload struct {
	ConversationID string        `json:"conversationId"`
	SessionName    string        `json:"sessionName"`
	From           string        `json:"from"`
	Message        store.Message `json:"message"`
}

// Notification is what subscribers receive. Delivery is asynchronous; Seq is
// monotonic per hub so consumers can restore publish order.
type Notification struct {
	Seq       uint64      `json:"seq"`
	TenantID  string      `json:"tenantId"`
	Event     string      `json:"event"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// Subscription is a registered handler.
type Subscription struct {
	active atomic.Bool
}

// Cancel stops delivery to the handler.
func (s *Subscription) Cancel() {
	s.active.Store(false)
}

// Hub fans notifications out over an in-process event bus.
type Hub struct {
	bus    EventBus.Bus
	seq    atomic.Uint64
	log    *slog.Logger
	mu     sync.RWMutex
	closed bool
}

// NewHub creates a notification hub.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		bus: EventBus.New(),
		log: log.With("component", "notify"),
	}
}

// Broadcast publishes an event to the tenant's subscribers and to
// SubscribeAll handlers. It never blocks on subscribers and never fails.
func (h *Hub) Broadcast(tenantID, event string, payload interface{}) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}

	n := Notification{
		Seq:       h.seq.Add(1),
		TenantID:  tenantID,
		Event:     event,
		Payload:   payload,
		Timestamp: time.Now(),
	}
	h.bus.Publish(tenantTopic(tenantID), n)
	h.bus.Publish(topicAll, n)
}

// Subscribe registers fn for one tenant's notifications.
func (h *Hub) Subscribe(tenantID string, fn func(Notification)) (*Subscription, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant id is required")
	}
	return h.subscribe(tenantTopic(tenantID), fn)
}

// SubscribeAll registers fn for every tenant's notifications.
func (h *Hub) SubscribeAll(fn func(Notification)) (*Subscription, error) {
	return h.subscribe(topicAll, fn)
}

func (h *Hub) subscribe(topic string, fn func(Notification)) (*Subscription, error) {
	sub := &Subscription{}
	sub.active.Store(true)

	handler := func(n Notification) {
		if !sub.active.Load() {
			return
		}
		defer func() {
			if r := recover(); r != nil {
				h.log.Error("notification handler panicked", "event", n.Event, "tenant", n.TenantID, "panic", r)
			}
		}()
		fn(n)
	}

	// Transactional handlers run one notification at a time.
	if err := h.bus.SubscribeAsync(topic, handler, true); err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}
	return sub, nil
}

// Close waits for in-flight deliveries and drops later broadcasts.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	h.bus.WaitAsync()
}
