package session

import (
	"context"
	"time"

	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/internal/device"
	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/internal/state"
	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/internal/store"
)

// Persistence is the durable storage the controller reads and writes.
type Persistence interface {
	GetInstance(ctx context.Context, tenantID, sessionName string) (*store.Instance, error)
	ListInstances(ctx context.Context) ([]store.Instance, error)
	UpdateInstanceStatus(ctx context.Context, instanceID string, u store.InstanceUpdate) error
	DeleteInstance(ctx context.Context, instanceID string) error
	FindOrCreateConversation(ctx context.Context, instanceID, address, name string) (*store.Conversation, bool, error)
	SaveMessage(ctx context.Context, msg *store.Message) error
	LogTransition(ctx context.Context, instanceID string, from, to state.State, trigger string) error
	LastTransition(ctx context.Context, instanceID string) (*store.Transition, error)
	ActiveChatbotCount(ctx context.Context, tenantID string) (int, error)
	ClearExpiredQR(ctx context.Context, before time.Time) (int64, error)
	PruneTransitions(ctx context.Context, before time.Time) (int64, error)
}

var _ Persistence = (*store.SQLiteStore)(nil)

// Notifier pushes events to real-time listeners. Broadcast must not block
// for long and never fails.
type Notifier interface {
	Broadcast(tenantID, event string, payload interface{})
}

// Inbound is a received message handed to the evaluator.
type Inbound struct {
	Identity  device.Identity
	MessageID string
	From      string
	PushName  string
	Body      string
	Type      device.MessageType
	IsGroup   bool
	Timestamp time.Time
}

// ConversationContext describes the conversation an inbound message landed in.
type ConversationContext struct {
	TenantID       string
	InstanceID     string
	ConversationID string
	ContactAddress string
	// IsNew is true for the first message of the conversation.
	IsNew bool
}

// Sender sends messages on a session. The controller implements it.
type Sender interface {
	Send(ctx context.Context, id device.Identity, req SendRequest) (*Receipt, error)
}

// Evaluator decides automated replies. It is called outside the identity
// lock and may call back into Sender.
type Evaluator interface {
	Evaluate(ctx context.Context, in Inbound, conv ConversationContext, sender Sender) error
}

// Metrics records controller activity.
type Metrics interface {
	SessionsActive(n int)
	TransitionRecorded(to state.State)
	ReconnectScheduled(tier int)
	ReconnectExhausted()
	MessageRecorded(direction string)
}

type noopNotifier struct{}

func (noopNotifier) Broadcast(string, string, interface{}) {}

type noopMetrics struct{}

func (noopMetrics) SessionsActive(int)             {}
func (noopMetrics) TransitionRecorded(state.State) {}
func (noopMetrics) ReconnectScheduled(int)         {}
func (noopMetrics) ReconnectExhausted()            {}
func (noopMetrics) MessageRecorded(string)         {}
