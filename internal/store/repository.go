package store

import (
	"context"
	"errors"
	"time"

	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/internal/state"
)

// ErrNotFound is returned when a requested item is not found.
var ErrNotFound = errors.New("not found")

// InstanceRepository defines operations for instance persistence.
type InstanceRepository interface {
	Ensure(ctx context.Context, tenantID, sessionName string) (*Instance, error)
	Get(ctx context.Context, tenantID, sessionName string) (*Instance, error)
	GetByID(ctx context.Context, id string) (*Instance, error)
	List(ctx context.Context, tenantID string) ([]Instance, error)
	UpdateStatus(ctx context.Context, id string, u InstanceUpdate) error
	ClearExpiredQR(ctx context.Context, before time.Time) (int64, error)
	Delete(ctx context.Context, id string) error
}

// ConversationRepository defines operations for conversation persistence.
type ConversationRepository interface {
	FindOrCreate(ctx context.Context, instanceID, address, name string) (*Conversation, bool, error)
	GetByID(ctx context.Context, id string) (*Conversation, error)
	ListByInstance(ctx context.Context, instanceID string, limit int) ([]Conversation, error)
	SetHumanHandled(ctx context.Context, id string, handled bool) error
	AssignChatbot(ctx context.Context, id, chatbotID string) error
}

// MessageRepository defines operations for message persistence.
type MessageRepository interface {
	Save(ctx context.Context, msg *Message) error
	ListByConversation(ctx context.Context, conversationID string, limit int) ([]Message, error)
	Count(ctx context.Context, conversationID string) (int, error)
}

// ChatbotRepository defines operations for chatbot persistence.
type ChatbotRepository interface {
	Create(ctx context.Context, bot *Chatbot) error
	List(ctx context.Context, tenantID string) ([]Chatbot, error)
	ListActive(ctx context.Context, tenantID string) ([]Chatbot, error)
	CountActive(ctx context.Context, tenantID string) (int, error)
	SetActive(ctx context.Context, id string, active bool) error
}

// TransitionRepository defines operations for transition history.
type TransitionRepository interface {
	Log(ctx context.Context, instanceID string, from, to state.State, trigger string) error
	History(ctx context.Context, instanceID string, limit int) ([]Transition, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
}

var (
	_ InstanceRepository     = (*SQLiteInstanceRepo)(nil)
	_ ConversationRepository = (*SQLiteConversationRepo)(nil)
	_ MessageRepository      = (*SQLiteMessageRepo)(nil)
	_ ChatbotRepository      = (*SQLiteChatbotRepo)(nil)
	_ TransitionRepository   = (*SQLiteTransitionRepo)(nil)
)
