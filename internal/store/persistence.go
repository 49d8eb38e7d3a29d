package store

import (
	"context"
	"time"

	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/internal/state"
)

// The methods below give the session controller a narrow view of the store.

// GetInstance returns the instance record for a session identity.
func (s *SQLiteStore) GetInstance(ctx context.Context, tenantID, sessionName string) (*Instance, error) {
	return s.Instances.Get(ctx, tenantID, sessionName)
}

// ListInstances returns every instance across tenants.
func (s *SQLiteStore) ListInstances(ctx context.Context) ([]Instance, error) {
	return s.Instances.List(ctx, "")
}

// UpdateInstanceStatus writes the canonical state and QR/phone changes.
func (s *SQLiteStore) UpdateInstanceStatus(ctx context.Context, instanceID string, u InstanceUpdate) error {
	return s.Instances.UpdateStatus(ctx, instanceID, u)
}

// DeleteInstance removes an instance and, by cascade, its conversations,
// messages, chatbots and transition history.
func (s *SQLiteStore) DeleteInstance(ctx context.Context, instanceID string) error {
	return s.Instances.Delete(ctx, instanceID)
}

// FindOrCreateConversation resolves the conversation keyed by instance and
// normalized contact address.
func (s *SQLiteStore) FindOrCreateConversation(ctx context.Context, instanceID, address, name string) (*Conversation, bool, error) {
	return s.Conversations.FindOrCreate(ctx, instanceID, address, name)
}

// SaveMessage persists a message.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *Message) error {
	return s.Messages.Save(ctx, msg)
}

// LogTransition appends a state transition to the instance history.
func (s *SQLiteStore) LogTransition(ctx context.Context, instanceID string, from, to state.State, trigger string) error {
	return s.Transitions.Log(ctx, instanceID, from, to, trigger)
}

// ActiveChatbotCount returns the number of active bots configured for a tenant.
func (s *SQLiteStore) ActiveChatbotCount(ctx context.Context, tenantID string) (int, error) {
	return s.Chatbots.CountActive(ctx, tenantID)
}

// ActiveChatbots returns the active bots of a tenant in creation order.
func (s *SQLiteStore) ActiveChatbots(ctx context.Context, tenantID string) ([]Chatbot, error) {
	return s.Chatbots.ListActive(ctx, tenantID)
}

// ClearExpiredQR drops QR codes issued before the cutoff.
func (s *SQLiteStore) ClearExpiredQR(ctx context.Context, before time.Time) (int64, error) {
	return s.Instances.ClearExpiredQR(ctx, before)
}

// PruneTransitions deletes transition history older than the cutoff.
func (s *SQLiteStore) PruneTransitions(ctx context.Context, before time.Time) (int64, error) {
	return s.Transitions.Prune(ctx, before)
}

// AssignChatbot records which bot handled a conversation.
func (s *SQLiteStore) AssignChatbot(ctx context.Context, conversationID, chatbotID string) error {
	return s.Conversations.AssignChatbot(ctx, conversationID, chatbotID)
}

// LastTransition returns the most recent transition of an instance.
func (s *SQLiteStore) LastTransition(ctx context.Context, instanceID string) (*Transition, error) {
	history, err := s.Transitions.History(ctx, instanceID, 1)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, ErrNotFound
	}
	return &history[0], nil
}
