// Package store provides data persistence for the session manager.
package store

import (
	"time"

	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/internal/state"
)

// Instance is the durable record of one tenant-scoped WhatsApp session.
type Instance struct {
	ID          string      `json:"id"`
	TenantID    string      `json:"tenant_id"`
	SessionName string      `json:"session_name"`
	Status      state.State `json:"status"`
	QRCode      string      `json:"qr_code,omitempty"`
	QRAttempt   int         `json:"qr_attempt,omitempty"`
	QRIssuedAt  *time.Time  `json:"qr_issued_at,omitempty"`
	Phone       string      `json:"phone,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// QRPayload is a QR code awaiting a scan.
type QRPayload struct {
	Data     string
	IssuedAt time.Time
	Attempt  int
}

// InstanceUpdate describes a status write on an instance.
type InstanceUpdate struct {
	Status state.State
	// QR replaces the stored code when set.
	QR      *QRPayload
	ClearQR bool
	// Phone is recorded when non-empty.
	Phone string
}

// Conversation statuses.
const (
	ConversationActive = "active"
	ConversationClosed = "closed"
)

// Conversation is a thread with one contact on one instance.
type Conversation struct {
	ID             string    `json:"id"`
	InstanceID     string    `json:"instance_id"`
	ContactAddress string    `json:"contact_address"`
	ContactName    string    `json:"contact_name,omitempty"`
	Status         string    `json:"status"`
	HumanHandled   bool      `json:"human_handled"`
	ChatbotID      string    `json:"chatbot_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Message directions.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Message is a persisted inbound or outbound message.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Content        string    `json:"content"`
	Direction      string    `json:"direction"`
	Type           string    `json:"type"`
	ExternalID     string    `json:"external_id,omitempty"`
	FromBot        bool      `json:"from_bot"`
	Timestamp      time.Time `json:"timestamp"`
}

// Chatbot trigger types.
const (
	TriggerKeyword      = "keyword"
	TriggerExactMessage = "exact_message"
	TriggerWelcome      = "welcome"
	TriggerTimeBased    = "time_based"
)

// Chatbot is a tenant's rule-based bot configuration.
type Chatbot struct {
	ID             string    `json:"id"`
	TenantID       string    `json:"tenant_id"`
	InstanceID     string    `json:"instance_id"`
	Name           string    `json:"name"`
	IsActive       bool      `json:"is_active"`
	TriggerType    string    `json:"trigger_type"`
	TriggerValue   string    `json:"trigger_value,omitempty"`
	WelcomeMessage string    `json:"welcome_message,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Transition represents a state machine transition record.
type Transition struct {
	ID         int64       `json:"id"`
	InstanceID string      `json:"instance_id"`
	FromState  state.State `json:"from_state"`
	ToState    state.State `json:"to_state"`
	Trigger    string      `json:"trigger"`
	Timestamp  time.Time   `json:"timestamp"`
	Error      string      `json:"error,omitempty"`
}
