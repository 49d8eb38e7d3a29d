package device

import (
	"time"
)

// EventType represents the type of device session event.
type EventType int

const (
	EventQRCode EventType = iota
	EventStatus
	EventStateChange
	EventMessage
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventQRCode:
		return "qr_code"
	case EventStatus:
		return "status"
	case EventStateChange:
		return "state_change"
	case EventMessage:
		return "message"
	default:
		return "unknown"
	}
}

// Event is pushed by a provider for one session.
type Event struct {
	Type      EventType
	Payload   interface{}
	Timestamp time.Time
}

// NewEvent creates a new event with the current timestamp.
func NewEvent(t EventType, payload interface{}) Event {
	return Event{
		Type:      t,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}

// Sink receives events from a provider.
type Sink interface {
	Emit(evt Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

// Emit calls f(evt).
func (f SinkFunc) Emit(evt Event) { f(evt) }

// QRCodePayload carries a QR code to be scanned.
type QRCodePayload struct {
	// Data is a base64-encoded PNG.
	Data    string
	Attempt int
}

// StatusPayload carries a raw provider status code.
type StatusPayload struct {
	Status string
}

// StateChangePayload carries a raw provider connection-state code.
type StateChangePayload struct {
	State string
}

// MessagePayload is an inbound message.
type MessagePayload struct {
	ID        string
	From      string
	PushName  string
	Body      string
	Type      MessageType
	IsGroup   bool
	HasMedia  bool
	Timestamp time.Time
}
