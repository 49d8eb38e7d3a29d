// Package device defines the contract between the session manager and a
// device session provider: the live handle, the provider factory, and the
// events a provider pushes back.
package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Identity names one logical WhatsApp connection. It is comparable and used
// as the registry key.
type Identity struct {
	SessionName string
	TenantID    string
}

// String returns "tenant/session".
func (id Identity) String() string {
	return id.TenantID + "/" + id.SessionName
}

// Validate checks that both parts are set and safe to use as path segments.
func (id Identity) Validate() error {
	if id.SessionName == "" || id.TenantID == "" {
		return errors.New("session name and tenant id are required")
	}
	for _, part := range []string{id.SessionName, id.TenantID} {
		if part == "." || part == ".." || strings.ContainsAny(part, `/\`) {
			return fmt.Errorf("invalid identity segment %q", part)
		}
	}
	return nil
}

// MessageType is the kind of content carried by a message.
type MessageType string

const (
	MessageText     MessageType = "text"
	MessageImage    MessageType = "image"
	MessageDocument MessageType = "document"
	MessageAudio    MessageType = "audio"
	MessageVideo    MessageType = "video"
	MessageSticker  MessageType = "sticker"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageDocument, MessageAudio, MessageVideo, MessageSticker:
		return true
	default:
		return false
	}
}

// IsMedia returns true for types that need a media reference.
func (t MessageType) IsMedia() bool {
	return t.Valid() && t != MessageText
}

// Media describes an outbound media attachment on local disk.
type Media struct {
	Type    MessageType
	Path    string
	Caption string
}

// Handle is a live device session. It is owned by the lifecycle controller
// and never shared with callers.
type Handle interface {
	SendText(ctx context.Context, to, text string) (string, error)
	SendMedia(ctx context.Context, to string, media Media) (string, error)
	SendTyping(ctx context.Context, to string, typing bool) error
	MarkSeen(ctx context.Context, chat, messageID string) error

	IsConnected() bool
	// Phone returns the logged-in phone number, or "" before login.
	Phone() string
	Close(ctx context.Context) error
}

// Provider creates device sessions.
type Provider interface {
	// Create starts a device session for id. Events for the session are
	// delivered to sink until the handle is closed.
	Create(ctx context.Context, id Identity, sink Sink) (Handle, error)
	// Purge removes on-disk credentials and artifacts for id.
	Purge(id Identity) error
}
