package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/internal/device"
	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/internal/notify"
	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/internal/state"
	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/internal/store"
)

const (
	userSuffix  = "@c.us"
	groupSuffix = "@g.us"
)

// SendRequest is an outbound message.
type SendRequest struct {
	To      string
	Content string
	Type    device.MessageType
	// MediaRef is a local file path, required for media types.
	MediaRef string
	FromBot  bool
}

// Receipt describes a sent message.
type Receipt struct {
	MessageID      string    `json:"messageId"`
	To             string    `json:"to"`
	ConversationID string    `json:"conversationId,omitempty"`
	SentAt         time.Time `json:"sentAt"`
}

// Normalize turns a phone number or address into a chat address. Group
// addresses pass through; anything else is reduced to its digits with the
// user suffix appended.
func Normalize(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if strings.HasSuffix(addr, groupSuffix) {
		return addr, nil
	}
	if i := strings.IndexByte(addr, '@'); i >= 0 {
		addr = addr[:i]
	}

	var b strings.Builder
	for _, r := range addr {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("invalid address %q", addr)
	}
	return b.String() + userSuffix, nil
}

// Send delivers a message through the session's live handle and records it
// in the conversation. The session must be Connected with a live handle,
// otherwise ErrSessionNotConnected is returned without touching the
// provider.
func (c *Controller) Send(ctx context.Context, id device.Identity, req SendRequest) (*Receipt, error) {
	h, inst, err := c.connectedHandle(ctx, id)
	if err != nil {
		return nil, err
	}
	to, err := validateSend(&req)
	if err != nil {
		return nil, err
	}

	limiter := c.registry.limiter(id, rate.Limit(c.cfg.SendRateLimit), c.cfg.SendBurst)
	if err := limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("send rate limit: %w", err)
	}

	var msgID string
	if req.Type.IsMedia() {
		msgID, err = h.SendMedia(ctx, to, device.Media{Type: req.Type, Path: req.MediaRef, Caption: req.Content})
	} else {
		msgID, err = h.SendText(ctx, to, req.Content)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}

	receipt := &Receipt{MessageID: msgID, To: to, SentAt: time.Now().UTC()}
	c.metrics.MessageRecorded(store.DirectionOutbound)

	conv, _, err := c.store.FindOrCreateConversation(ctx, inst.ID, to, "")
	if err != nil {
		c.log.Error("failed to record outbound conversation", "session", id.String(), "error", err)
		return receipt, nil
	}
	receipt.ConversationID = conv.ID

	msg := &store.Message{
		ConversationID: conv.ID,
		Content:        req.Content,
		Direction:      store.DirectionOutbound,
		Type:           string(req.Type),
		ExternalID:     msgID,
		FromBot:        req.FromBot,
		Timestamp:      receipt.SentAt,
	}
	if err := c.store.SaveMessage(ctx, msg); err != nil {
		c.log.Error("failed to record outbound message", "session", id.String(), "error", err)
	}
	return receipt, nil
}

// SendTyping sets or clears the typing indicator in a chat.
func (c *Controller) SendTyping(ctx context.Context, id device.Identity, to string, typing bool) error {
	h, _, err := c.connectedHandle(ctx, id)
	if err != nil {
		return err
	}
	addr, err := Normalize(to)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidationFailure, err)
	}
	return h.SendTyping(ctx, addr, typing)
}

// MarkSeen marks a received message as read.
func (c *Controller) MarkSeen(ctx context.Context, id device.Identity, chat, messageID string) error {
	h, _, err := c.connectedHandle(ctx, id)
	if err != nil {
		return err
	}
	addr, err := Normalize(chat)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidationFailure, err)
	}
	if messageID == "" {
		return fmt.Errorf("%w: message id is required", ErrValidationFailure)
	}
	return h.MarkSeen(ctx, addr, messageID)
}

// connectedHandle returns the live handle of a session whose persisted
// state is Connected.
func (c *Controller) connectedHandle(ctx context.Context, id device.Identity) (device.Handle, *store.Instance, error) {
	if err := id.Validate(); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrValidationFailure, err)
	}
	e := c.registry.peek(id)
	if e == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrSessionNotConnected, id)
	}

	e.op.Lock()
	h, live := c.registry.Lookup(id)
	inst, err := c.store.GetInstance(ctx, id.TenantID, id.SessionName)
	e.op.Unlock()

	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, nil, fmt.Errorf("failed to load instance: %w", err)
	}
	if !live || inst == nil || inst.Status != state.StateConnected {
		return nil, nil, fmt.Errorf("%w: %s", ErrSessionNotConnected, id)
	}
	return h, inst, nil
}

func validateSend(req *SendRequest) (string, error) {
	if req.Type == "" {
		req.Type = device.MessageText
	}
	if !req.Type.Valid() {
		return "", fmt.Errorf("%w: unsupported message type %q", ErrValidationFailure, req.Type)
	}
	to, err := Normalize(req.To)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrValidationFailure, err)
	}

	if !req.Type.IsMedia() {
		if strings.TrimSpace(req.Content) == "" {
			return "", fmt.Errorf("%w: message content is empty", ErrValidationFailure)
		}
		return to, nil
	}
	if req.MediaRef == "" {
		return "", fmt.Errorf("%w: %s message requires a media reference", ErrValidationFailure, req.Type)
	}
	info, err := os.Stat(req.MediaRef)
	if err != nil || info.IsDir() {
		return "", fmt.Errorf("%w: media %q is not a readable file", ErrValidationFailure, req.MediaRef)
	}
	return to, nil
}

// Receive records an inbound message in its conversation, notifies the
// tenant and, unless a human handles the conversation, hands it to the
// chatbot evaluator.
func (c *Controller) Receive(ctx context.Context, id device.Identity, in device.MessagePayload) error {
	inst, conv, created, err := c.recordInbound(ctx, id, in)
	if err != nil {
		return err
	}

	if conv.HumanHandled || c.evaluator == nil {
		return nil
	}
	n, err := c.store.ActiveChatbotCount(ctx, id.TenantID)
	if err != nil {
		return fmt.Errorf("failed to count chatbots: %w", err)
	}
	if n == 0 {
		return nil
	}

	msgType := in.Type
	if msgType == "" {
		msgType = device.MessageText
	}
	inbound := Inbound{
		Identity:  id,
		MessageID: in.ID,
		From:      conv.ContactAddress,
		PushName:  in.PushName,
		Body:      in.Body,
		Type:      msgType,
		IsGroup:   in.IsGroup,
		Timestamp: in.Timestamp,
	}
	cc := ConversationContext{
		TenantID:       id.TenantID,
		InstanceID:     inst.ID,
		ConversationID: conv.ID,
		ContactAddress: conv.ContactAddress,
		IsNew:          created,
	}
	if err := c.evaluator.Evaluate(ctx, inbound, cc, c); err != nil {
		return fmt.Errorf("chatbot evaluation: %w", err)
	}
	return nil
}

func (c *Controller) recordInbound(ctx context.Context, id device.Identity, in device.MessagePayload) (*store.Instance, *store.Conversation, bool, error) {
	unlock := c.registry.Lock(id)
	defer unlock()

	inst, err := c.store.GetInstance(ctx, id.TenantID, id.SessionName)
	if err != nil {
		return nil, nil, false, fmt.Errorf("failed to resolve instance: %w", err)
	}
	addr, err := Normalize(in.From)
	if err != nil {
		return nil, nil, false, fmt.Errorf("%w: sender: %v", ErrValidationFailure, err)
	}

	conv, created, err := c.store.FindOrCreateConversation(ctx, inst.ID, addr, in.PushName)
	if err != nil {
		return nil, nil, false, fmt.Errorf("failed to find conversation: %w", err)
	}

	ts := in.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	msgType := in.Type
	if msgType == "" {
		msgType = device.MessageText
	}
	msg := &store.Message{
		ConversationID: conv.ID,
		Content:        in.Body,
		Direction:      store.DirectionInbound,
		Type:           string(msgType),
		ExternalID:     in.ID,
		Timestamp:      ts,
	}
	if err := c.store.SaveMessage(ctx, msg); err != nil {
		return nil, nil, false, fmt.Errorf("failed to save message: %w", err)
	}
	c.metrics.MessageRecorded(store.DirectionInbound)

	c.notifier.Broadcast(id.TenantID, notify.EventNewMessage, notify.MessagePayload{
		ConversationID: conv.ID,
		SessionName:    id.SessionName,
		From:           addr,
		Message:        *msg,
	})
	return inst, conv, created, nil
}
