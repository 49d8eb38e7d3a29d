package api

import (
	"context"

	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/internal/device"
	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/internal/session"
	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/pkg/mcp"
)

// Messaging tool handlers

func (h *Handler) handleSendMessage(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
	id, bad := identity(args)
	if bad != nil {
		return h.errorResult(bad)
	}

	to := getString(args, "to")
	if to == "" {
		return h.errorResult(NewInvalidInputError("to is required"))
	}

	receipt, err := h.sessions.Send(ctx, id, session.SendRequest{
		To:       to,
		Content:  getString(args, "content"),
		Type:     device.MessageType(getString(args, "type")),
		MediaRef: getString(args, "media_ref"),
	})
	if err != nil {
		return h.failure(err)
	}
	return h.successResult(receipt)
}

func (h *Handler) handleSendTyping(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
	id, bad := identity(args)
	if bad != nil {
		return h.errorResult(bad)
	}

	to := getString(args, "to")
	if to == "" {
		return h.errorResult(NewInvalidInputError("to is required"))
	}
	typing := getBool(args, "typing", true)

	if err := h.sessions.SendTyping(ctx, id, to, typing); err != nil {
		return h.failure(err)
	}
	return h.successResult(map[string]interface{}{
		"success": true,
		"typing":  typing,
	})
}

func (h *Handler) handleMarkSeen(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
	id, bad := identity(args)
	if bad != nil {
		return h.errorResult(bad)
	}

	chat := getString(args, "chat")
	messageID := getString(args, "message_id")
	if chat == "" || messageID == "" {
		return h.errorResult(NewInvalidInputError("chat and message_id are required"))
	}

	if err := h.sessions.MarkSeen(ctx, id, chat, messageID); err != nil {
		return h.failure(err)
	}
	return h.successResult(map[string]interface{}{
		"success":    true,
		"message_id": messageID,
	})
}
