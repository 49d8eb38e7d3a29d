package api

import (
	"context"
	"errors"
	"fmt"

	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/internal/store"
	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/pkg/mcp"
)

// Chatbot tool handlers

func (h *Handler) handleCreateChatbot(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
	bot := &store.Chatbot{
		TenantID:       getString(args, "tenant_id"),
		Name:           getString(args, "name"),
		IsActive:       getBool(args, "active", true),
		TriggerType:    getString(args, "trigger_type"),
		TriggerValue:   getString(args, "trigger_value"),
		WelcomeMessage: getString(args, "welcome_message"),
	}
	if bot.TenantID == "" || bot.Name == "" {
		return h.errorResult(NewInvalidInputError("tenant_id and name are required"))
	}

	switch bot.TriggerType {
	case store.TriggerKeyword, store.TriggerExactMessage:
		if bot.TriggerValue == "" {
			return h.errorResult(NewInvalidInputError(fmt.Sprintf("trigger_value is required for %s chatbots", bot.TriggerType)))
		}
	case store.TriggerWelcome, store.TriggerTimeBased:
	default:
		return h.errorResult(NewInvalidInputError(fmt.Sprintf("unknown trigger_type %q", bot.TriggerType)))
	}

	if sessionName := getString(args, "session_name"); sessionName != "" {
		inst, err := h.store.Instances.Get(ctx, bot.TenantID, sessionName)
		if errors.Is(err, store.ErrNotFound) {
			return h.errorResult(NewNotFoundError("session " + bot.TenantID + "/" + sessionName))
		}
		if err != nil {
			return h.errorResult(NewInternalError(err))
		}
		bot.InstanceID = inst.ID
	}

	if err := h.store.Chatbots.Create(ctx, bot); err != nil {
		return h.errorResult(NewInternalError(err))
	}
	return h.successResult(bot)
}

func (h *Handler) handleListChatbots(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
	tenantID := getString(args, "tenant_id")
	if tenantID == "" {
		return h.errorResult(NewInvalidInputError("tenant_id is required"))
	}

	bots, err := h.store.Chatbots.List(ctx, tenantID)
	if err != nil {
		return h.errorResult(NewInternalError(err))
	}
	if bots == nil {
		bots = []store.Chatbot{}
	}
	return h.successResult(bots)
}

func (h *Handler) handleSetHumanHandled(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
	conversationID := getString(args, "conversation_id")
	if conversationID == "" {
		return h.errorResult(NewInvalidInputError("conversation_id is required"))
	}
	handled := getBool(args, "handled", true)

	if err := h.store.Conversations.SetHumanHandled(ctx, conversationID, handled); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return h.errorResult(NewNotFoundError("conversation " + conversationID))
		}
		return h.errorResult(NewInternalError(err))
	}
	return h.successResult(map[string]interface{}{
		"success":         true,
		"conversation_id": conversationID,
		"human_handled":   handled,
	})
}
