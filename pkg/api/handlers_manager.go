package api

import (
	"context"
	"errors"

	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/internal/store"
	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/pkg/mcp"
)

// Manager tool handlers

func (h *Handler) handleGetManagerStatus(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
	if h.health == nil {
		return h.successResult(map[string]interface{}{
			"active_sessions": len(h.sessions.ActiveSessions()),
		})
	}
	return h.successResult(h.health.GetStatus())
}

func (h *Handler) handleGetConnectionHistory(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
	id, bad := identity(args)
	if bad != nil {
		return h.errorResult(bad)
	}
	limit := getInt(args, "limit", 20)

	inst, err := h.store.Instances.Get(ctx, id.TenantID, id.SessionName)
	if errors.Is(err, store.ErrNotFound) {
		return h.errorResult(NewNotFoundError("session " + id.String()))
	}
	if err != nil {
		return h.errorResult(NewInternalError(err))
	}

	history, err := h.store.Transitions.History(ctx, inst.ID, limit)
	if err != nil {
		return h.errorResult(NewInternalError(err))
	}
	return h.successResult(history)
}
