package api

import (
	"context"

	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/internal/device"
	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/internal/session"
	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/pkg/mcp"
)

// Session tool handlers

func (h *Handler) handleConnectSession(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
	id, bad := identity(args)
	if bad != nil {
		return h.errorResult(bad)
	}

	if _, err := h.store.Instances.Ensure(ctx, id.TenantID, id.SessionName); err != nil {
		return h.errorResult(NewInternalError(err))
	}

	opts := session.CreateOptions{FreshCredentials: getBool(args, "reset_credentials", true)}
	if err := h.sessions.CreateSession(ctx, id, opts); err != nil {
		return h.failure(err)
	}
	return h.sessionStatus(ctx, id)
}

func (h *Handler) handleDisconnectSession(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
	id, bad := identity(args)
	if bad != nil {
		return h.errorResult(bad)
	}

	if err := h.sessions.DestroySession(ctx, id); err != nil {
		return h.failure(err)
	}
	return h.successResult(map[string]interface{}{
		"success": true,
		"session": id.String(),
	})
}

func (h *Handler) handleRestartSession(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
	id, bad := identity(args)
	if bad != nil {
		return h.errorResult(bad)
	}

	if err := h.sessions.RestartSession(ctx, id); err != nil {
		return h.failure(err)
	}
	return h.sessionStatus(ctx, id)
}

func (h *Handler) handleDeleteSession(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
	id, bad := identity(args)
	if bad != nil {
		return h.errorResult(bad)
	}

	if err := h.sessions.RemoveSession(ctx, id); err != nil {
		return h.failure(err)
	}
	return h.successResult(map[string]interface{}{
		"success": true,
		"deleted": id.String(),
	})
}

func (h *Handler) handleGetSessionStatus(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
	id, bad := identity(args)
	if bad != nil {
		return h.errorResult(bad)
	}
	return h.sessionStatus(ctx, id)
}

func (h *Handler) handleListActiveSessions(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
	ids := h.sessions.ActiveSessions()

	type activeSession struct {
		TenantID    string `json:"tenantId"`
		SessionName string `json:"sessionName"`
	}
	out := make([]activeSession, 0, len(ids))
	for _, id := range ids {
		out = append(out, activeSession{TenantID: id.TenantID, SessionName: id.SessionName})
	}
	return h.successResult(out)
}

func (h *Handler) handleGetSessionsInfo(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
	tenantID := getString(args, "tenant_id")

	infos, err := h.sessions.SessionsInfo(ctx)
	if err != nil {
		return h.failure(err)
	}

	out := make([]session.Status, 0, len(infos))
	for _, info := range infos {
		if tenantID == "" || info.TenantID == tenantID {
			out = append(out, info)
		}
	}
	return h.successResult(out)
}

func (h *Handler) sessionStatus(ctx context.Context, id device.Identity) (*mcp.CallToolResult, error) {
	st, err := h.sessions.Status(ctx, id)
	if err != nil {
		return h.failure(err)
	}
	return h.successResult(st)
}
