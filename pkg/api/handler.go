package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/internal/device"
	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/internal/health"
	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/internal/session"
	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/internal/store"
	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/pkg/mcp"
)

// Sessions defines the session manager operations the tools call.
type Sessions interface {
	// Lifecycle
	CreateSession(ctx context.Context, id device.Identity, opts session.CreateOptions) error
	DestroySession(ctx context.Context, id device.Identity) error
	RestartSession(ctx context.Context, id device.Identity) error
	RemoveSession(ctx context.Context, id device.Identity) error

	// Status
	Status(ctx context.Context, id device.Identity) (*session.Status, error)
	ActiveSessions() []device.Identity
	SessionsInfo(ctx context.Context) ([]session.Status, error)

	// Messaging
	Send(ctx context.Context, id device.Identity, req session.SendRequest) (*session.Receipt, error)
	SendTyping(ctx context.Context, id device.Identity, to string, typing bool) error
	MarkSeen(ctx context.Context, id device.Identity, chat, messageID string) error
}

var _ Sessions = (*session.Controller)(nil)

// Handler implements the MCP ToolHandler interface.
type Handler struct {
	store    *store.SQLiteStore
	health   *health.Monitor
	sessions Sessions
}

// NewHandler creates a new tool handler.
func NewHandler(storeDB *store.SQLiteStore, health *health.Monitor, sessions Sessions) *Handler {
	return &Handler{
		store:    storeDB,
		health:   health,
		sessions: sessions,
	}
}

// GetTools returns all available tool definitions.
func (h *Handler) GetTools() []mcp.Tool {
	return GetAllTools()
}

// HandleTool handles a tool invocation and returns the result.
func (h *Handler) HandleTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	switch name {
	// Sessions
	case ToolConnectSession:
		return h.handleConnectSession(ctx, args)
	case ToolDisconnectSession:
		return h.handleDisconnectSession(ctx, args)
	case ToolRestartSession:
		return h.handleRestartSession(ctx, args)
	case ToolDeleteSession:
		return h.handleDeleteSession(ctx, args)
	case ToolGetSessionStatus:
		return h.handleGetSessionStatus(ctx, args)
	case ToolListActiveSessions:
		return h.handleListActiveSessions(ctx, args)
	case ToolGetSessionsInfo:
		return h.handleGetSessionsInfo(ctx, args)

	// Messaging
	case ToolSendMessage:
		return h.handleSendMessage(ctx, args)
	case ToolSendTyping:
		return h.handleSendTyping(ctx, args)
	case ToolMarkSeen:
		return h.handleMarkSeen(ctx, args)

	// Manager
	case ToolGetManagerStatus:
		return h.handleGetManagerStatus(ctx, args)
	case ToolGetConnectionHistory:
		return h.handleGetConnectionHistory(ctx, args)

	// Chatbots
	case ToolCreateChatbot:
		return h.handleCreateChatbot(ctx, args)
	case ToolListChatbots:
		return h.handleListChatbots(ctx, args)
	case ToolSetHumanHandled:
		return h.handleSetHumanHandled(ctx, args)

	default:
		return h.errorResult(NewInvalidInputError(fmt.Sprintf("Unknown tool: %s", name)))
	}
}

// Helper methods

func (h *Handler) successResult(data interface{}) (*mcp.CallToolResult, error) {
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, NewInternalError(err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.ContentBlock{mcp.TextContent(string(jsonData))},
	}, nil
}

func (h *Handler) errorResult(err *MCPError) (*mcp.CallToolResult, error) {
	return &mcp.CallToolResult{
		Content: []mcp.ContentBlock{mcp.TextContent(err.JSON())},
		IsError: true,
	}, nil
}

// failure maps err to a structured tool error.
func (h *Handler) failure(err error) (*mcp.CallToolResult, error) {
	return h.errorResult(toMCPError(err))
}

// identity reads tenant_id and session_name.
func identity(args map[string]interface{}) (device.Identity, *MCPError) {
	id := device.Identity{
		TenantID:    strings.TrimSpace(getString(args, "tenant_id")),
		SessionName: strings.TrimSpace(getString(args, "session_name")),
	}
	if err := id.Validate(); err != nil {
		return id, NewInvalidInputError(err.Error())
	}
	return id, nil
}

func getString(args map[string]interface{}, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func getInt(args map[string]interface{}, key string, defaultVal int) int {
	if v, ok := args[key].(float64); ok {
		return int(v)
	}
	if v, ok := args[key].(int); ok {
		return v
	}
	return defaultVal
}

func getBool(args map[string]interface{}, key string, defaultVal bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return defaultVal
}
