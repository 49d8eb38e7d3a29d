package api

import (
	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/internal/store"
	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/pkg/mcp"
)

// Tool name constants
const (
	// Sessions (7)
	ToolConnectSession     = "connect_session"
	ToolDisconnectSession  = "disconnect_session"
	ToolRestartSession     = "restart_session"
	ToolDeleteSession      = "delete_session"
	ToolGetSessionStatus   = "get_session_status"
	ToolListActiveSessions = "list_active_sessions"
	ToolGetSessionsInfo    = "get_sessions_info"

	// Messaging (3)
	ToolSendMessage = "send_message"
	ToolSendTyping  = "send_typing"
	ToolMarkSeen    = "mark_seen"

	// Manager (2)
	ToolGetManagerStatus     = "get_manager_status"
	ToolGetConnectionHistory = "get_connection_history"

	// Chatbots (3)
	ToolCreateChatbot   = "create_chatbot"
	ToolListChatbots    = "list_chatbots"
	ToolSetHumanHandled = "set_human_handled"
)

// sessionProps are the arguments naming one session.
func sessionProps(extra map[string]interface{}) map[string]interface{} {
	props := map[string]interface{}{
		"tenant_id":    prop("string", "Tenant that owns the session"),
		"session_name": prop("string", "Session name, unique within the tenant"),
	}
	for k, v := range extra {
		props[k] = v
	}
	return props
}

func sessionSchema(extra map[string]interface{}, required ...string) map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": sessionProps(extra),
		"required":   append([]string{"tenant_id", "session_name"}, required...),
	}
}

// GetAllTools returns all 15 tool definitions.
func GetAllTools() []mcp.Tool {
	return []mcp.Tool{
		// ============ SESSIONS (7) ============
		{
			Name:        ToolConnectSession,
			Description: "Start a WhatsApp session. New sessions report a QR code to scan through get_session_status",
			InputSchema: sessionSchema(map[string]interface{}{
				"reset_credentials": propBool("Discard stored credentials and pair again (default true)"),
			}),
		},
		{
			Name:        ToolDisconnectSession,
			Description: "Close a session's device connection and cancel any pending reconnect",
			InputSchema: sessionSchema(nil),
		},
		{
			Name:        ToolRestartSession,
			Description: "Close and reopen a session keeping its credentials",
			InputSchema: sessionSchema(nil),
		},
		{
			Name:        ToolDeleteSession,
			Description: "Disconnect a session and delete its record and credentials",
			InputSchema: sessionSchema(nil),
		},
		{
			Name:        ToolGetSessionStatus,
			Description: "Get a session's state, QR code and phone number",
			InputSchema: sessionSchema(nil),
		},
		{
			Name:        ToolListActiveSessions,
			Description: "List sessions with a live device connection",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
		{
			Name:        ToolGetSessionsInfo,
			Description: "List every known session with its status",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"tenant_id": prop("string", "Only sessions of this tenant"),
				},
			},
		},

		// ============ MESSAGING (3) ============
		{
			Name:        ToolSendMessage,
			Description: "Send a text or media message from a connected session",
			InputSchema: sessionSchema(map[string]interface{}{
				"to":        prop("string", "Phone number (e.g., +1234567890), chat address or group id"),
				"content":   prop("string", "Message text, or caption for media"),
				"type":      propEnum("Message type (default text)", "text", "image", "document", "audio", "video", "sticker"),
				"media_ref": prop("string", "Local path of the media file for non-text types"),
			}, "to"),
		},
		{
			Name:        ToolSendTyping,
			Description: "Show or clear the typing indicator in a chat",
			InputSchema: sessionSchema(map[string]interface{}{
				"to":     prop("string", "Chat to show typing in"),
				"typing": propBool("true to start typing, false to stop (default true)"),
			}, "to"),
		},
		{
			Name:        ToolMarkSeen,
			Description: "Send a read receipt for a message",
			InputSchema: sessionSchema(map[string]interface{}{
				"chat":       prop("string", "Chat the message belongs to"),
				"message_id": prop("string", "ID of the message"),
			}, "chat", "message_id"),
		},

		// ============ MANAGER (2) ============
		{
			Name:        ToolGetManagerStatus,
			Description: "Get session manager activity: uptime, active sessions, message and reconnect counts",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
		{
			Name:        ToolGetConnectionHistory,
			Description: "Get the state transition history of a session",
			InputSchema: sessionSchema(map[string]interface{}{
				"limit": propInt("Maximum number of transitions to return (default 20)"),
			}),
		},

		// ============ CHATBOTS (3) ============
		{
			Name:        ToolCreateChatbot,
			Description: "Create an automated reply rule for a tenant",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"tenant_id":    prop("string", "Tenant that owns the chatbot"),
					"session_name": prop("string", "Restrict the chatbot to one session (optional)"),
					"name":         prop("string", "Chatbot name"),
					"trigger_type": propEnum("When the chatbot fires",
						store.TriggerKeyword, store.TriggerExactMessage, store.TriggerWelcome, store.TriggerTimeBased),
					"trigger_value":   prop("string", "Keyword or exact message to match"),
					"welcome_message": prop("string", "Reply to send when the chatbot fires"),
					"active":          propBool("Whether the chatbot is active (default true)"),
				},
				"required": []string{"tenant_id", "name", "trigger_type"},
			},
		},
		{
			Name:        ToolListChatbots,
			Description: "List a tenant's chatbots",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"tenant_id": prop("string", "Tenant that owns the chatbots"),
				},
				"required": []string{"tenant_id"},
			},
		},
		{
			Name:        ToolSetHumanHandled,
			Description: "Hand a conversation to a human agent, or back to the chatbots",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"conversation_id": prop("string", "ID of the conversation"),
					"handled":         propBool("true while a human handles the conversation (default true)"),
				},
				"required": []string{"conversation_id"},
			},
		},
	}
}

// Helper functions for building schemas

func prop(typ, description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        typ,
		"description": description,
	}
}

func propEnum(description string, values ...string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": description,
		"enum":        values,
	}
}

func propInt(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "integer",
		"description": description,
	}
}

func propBool(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "boolean",
		"description": description,
	}
}
