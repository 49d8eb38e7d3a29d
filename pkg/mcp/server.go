package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
)

// ToolHandler is the interface for handling tool calls.
type ToolHandler interface {
	GetTools() []Tool
	HandleTool(ctx context.Context, name string, args map[string]interface{}) (*CallToolResult, error)
}

// ResourceHandler is implemented by tool handlers that also expose
// resources.
type ResourceHandler interface {
	ListResources(ctx context.Context) ([]Resource, error)
	// ReadResource returns nil, nil for an unknown URI.
	ReadResource(ctx context.Context, uri string) (*ReadResourceResult, error)
}

// ErrNotInitialized is returned by Notify before the client finished the
// handshake.
var ErrNotInitialized = errors.New("client not initialized")

// Server is the MCP server that handles protocol messages.
type Server struct {
	transport   *Transport
	handler     ToolHandler
	log         *slog.Logger
	initialized atomic.Bool
	methods     map[string]methodFunc

	serverInfo Implementation
}

type methodFunc func(ctx context.Context, req *Request) error

// NewServer creates a new MCP server.
func NewServer(reader io.Reader, writer io.Writer, handler ToolHandler, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		transport: NewTransport(reader, writer, log),
		handler:   handler,
		log:       log.With("component", "mcp"),
		serverInfo: Implementation{
			Name:    "whatsapp-session-manager",
			Version: "1.0.0",
		},
	}
	s.methods = map[string]methodFunc{
		"initialize":                s.handleInitialize,
		"initialized":               s.handleInitialized,
		"notifications/initialized": s.handleInitialized,
		"ping":                      s.handlePing,
		"tools/list":                s.handleToolsList,
		"tools/call":                s.handleToolsCall,
		"resources/list":            s.handleResourcesList,
		"resources/read":            s.handleResourcesRead,
	}
	return s
}

// Run starts the server message loop. It returns nil when the client closes
// the input stream.
func (s *Server) Run(ctx context.Context) error {
	s.log.Info("MCP server starting")

	for {
		select {
		case <-ctx.Done():
			s.log.Info("MCP server shutting down")
			return ctx.Err()
		default:
		}

		req, err := s.transport.ReadMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.log.Info("Client disconnected")
				return nil
			}
			if errors.Is(err, ErrMalformed) {
				s.log.Warn("Malformed message", "error", err)
				if sendErr := s.transport.SendError(nil, ParseError, "Parse error", nil); sendErr != nil {
					return sendErr
				}
				continue
			}
			return err
		}

		if err := s.handleRequest(ctx, req); err != nil {
			s.log.Error("Failed to handle request", "method", req.Method, "error", err)
		}
	}
}

// Notify pushes a notifications/message event to the client.
func (s *Server) Notify(logger string, data interface{}) error {
	if !s.initialized.Load() {
		return ErrNotInitialized
	}
	return s.transport.SendNotification(MethodLogMessage, LogMessageParams{
		Level:  "info",
		Logger: logger,
		Data:   data,
	})
}

func (s *Server) handleRequest(ctx context.Context, req *Request) error {
	s.log.Debug("handling request", "method", req.Method, "id", req.ID)

	if fn, ok := s.methods[req.Method]; ok {
		return fn(ctx, req)
	}
	if req.ID == nil {
		// Unknown notifications are ignored.
		return nil
	}
	return s.transport.SendError(req.ID, MethodNotFound, fmt.Sprintf("Unknown method: %s", req.Method), nil)
}

func (s *Server) handleInitialized(context.Context, *Request) error {
	s.initialized.Store(true)
	s.log.Info("Client initialized")
	return nil
}

func (s *Server) handlePing(_ context.Context, req *Request) error {
	return s.transport.SendResult(req.ID, map[string]interface{}{})
}

func (s *Server) handleInitialize(_ context.Context, req *Request) error {
	var params InitializeParams
	if req.Params != nil {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return s.transport.SendError(req.ID, InvalidParams, "Invalid initialize params", nil)
		}
	}

	s.log.Info("Client initializing",
		"client", params.ClientInfo.Name,
		"version", params.ClientInfo.Version,
		"protocol", params.ProtocolVersion,
	)

	_, resources := s.handler.(ResourceHandler)
	caps := ServerCapabilities{
		Tools:   &ToolsCapability{},
		Logging: &LoggingCapability{},
	}
	if resources {
		caps.Resources = &ResourcesCapability{}
	}

	return s.transport.SendResult(req.ID, InitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    caps,
		ServerInfo:      s.serverInfo,
	})
}

func (s *Server) handleToolsList(_ context.Context, req *Request) error {
	return s.transport.SendResult(req.ID, ListToolsResult{Tools: s.handler.GetTools()})
}

func (s *Server) handleToolsCall(ctx context.Context, req *Request) error {
	var params CallToolParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return s.transport.SendError(req.ID, InvalidParams, "Invalid tool call params", nil)
	}

	s.log.Info("Tool call", "name", params.Name)

	result, err := s.handler.HandleTool(ctx, params.Name, params.Arguments)
	if err != nil {
		s.log.Error("Tool call failed", "name", params.Name, "error", err)
		// Return error as tool result, not JSON-RPC error
		return s.transport.SendResult(req.ID, &CallToolResult{
			Content: []ContentBlock{TextContent(fmt.Sprintf("Error: %s", err.Error()))},
			IsError: true,
		})
	}

	return s.transport.SendResult(req.ID, result)
}

func (s *Server) handleResourcesList(ctx context.Context, req *Request) error {
	rh, ok := s.handler.(ResourceHandler)
	if !ok {
		return s.transport.SendResult(req.ID, ListResourcesResult{Resources: []Resource{}})
	}

	resources, err := rh.ListResources(ctx)
	if err != nil {
		return s.transport.SendError(req.ID, InternalError, err.Error(), nil)
	}
	if resources == nil {
		resources = []Resource{}
	}
	return s.transport.SendResult(req.ID, ListResourcesResult{Resources: resources})
}

func (s *Server) handleResourcesRead(ctx context.Context, req *Request) error {
	var params ReadResourceParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return s.transport.SendError(req.ID, InvalidParams, "Invalid resource read params", nil)
	}

	notFound := fmt.Sprintf("Resource not found: %s", params.URI)
	rh, ok := s.handler.(ResourceHandler)
	if !ok {
		return s.transport.SendError(req.ID, ResourceNotFound, notFound, nil)
	}

	result, err := rh.ReadResource(ctx, params.URI)
	if err != nil {
		return s.transport.SendError(req.ID, InternalError, err.Error(), nil)
	}
	if result == nil {
		return s.transport.SendError(req.ID, ResourceNotFound, notFound, nil)
	}
	return s.transport.SendResult(req.ID, result)
}
