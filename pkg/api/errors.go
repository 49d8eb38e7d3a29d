// Package api exposes the session manager as MCP tools.
package api

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/internal/session"
	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/internal/store"
)

// Error codes
const (
	ErrAlreadyActive   = "ALREADY_ACTIVE"
	ErrNotConnected    = "NOT_CONNECTED"
	ErrProviderFailure = "PROVIDER_FAILURE"
	ErrNotFound        = "NOT_FOUND"
	ErrShuttingDown    = "SHUTTING_DOWN"
	ErrInvalidInput    = "INVALID_INPUT"
	ErrInternal        = "INTERNAL_ERROR"
)

// MCPError represents a structured error for MCP responses.
type MCPError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Retry   bool   `json:"retry"`
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// JSON returns the error as a JSON string.
func (e *MCPError) JSON() string {
	data, _ := json.Marshal(e)
	return string(data)
}

// NewNotFoundError creates an error for not found resources.
func NewNotFoundError(resource string) *MCPError {
	return &MCPError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("Resource not found: %s", resource),
		Retry:   false,
	}
}

// NewInvalidInputError creates an error for invalid input.
func NewInvalidInputError(message string) *MCPError {
	return &MCPError{
		Code:    ErrInvalidInput,
		Message: message,
		Retry:   false,
	}
}

// NewInternalError creates an error for internal errors.
func NewInternalError(err error) *MCPError {
	return &MCPError{
		Code:    ErrInternal,
		Message: fmt.Sprintf("Internal error: %s", err.Error()),
		Retry:   false,
	}
}

// toMCPError maps controller and store errors to tool error codes.
func toMCPError(err error) *MCPError {
	var mcpErr *MCPError
	switch {
	case errors.As(err, &mcpErr):
		return mcpErr
	case errors.Is(err, session.ErrAlreadyActive):
		return &MCPError{Code: ErrAlreadyActive, Message: err.Error()}
	case errors.Is(err, session.ErrSessionNotConnected):
		return &MCPError{Code: ErrNotConnected, Message: err.Error(), Retry: true}
	case errors.Is(err, session.ErrProviderCreateFailure):
		return &MCPError{Code: ErrProviderFailure, Message: err.Error(), Retry: true}
	case errors.Is(err, session.ErrValidationFailure):
		return NewInvalidInputError(err.Error())
	case errors.Is(err, session.ErrUnknownSession), errors.Is(err, store.ErrNotFound):
		return &MCPError{Code: ErrNotFound, Message: err.Error()}
	case errors.Is(err, session.ErrShuttingDown):
		return &MCPError{Code: ErrShuttingDown, Message: err.Error()}
	default:
		return NewInternalError(err)
	}
}
