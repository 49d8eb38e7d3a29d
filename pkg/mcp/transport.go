package mcp

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// ErrMalformed is returned by ReadMessage for a line that is not a JSON-RPC
// message. The stream stays usable.
var ErrMalformed = errors.New("malformed message")

// Transport frames JSON-RPC messages as newline-delimited JSON. Reads must
// come from one goroutine; writes may come from any.
type Transport struct {
	reader *bufio.Reader
	log    *slog.Logger

	mu     sync.Mutex
	writer io.Writer
}

// NewTransport wraps a reader and writer pair, normally stdin and stdout.
func NewTransport(reader io.Reader, writer io.Writer, log *slog.Logger) *Transport {
	return &Transport{
		reader: bufio.NewReader(reader),
		writer: writer,
		log:    log,
	}
}

// ReadMessage reads one newline-delimited JSON-RPC message. Blank lines are
// skipped.
func (t *Transport) ReadMessage() (*Request, error) {
	for {
		line, err := t.reader.ReadBytes('\n')
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			if err == nil {
				continue
			}
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("failed to read message: %w", err)
		}

		t.log.Debug("received message", "raw", string(line))

		var req Request
		if jsonErr := json.Unmarshal(line, &req); jsonErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, jsonErr)
		}
		return &req, nil
	}
}

// SendResult answers request id with result.
func (t *Transport) SendResult(id interface{}, result interface{}) error {
	return t.writeLine(&Response{JSONRPC: jsonrpcVersion, ID: id, Result: result})
}

// SendError answers request id with a JSON-RPC error. id is nil when the
// request could not be parsed.
func (t *Transport) SendError(id interface{}, code int, message string, data interface{}) error {
	return t.writeLine(&Response{
		JSONRPC: jsonrpcVersion,
		ID:      id,
		Error:   &Error{Code: code, Message: message, Data: data},
	})
}

// SendNotification writes a request without an id.
func (t *Transport) SendNotification(method string, params interface{}) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}
	return t.writeLine(&Request{JSONRPC: jsonrpcVersion, Method: method, Params: raw})
}

// writeLine encodes msg and writes it with its trailing newline in a single
// call, so concurrent senders never interleave.
func (t *Transport) writeLine(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	data = append(data, '\n')

	t.mu.Lock()
	defer t.mu.Unlock()

	t.log.Debug("sending message", "raw", string(data[:len(data)-1]))
	if _, err := t.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}
