package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockHandler implements ToolHandler for testing.
type mockHandler struct {
	tools []Tool
}

func (m *mockHandler) GetTools() []Tool {
	return m.tools
}

func (m *mockHandler) HandleTool(ctx context.Context, name string, args map[string]interface{}) (*CallToolResult, error) {
	return &CallToolResult{
		Content: []ContentBlock{TextContent("mock result for " + name)},
	}, nil
}

// resourceHandler also serves one resource.
type resourceHandler struct {
	mockHandler
}

func (r *resourceHandler) ListResources(context.Context) ([]Resource, error) {
	return []Resource{{URI: "session://acme/support", Name: "acme/support"}}, nil
}

func (r *resourceHandler) ReadResource(_ context.Context, uri string) (*ReadResourceResult, error) {
	if uri != "session://acme/support" {
		return nil, nil
	}
	return &ReadResourceResult{Contents: []ResourceContent{{URI: uri, Text: `{"status":"connected"}`}}}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// run feeds lines to a server and returns every response it wrote.
func run(t *testing.T, handler ToolHandler, lines ...string) []Response {
	t.Helper()

	input := strings.NewReader(strings.Join(lines, "\n") + "\n")
	output := &bytes.Buffer{}
	server := NewServer(input, output, handler, testLogger())
	require.NoError(t, server.Run(context.Background()))

	var responses []Response
	scanner := bufio.NewScanner(output)
	for scanner.Scan() {
		var resp Response
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &resp))
		responses = append(responses, resp)
	}
	return responses
}

func resultMap(t *testing.T, resp Response) map[string]interface{} {
	t.Helper()
	require.Nil(t, resp.Error)
	m, ok := resp.Result.(map[string]interface{})
	require.True(t, ok, "result is %T", resp.Result)
	return m
}

func TestServerInitialize(t *testing.T) {
	responses := run(t, &mockHandler{},
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","clientInfo":{"name":"test","version":"1.0"}}}`,
	)
	require.Len(t, responses, 1)

	result := resultMap(t, responses[0])
	assert.Equal(t, ProtocolVersion, result["protocolVersion"])
	info := result["serverInfo"].(map[string]interface{})
	assert.Equal(t, "whatsapp-session-manager", info["name"])

	caps := result["capabilities"].(map[string]interface{})
	assert.Contains(t, caps, "tools")
	assert.Contains(t, caps, "logging")
	assert.NotContains(t, caps, "resources")
}

func TestServerInitialize_AdvertisesResources(t *testing.T) {
	responses := run(t, &resourceHandler{},
		`{"jsonrpc":"2.0","id":1,"method":"initialize"}`,
	)
	require.Len(t, responses, 1)
	caps := resultMap(t, responses[0])["capabilities"].(map[string]interface{})
	assert.Contains(t, caps, "resources")
}

func TestServerToolsListAndCall(t *testing.T) {
	handler := &mockHandler{tools: []Tool{{Name: "test_tool", Description: "Test tool"}}}
	responses := run(t, handler,
		`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"test_tool","arguments":{}}}`,
	)
	require.Len(t, responses, 2)

	tools := resultMap(t, responses[0])["tools"].([]interface{})
	require.Len(t, tools, 1)
	assert.Equal(t, "test_tool", tools[0].(map[string]interface{})["name"])

	content := resultMap(t, responses[1])["content"].([]interface{})
	assert.Equal(t, "mock result for test_tool", content[0].(map[string]interface{})["text"])
}

func TestServerUnknownMethodAndNotification(t *testing.T) {
	responses := run(t, &mockHandler{},
		`{"jsonrpc":"2.0","id":7,"method":"prompts/list"}`,
		`{"jsonrpc":"2.0","method":"notifications/cancelled"}`,
		`{"jsonrpc":"2.0","id":8,"method":"ping"}`,
	)
	require.Len(t, responses, 2)
	require.NotNil(t, responses[0].Error)
	assert.Equal(t, MethodNotFound, responses[0].Error.Code)
	assert.Nil(t, responses[1].Error)
}

func TestServerMalformedLineKeepsRunning(t *testing.T) {
	responses := run(t, &mockHandler{},
		`{not json`,
		``,
		`{"jsonrpc":"2.0","id":2,"method":"ping"}`,
	)
	require.Len(t, responses, 2)
	require.NotNil(t, responses[0].Error)
	assert.Equal(t, ParseError, responses[0].Error.Code)
	assert.Nil(t, responses[1].Error)
}

func TestServerResources(t *testing.T) {
	responses := run(t, &resourceHandler{},
		`{"jsonrpc":"2.0","id":1,"method":"resources/list"}`,
		`{"jsonrpc":"2.0","id":2,"method":"resources/read","params":{"uri":"session://acme/support"}}`,
		`{"jsonrpc":"2.0","id":3,"method":"resources/read","params":{"uri":"session://acme/ghost"}}`,
	)
	require.Len(t, responses, 3)

	resources := resultMap(t, responses[0])["resources"].([]interface{})
	assert.Len(t, resources, 1)

	contents := resultMap(t, responses[1])["contents"].([]interface{})
	assert.Equal(t, `{"status":"connected"}`, contents[0].(map[string]interface{})["text"])

	require.NotNil(t, responses[2].Error)
	assert.Equal(t, ResourceNotFound, responses[2].Error.Code)
}

func TestServerResources_PlainHandler(t *testing.T) {
	responses := run(t, &mockHandler{},
		`{"jsonrpc":"2.0","id":1,"method":"resources/list"}`,
		`{"jsonrpc":"2.0","id":2,"method":"resources/read","params":{"uri":"x://y"}}`,
	)
	require.Len(t, responses, 2)
	assert.Empty(t, resultMap(t, responses[0])["resources"])
	assert.Equal(t, ResourceNotFound, responses[1].Error.Code)
}

func TestServerNotify(t *testing.T) {
	output := &bytes.Buffer{}
	input := strings.NewReader(`{"jsonrpc":"2.0","method":"notifications/initialized"}` + "\n")
	server := NewServer(input, output, &mockHandler{}, testLogger())

	assert.ErrorIs(t, server.Notify("session", map[string]string{"status": "connected"}), ErrNotInitialized)

	require.NoError(t, server.Run(context.Background()))
	require.NoError(t, server.Notify("session", map[string]string{"status": "connected"}))

	var req Request
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(output.Bytes()), &req))
	assert.Equal(t, MethodLogMessage, req.Method)
	assert.Nil(t, req.ID)

	var params LogMessageParams
	require.NoError(t, json.Unmarshal(req.Params, &params))
	assert.Equal(t, "info", params.Level)
	assert.Equal(t, "session", params.Logger)
}

func TestServerRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	server := NewServer(strings.NewReader(""), io.Discard, &mockHandler{}, testLogger())
	assert.ErrorIs(t, server.Run(ctx), context.Canceled)
}

func TestJSONRPCMessageParsing(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		hasID      bool
		wantMethod string
	}{
		{name: "valid request with numeric id", input: `{"jsonrpc":"2.0","id":1,"method":"test"}`, hasID: true, wantMethod: "test"},
		{name: "string id", input: `{"jsonrpc":"2.0","id":"abc","method":"test"}`, hasID: true, wantMethod: "test"},
		{name: "notification (no id)", input: `{"jsonrpc":"2.0","method":"notify"}`, wantMethod: "notify"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req Request
			require.NoError(t, json.Unmarshal([]byte(tt.input), &req))
			assert.Equal(t, tt.wantMethod, req.Method)
			assert.Equal(t, tt.hasID, req.ID != nil)
		})
	}
}

func TestCallToolResult(t *testing.T) {
	result := &CallToolResult{
		Content: []ContentBlock{TextContent("Hello"), TextContent("World")},
	}

	data, err := json.Marshal(result)
	require.NoError(t, err)

	jsonStr := string(data)
	assert.Contains(t, jsonStr, `"type":"text"`)
	assert.Contains(t, jsonStr, `"text":"Hello"`)
	assert.NotContains(t, jsonStr, `isError`)
}
