// ABOUTME: Tests for the JSON-RPC dispatcher core
// ABOUTME: Covers error codes, id echo, notifications, and tools/call semantics

package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbiterhq/arbiter/internal/tools"
)

type echoTool struct{}

func (echoTool) Describe() tools.Definition {
	return tools.Definition{
		Name:        "echo",
		Description: "Echo the text argument back",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {"text": {"type": "string"}},
			"required": ["text"]
		}`),
	}
}

func (echoTool) Execute(_ context.Context, args map[string]any) (tools.Result, error) {
	text, _ := args["text"].(string)
	return tools.TextResult(text), nil
}

func testDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	r := tools.NewRegistry(nil)
	r.MustRegister(echoTool{})
	return NewDispatcher(r, nil)
}

func dispatch(t *testing.T, d *Dispatcher, frame string) Response {
	t.Helper()
	raw, ok := d.Dispatch(context.Background(), []byte(frame))
	require.True(t, ok, "expected a response frame")
	var resp Response
	require.NoError(t, json.Unmarshal(raw, &resp))
	assert.Equal(t, "2.0", resp.JSONRPC)
	return resp
}

func TestDispatcher_Initialize(t *testing.T) {
	d := testDispatcher(t)

	resp := dispatch(t, d, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`)
	require.Nil(t, resp.Error)
	assert.Equal(t, "1", string(resp.ID))

	result := resp.Result.(map[string]any)
	assert.Equal(t, latestProtocolVersion, result["protocolVersion"])
	serverInfo := result["serverInfo"].(map[string]any)
	assert.Equal(t, ServerName, serverInfo["name"])
	caps := result["capabilities"].(map[string]any)
	assert.Contains(t, caps, "tools")
}

func TestDispatcher_ToolsList(t *testing.T) {
	d := testDispatcher(t)

	resp := dispatch(t, d, `{"jsonrpc":"2.0","id":"list-1","method":"tools/list"}`)
	require.Nil(t, resp.Error)

	data, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var result ListToolsResult
	require.NoError(t, json.Unmarshal(data, &result))
	require.Len(t, result.Tools, 1)
	assert.Equal(t, "echo", result.Tools[0].Name)
	assert.NotEmpty(t, result.Tools[0].InputSchema)
}

func TestDispatcher_ToolsCall(t *testing.T) {
	d := testDispatcher(t)

	resp := dispatch(t, d, `{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"echo","arguments":{"text":"hello"}}}`)
	require.Nil(t, resp.Error)

	data, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var result tools.Result
	require.NoError(t, json.Unmarshal(data, &result))
	assert.False(t, result.IsError)
	require.Len(t, result.Content, 1)
	assert.Equal(t, "hello", result.Content[0].Text)
}

func TestDispatcher_ToolsCallInvalidArguments(t *testing.T) {
	d := testDispatcher(t)

	// Schema violation is reported in-band, never as a protocol error
	resp := dispatch(t, d, `{"jsonrpc":"2.0","id":8,"method":"tools/call","params":{"name":"echo","arguments":{}}}`)
	require.Nil(t, resp.Error)

	data, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var result tools.Result
	require.NoError(t, json.Unmarshal(data, &result))
	assert.True(t, result.IsError)
}

func TestDispatcher_ToolsCallUnknownTool(t *testing.T) {
	d := testDispatcher(t)

	resp := dispatch(t, d, `{"jsonrpc":"2.0","id":9,"method":"tools/call","params":{"name":"nope"}}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidParams, resp.Error.Code)
}

func TestDispatcher_MethodNotFound(t *testing.T) {
	d := testDispatcher(t)

	resp := dispatch(t, d, `{"jsonrpc":"2.0","id":"abc","method":"resources/list"}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeMethodNotFound, resp.Error.Code)
	// id echoed byte-for-byte
	assert.Equal(t, `"abc"`, string(resp.ID))
}

func TestDispatcher_ParseError(t *testing.T) {
	d := testDispatcher(t)

	resp := dispatch(t, d, `{not json`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeParseError, resp.Error.Code)
}

func TestDispatcher_InvalidVersion(t *testing.T) {
	d := testDispatcher(t)

	resp := dispatch(t, d, `{"jsonrpc":"1.0","id":1,"method":"tools/list"}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidRequest, resp.Error.Code)
}

func TestDispatcher_NotificationProducesNoResponse(t *testing.T) {
	d := testDispatcher(t)

	_, ok := d.Dispatch(context.Background(), []byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`))
	assert.False(t, ok)
}

func TestDispatcher_NumericIDEcho(t *testing.T) {
	d := testDispatcher(t)

	resp := dispatch(t, d, `{"jsonrpc":"2.0","id":42,"method":"tools/list"}`)
	assert.Equal(t, "42", string(resp.ID))
}
