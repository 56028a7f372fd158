// ABOUTME: Transport-independent JSON-RPC 2.0 core for the MCP bridge
// ABOUTME: Maps initialize, tools/list, and tools/call onto the tool registry

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/arbiterhq/arbiter/internal/tools"
)

// latestProtocolVersion is the version advertised in initialize responses.
const latestProtocolVersion = "2025-03-26"

// ServerName and ServerVersion identify this bridge in initialize responses.
const (
	ServerName    = "arbiter"
	ServerVersion = "1.0.0"
)

// JSON-RPC 2.0 types

// Request represents a JSON-RPC 2.0 request. The ID is kept raw so responses
// echo it byte-for-byte whether it arrived as a string, number, or null.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *ResponseError  `json:"error,omitempty"`
}

// ResponseError represents a JSON-RPC 2.0 error object.
type ResponseError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Standard JSON-RPC error codes
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// ListToolsResult is the result for tools/list.
type ListToolsResult struct {
	Tools []tools.Definition `json:"tools"`
}

// CallToolParams are the params for tools/call.
type CallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Dispatcher is the pure JSON-RPC core shared by every transport: one raw
// request frame in, one raw response frame out. Transports add framing,
// sessions, and auth around it; the response bytes for a given request are
// identical regardless of which transport carried it.
type Dispatcher struct {
	registry *tools.Registry
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher over the given tool registry.
func NewDispatcher(registry *tools.Registry, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry: registry,
		logger:   logger.With("component", "mcp"),
	}
}

// Dispatch processes one raw JSON-RPC frame and returns the encoded response.
// Notifications (requests without an id) produce no response: the second
// return value is false and the transport sends nothing.
func (d *Dispatcher) Dispatch(ctx context.Context, raw []byte) ([]byte, bool) {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return encodeError(nil, CodeParseError, "invalid JSON"), true
	}

	if req.JSONRPC != "2.0" {
		return encodeError(req.ID, CodeInvalidRequest, "invalid JSON-RPC version"), true
	}

	if isNotification(req) {
		d.logger.Debug("accepted notification", "method", req.Method)
		return nil, false
	}

	d.logger.Debug("dispatching request", "method", req.Method)

	switch req.Method {
	case "initialize":
		return d.handleInitialize(req), true
	case "tools/list":
		return d.handleToolsList(req), true
	case "tools/call":
		return d.handleToolsCall(ctx, req), true
	default:
		return encodeError(req.ID, CodeMethodNotFound, "method not found"), true
	}
}

// isNotification reports whether the request carries no id.
func isNotification(req Request) bool {
	return len(req.ID) == 0 || string(req.ID) == "null"
}

func (d *Dispatcher) handleInitialize(req Request) []byte {
	result := map[string]any{
		"protocolVersion": latestProtocolVersion,
		"capabilities": map[string]any{
			"tools": map[string]any{},
		},
		"serverInfo": map[string]any{
			"name":    ServerName,
			"version": ServerVersion,
		},
	}
	return encodeResult(req.ID, result)
}

func (d *Dispatcher) handleToolsList(req Request) []byte {
	defs := d.registry.List()
	d.logger.Debug("tools/list", "count", len(defs))
	return encodeResult(req.ID, ListToolsResult{Tools: defs})
}

func (d *Dispatcher) handleToolsCall(ctx context.Context, req Request) []byte {
	var params CallToolParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return encodeError(req.ID, CodeInvalidParams, "invalid params")
		}
	}

	if params.Name == "" {
		return encodeError(req.ID, CodeInvalidParams, "tool name is required")
	}

	var args map[string]any
	if len(params.Arguments) > 0 && string(params.Arguments) != "null" {
		if err := json.Unmarshal(params.Arguments, &args); err != nil {
			return encodeError(req.ID, CodeInvalidParams, "arguments must be an object")
		}
	}
	if args == nil {
		args = map[string]any{}
	}

	result, err := d.registry.Call(ctx, params.Name, args)
	if err != nil {
		switch {
		case errors.Is(err, tools.ErrToolNotFound):
			return encodeError(req.ID, CodeInvalidParams, "tool not found")
		case errors.Is(err, tools.ErrInvalidArguments):
			// A schema violation is a tool-level failure, not a protocol fault
			return encodeResult(req.ID, tools.ErrorResult(err.Error()))
		case errors.Is(err, context.DeadlineExceeded):
			return encodeError(req.ID, CodeInternalError, "tool execution timed out")
		case errors.Is(err, context.Canceled):
			return encodeError(req.ID, CodeInternalError, "request cancelled")
		default:
			d.logger.Warn("tools/call failed", "tool_name", params.Name, "error", err)
			return encodeError(req.ID, CodeInternalError, "tool execution failed")
		}
	}

	d.logger.Debug("tools/call complete", "tool_name", params.Name, "is_error", result.IsError)
	return encodeResult(req.ID, result)
}

func encodeResult(id json.RawMessage, result any) []byte {
	return encode(Response{JSONRPC: "2.0", ID: id, Result: result})
}

func encodeError(id json.RawMessage, code int, message string) []byte {
	return encode(Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &ResponseError{Code: code, Message: message},
	})
}

func encode(resp Response) []byte {
	data, err := json.Marshal(resp)
	if err != nil {
		// Response types are all marshalable; this is unreachable in practice
		return []byte(`{"jsonrpc":"2.0","id":null,"error":{"code":-32603,"message":"internal error"}}`)
	}
	return data
}
