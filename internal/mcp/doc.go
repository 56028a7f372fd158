// Package mcp implements the MCP JSON-RPC 2.0 bridge. A single dispatcher
// holds all protocol semantics; the stdio and HTTP transports wrap it with
// framing, sessions, and auth, so a request produces identical response
// bytes on either transport.
package mcp
