// Package auth provides bearer-token authentication for the gateway and the
// MCP bridge: HS256 JWT verification, HTTP middleware, and context-based
// identity propagation.
package auth
