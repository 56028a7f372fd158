// Package gateway assembles the coordination components behind one HTTP
// server: the chat bridge routes, the SSE channel transport, job status, and
// the mounted MCP endpoint.
package gateway
