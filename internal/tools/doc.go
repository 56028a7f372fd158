// Package tools defines the tool registry and the built-in coordination
// tools the MCP bridge exposes. A tool is a named handler with a declared
// JSON input schema; the registry validates arguments before dispatch and
// reports domain failures as structured results rather than thrown errors.
package tools
