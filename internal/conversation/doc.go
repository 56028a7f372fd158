// Package conversation layers typed, namespaced state managers on top of the
// pluggable state store: the per-conversation Context with its capped message
// history, per-agent namespaced entries, and shared-memory events with
// best-effort channel notification.
//
// Nothing here owns state by identity across conversations; all
// cross-conversation aggregation happens by key pattern, which is a
// best-effort convenience not available on every backend.
package conversation
