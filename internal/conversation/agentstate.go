// ABOUTME: Per-agent namespaced state accessors on top of the state store
// ABOUTME: Keys follow the {conversationId}:{agentType}:{name} convention

package conversation

import (
	"context"
	"log/slog"
	"time"

	"github.com/arbiterhq/arbiter/internal/state"
)

// AgentState offers typed get/set for state an individual agent keeps within
// a conversation, namespaced so agents never collide with each other.
type AgentState struct {
	store  state.Store
	ttl    time.Duration
	logger *slog.Logger
}

// NewAgentState creates an agent state accessor. Pass nil logger for default.
func NewAgentState(store state.Store, ttl time.Duration, logger *slog.Logger) *AgentState {
	if logger == nil {
		logger = slog.Default()
	}
	return &AgentState{
		store:  store,
		ttl:    ttl,
		logger: logger.With("component", "agentstate"),
	}
}

// Get reads the named entry for an agent into dst.
// Returns state.ErrNotFound when absent or expired.
func (a *AgentState) Get(ctx context.Context, conversationID, agentType, name string, dst any) error {
	return state.GetJSON(ctx, a.store, agentKey(conversationID, agentType, name), dst)
}

// Set writes the named entry for an agent with the configured TTL.
func (a *AgentState) Set(ctx context.Context, conversationID, agentType, name string, value any) error {
	return state.SetJSON(ctx, a.store, agentKey(conversationID, agentType, name), value, a.ttl)
}

// Remove deletes the named entry.
func (a *AgentState) Remove(ctx context.Context, conversationID, agentType, name string) error {
	return a.store.Remove(ctx, agentKey(conversationID, agentType, name))
}

// Keys lists the entry keys an agent holds in a conversation. Best effort:
// empty on backends without pattern enumeration.
func (a *AgentState) Keys(ctx context.Context, conversationID, agentType string) ([]string, error) {
	return a.store.GetKeysByPattern(ctx, agentKey(conversationID, agentType, "*"))
}

// Clear removes every entry an agent holds in a conversation and returns the
// count removed. Best effort, like Keys.
func (a *AgentState) Clear(ctx context.Context, conversationID, agentType string) (int, error) {
	removed, err := a.store.ClearByPattern(ctx, agentKey(conversationID, agentType, "*"))
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		a.logger.Debug("agent state cleared",
			"conversation_id", conversationID,
			"agent_type", agentType,
			"removed", removed,
		)
	}
	return removed, nil
}
