// ABOUTME: Conversation state manager layered on the pluggable state store
// ABOUTME: Namespaces keys per conversation and caps the retained message history

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/arbiterhq/arbiter/internal/state"
)

// DefaultMaxHistoryMessages caps the retained history per conversation.
const DefaultMaxHistoryMessages = 50

// contextKey composes the state key holding a conversation's Context.
func contextKey(conversationID string) string {
	return conversationID + ":context"
}

// agentKey composes the namespaced key for a per-agent state entry.
func agentKey(conversationID, agentType, name string) string {
	return fmt.Sprintf("%s:%s:%s", conversationID, agentType, name)
}

// Manager provides typed access to conversation state on top of the store.
type Manager struct {
	store      state.Store
	ttl        time.Duration
	maxHistory int
	logger     *slog.Logger
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Store      state.Store
	TTL        time.Duration // inactivity TTL per conversation; 0 = store default
	MaxHistory int           // history cap; 0 = DefaultMaxHistoryMessages
	Logger     *slog.Logger
}

// NewManager creates a conversation state manager.
func NewManager(cfg ManagerConfig) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxHistory := cfg.MaxHistory
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistoryMessages
	}
	return &Manager{
		store:      cfg.Store,
		ttl:        cfg.TTL,
		maxHistory: maxHistory,
		logger:     logger.With("component", "conversation"),
	}
}

// Context returns the conversation's shared context, creating (and storing) a
// fresh one when none exists. A store miss is treated as "new conversation",
// never as an error: the store contract degrades unreachable reads to misses.
func (m *Manager) Context(ctx context.Context, conversationID, userID string) (*Context, error) {
	var cc Context
	err := state.GetJSON(ctx, m.store, contextKey(conversationID), &cc)
	if err == nil {
		return &cc, nil
	}
	if !errors.Is(err, state.ErrNotFound) {
		return nil, err
	}

	fresh := newContext(conversationID, userID)
	if err := m.Save(ctx, fresh); err != nil {
		return nil, err
	}
	m.logger.Debug("conversation context created", "conversation_id", conversationID)
	return fresh, nil
}

// Save writes the context back to the store, refreshing the inactivity TTL.
func (m *Manager) Save(ctx context.Context, cc *Context) error {
	cc.LastActivityAt = time.Now()
	if err := state.SetJSON(ctx, m.store, contextKey(cc.ConversationID), cc, m.ttl); err != nil {
		return fmt.Errorf("saving conversation %s: %w", cc.ConversationID, err)
	}
	return nil
}

// AppendMessage records a message on the conversation's history, retaining
// only the most recent MaxHistory entries, and saves the context.
func (m *Manager) AppendMessage(ctx context.Context, conversationID, userID string, msg HistoryMessage) (*Context, error) {
	cc, err := m.Context(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	cc.appendMessage(msg, m.maxHistory)
	if err := m.Save(ctx, cc); err != nil {
		return nil, err
	}
	return cc, nil
}

// History returns the conversation's retained messages, oldest first.
// A missing conversation yields an empty history.
func (m *Manager) History(ctx context.Context, conversationID string) ([]HistoryMessage, error) {
	var cc Context
	err := state.GetJSON(ctx, m.store, contextKey(conversationID), &cc)
	if errors.Is(err, state.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return cc.Messages, nil
}

// SetWorkflow marks the active workflow and merges workflow state, saving the
// context.
func (m *Manager) SetWorkflow(ctx context.Context, conversationID, workflow string, stateDelta map[string]string) error {
	cc, err := m.Context(ctx, conversationID, "")
	if err != nil {
		return err
	}
	cc.ActiveWorkflow = workflow
	if cc.WorkflowState == nil {
		cc.WorkflowState = make(map[string]string)
	}
	for k, v := range stateDelta {
		cc.WorkflowState[k] = v
	}
	return m.Save(ctx, cc)
}

// IncrementCounter bumps a named counter on the conversation and returns the
// new value.
func (m *Manager) IncrementCounter(ctx context.Context, conversationID, name string) (int, error) {
	cc, err := m.Context(ctx, conversationID, "")
	if err != nil {
		return 0, err
	}
	if cc.Counters == nil {
		cc.Counters = make(map[string]int)
	}
	cc.Counters[name]++
	if err := m.Save(ctx, cc); err != nil {
		return 0, err
	}
	return cc.Counters[name], nil
}

// Clear removes all state entries belonging to the conversation. Best effort:
// on backends without pattern support only the context entry is removed.
func (m *Manager) Clear(ctx context.Context, conversationID string) error {
	if _, err := m.store.ClearByPattern(ctx, conversationID+":*"); err != nil {
		return err
	}
	// The context key matches the pattern on the memory backend, but clear it
	// directly too so the redis backend drops at least the primary entry.
	return m.store.Remove(ctx, contextKey(conversationID))
}
