// ABOUTME: ConversationContext data model and the message history it carries
// ABOUTME: Owned by one conversation for its lifetime; expires with the state TTL

package conversation

import (
	"time"
)

// Role constants for history messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// HistoryMessage is one entry in a conversation's ordered message history.
type HistoryMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	AgentType string    `json:"agentType,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Context is the shared state for one conversation. It is mutated by any
// agent handling the conversation and expires from the state store after the
// inactivity TTL.
type Context struct {
	ConversationID string                    `json:"conversationId"`
	UserID         string                    `json:"userId,omitempty"`
	Messages       []HistoryMessage          `json:"messages"`
	ActiveWorkflow string                    `json:"activeWorkflow,omitempty"`
	WorkflowState  map[string]string         `json:"workflowState,omitempty"`
	Preferences    map[string]string         `json:"preferences,omitempty"`
	Counters       map[string]int            `json:"counters,omitempty"`
	CreatedAt      time.Time                 `json:"createdAt"`
	LastActivityAt time.Time                 `json:"lastActivityAt"`
}

// newContext allocates a fresh Context for a conversation.
func newContext(conversationID, userID string) *Context {
	now := time.Now()
	return &Context{
		ConversationID: conversationID,
		UserID:         userID,
		WorkflowState:  make(map[string]string),
		Preferences:    make(map[string]string),
		Counters:       make(map[string]int),
		CreatedAt:      now,
		LastActivityAt: now,
	}
}

// appendMessage adds a message, trimming the oldest entries past max.
func (c *Context) appendMessage(msg HistoryMessage, max int) {
	c.Messages = append(c.Messages, msg)
	if max > 0 && len(c.Messages) > max {
		c.Messages = c.Messages[len(c.Messages)-max:]
	}
	c.LastActivityAt = msg.Timestamp
}
