// ABOUTME: Wire message type delivered to live client connections
// ABOUTME: Ephemeral by design - at most once per connection, never persisted

package channel

import "time"

// MessageType classifies an outbound channel message.
type MessageType string

// Message type constants for the channel wire format.
const (
	TypeAgentThinking      MessageType = "AgentThinking"
	TypeProgressUpdate     MessageType = "ProgressUpdate"
	TypeAgentResponse      MessageType = "AgentResponse"
	TypeAgentResponseChunk MessageType = "AgentResponseChunk"
	TypeError              MessageType = "Error"
	TypeSharedMemoryEvent  MessageType = "SharedMemoryEvent"
	TypeJobCompleted       MessageType = "JobCompleted"
)

// Message is the ephemeral payload fanned out to live connections joined to a
// conversation. It is delivered at most once per connection and never stored.
type Message struct {
	ConversationID string      `json:"conversationId"`
	Type           MessageType `json:"type"`
	Content        string      `json:"content"`
	AgentType      string      `json:"agentType,omitempty"`
	Timestamp      time.Time   `json:"timestamp"`
}

// NewMessage builds a Message stamped with the current time.
func NewMessage(conversationID string, msgType MessageType, content, agentType string) Message {
	return Message{
		ConversationID: conversationID,
		Type:           msgType,
		Content:        content,
		AgentType:      agentType,
		Timestamp:      time.Now(),
	}
}
