// ABOUTME: Chunked streaming of long agent responses to conversation members
// ABOUTME: Chunks are size-capped, paced by a minimum delay, and time-bounded overall

package channel

import (
	"context"
	"errors"
	"time"
)

// ErrStreamTimeout is returned when a stream exceeds the configured overall
// timeout before all chunks are delivered.
var ErrStreamTimeout = errors.New("stream timed out")

// StreamToConversation delivers content to every connection joined to the
// conversation as a sequence of AgentResponseChunk messages followed by a
// final AgentResponse carrying the complete text. Each chunk is at most
// MaxChunkSize characters; consecutive chunks are separated by at least
// MinChunkDelay; the whole stream is aborted once StreamTimeout elapses.
//
// Like all channel sends, delivery is fire-and-forget per connection. The
// only error surfaced to the caller is a timeout or context cancellation of
// the stream itself.
func (m *Manager) StreamToConversation(ctx context.Context, conversationID, agentType, content string) error {
	ctx, cancel := context.WithTimeout(ctx, m.streamTimeout)
	defer cancel()

	chunks := splitChunks(content, m.maxChunkSize)

	for i, chunk := range chunks {
		if i > 0 && m.minChunkDelay > 0 {
			timer := time.NewTimer(m.minChunkDelay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return m.streamErr(ctx, conversationID)
			}
		}

		select {
		case <-ctx.Done():
			return m.streamErr(ctx, conversationID)
		default:
		}

		m.SendToConversation(ctx, conversationID, NewMessage(conversationID, TypeAgentResponseChunk, chunk, agentType))
	}

	m.SendToConversation(ctx, conversationID, NewMessage(conversationID, TypeAgentResponse, content, agentType))
	return nil
}

// streamErr maps context termination to the stream error contract.
func (m *Manager) streamErr(ctx context.Context, conversationID string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		m.logger.Warn("stream aborted after timeout", "conversation_id", conversationID)
		return ErrStreamTimeout
	}
	return ctx.Err()
}

// splitChunks cuts content into rune-safe pieces of at most size characters.
func splitChunks(content string, size int) []string {
	if content == "" {
		return nil
	}
	runes := []rune(content)
	chunks := make([]string, 0, (len(runes)+size-1)/size)
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}
