// ABOUTME: Shared-memory events: cross-agent facts written to the state store
// ABOUTME: Publish is a write plus a best-effort channel notification, not a subscription

package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/arbiterhq/arbiter/internal/channel"
	"github.com/arbiterhq/arbiter/internal/state"
)

// Event is a fact one agent publishes for others handling the same
// conversation.
type Event struct {
	EventID        string          `json:"eventId"`
	ConversationID string          `json:"conversationId"`
	EventType      string          `json:"eventType"`
	Payload        json.RawMessage `json:"payload"`
	Timestamp      time.Time       `json:"timestamp"`
}

// Notifier is the slice of the channel manager shared memory needs for its
// best-effort publish notification.
type Notifier interface {
	SendToConversation(ctx context.Context, conversationID string, msg channel.Message)
}

// SharedMemory stores cross-agent facts as namespaced state entries.
//
// PublishEvent is not a durable subscription mechanism: there is no registry
// of interested consumers. A consumer that is not actively polling the store
// or connected to the channel at publish time misses the event. Readers poll
// via Event/Events.
type SharedMemory struct {
	store    state.Store
	notifier Notifier
	ttl      time.Duration
	logger   *slog.Logger
}

// NewSharedMemory creates a shared memory manager. notifier may be nil, in
// which case publishes are store writes only.
func NewSharedMemory(store state.Store, notifier Notifier, ttl time.Duration, logger *slog.Logger) *SharedMemory {
	if logger == nil {
		logger = slog.Default()
	}
	return &SharedMemory{
		store:    store,
		notifier: notifier,
		ttl:      ttl,
		logger:   logger.With("component", "sharedmem"),
	}
}

// eventKey composes the state key for the latest event of a type.
func eventKey(conversationID, eventType string) string {
	return fmt.Sprintf("%s:shared:%s", conversationID, eventType)
}

// PublishEvent writes the event to the store and sends a best-effort channel
// notification to connections joined to the conversation. The write is the
// source of truth; a notification failure is logged and swallowed. Returns
// the stored event.
func (s *SharedMemory) PublishEvent(ctx context.Context, conversationID, eventType string, payload json.RawMessage) (*Event, error) {
	event := &Event{
		EventID:        uuid.New().String(),
		ConversationID: conversationID,
		EventType:      eventType,
		Payload:        payload,
		Timestamp:      time.Now(),
	}

	if err := state.SetJSON(ctx, s.store, eventKey(conversationID, eventType), event, s.ttl); err != nil {
		return nil, fmt.Errorf("publishing %s event: %w", eventType, err)
	}

	if s.notifier != nil {
		content, err := json.Marshal(event)
		if err != nil {
			s.logger.Warn("failed to encode event notification", "event_type", eventType, "error", err)
		} else {
			s.notifier.SendToConversation(ctx, conversationID,
				channel.NewMessage(conversationID, channel.TypeSharedMemoryEvent, string(content), ""))
		}
	}

	s.logger.Debug("shared memory event published",
		"conversation_id", conversationID,
		"event_type", eventType,
		"event_id", event.EventID,
	)
	return event, nil
}

// Event reads the most recent event of the given type for a conversation.
func (s *SharedMemory) Event(ctx context.Context, conversationID, eventType string) (*Event, error) {
	var event Event
	if err := state.GetJSON(ctx, s.store, eventKey(conversationID, eventType), &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// Events polls all current events for a conversation, oldest first. Best
// effort: empty on backends without pattern enumeration.
func (s *SharedMemory) Events(ctx context.Context, conversationID string) ([]*Event, error) {
	keys, err := s.store.GetKeysByPattern(ctx, conversationID+":shared:*")
	if err != nil {
		return nil, err
	}

	events := make([]*Event, 0, len(keys))
	for _, key := range keys {
		var event Event
		if err := state.GetJSON(ctx, s.store, key, &event); err != nil {
			// Expired between enumeration and read
			continue
		}
		events = append(events, &event)
	}

	sort.Slice(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	return events, nil
}
