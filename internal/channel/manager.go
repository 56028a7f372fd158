// ABOUTME: Tracks live client connections and routes messages to conversations
// ABOUTME: Fan-out is per-connection and non-blocking; delivery failures never propagate

package channel

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	// outboxSize is the per-connection buffer. Messages are dropped for a
	// connection whose consumer falls this far behind.
	outboxSize = 64
)

// ConnectionInfo describes a registered client connection.
type ConnectionInfo struct {
	ConnectionID   string
	UserID         string
	ConnectedAt    time.Time
	LastActivityAt time.Time
	Conversations  []string
	Metadata       map[string]string
}

// connection is the manager's internal record for one physical connection.
type connection struct {
	info   ConnectionInfo
	joined map[string]struct{}
	outbox chan Message

	closeMu sync.Mutex // protects closed and outbox close
	closed  bool       // true after outbox is closed
}

// deliver attempts a non-blocking send to the connection's outbox.
// Returns false if the outbox is closed or full.
func (c *connection) deliver(msg Message) bool {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.outbox <- msg:
		return true
	default:
		return false
	}
}

// closeOutbox closes the outbox exactly once.
func (c *connection) closeOutbox() {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.outbox)
	}
}

// Config holds the limits applied by the Manager.
type Config struct {
	MaxConnectionsPerUser int
	IdleTimeout           time.Duration
	MaxChunkSize          int
	MinChunkDelay         time.Duration
	StreamTimeout         time.Duration
	Logger                *slog.Logger
}

// Manager maps physical connections to conversations and routes outbound
// messages. All operations are safe for concurrent callers.
//
// When a user exceeds MaxConnectionsPerUser, the oldest connection for that
// user is evicted to make room. Reconnecting clients are the common case and
// the stale connection is the one that should lose.
type Manager struct {
	mu          sync.RWMutex
	connections map[string]*connection
	byUser      map[string]map[string]struct{} // userID -> connectionIDs

	maxPerUser    int
	idleTimeout   time.Duration
	maxChunkSize  int
	minChunkDelay time.Duration
	streamTimeout time.Duration

	logger *slog.Logger
	done   chan struct{}
	closed bool
}

// NewManager creates a Manager and starts its idle-connection sweeper.
func NewManager(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxConnectionsPerUser <= 0 {
		cfg.MaxConnectionsPerUser = 5
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Minute
	}
	if cfg.MaxChunkSize <= 0 {
		cfg.MaxChunkSize = 4096
	}
	if cfg.StreamTimeout <= 0 {
		cfg.StreamTimeout = 5 * time.Minute
	}

	m := &Manager{
		connections:   make(map[string]*connection),
		byUser:        make(map[string]map[string]struct{}),
		maxPerUser:    cfg.MaxConnectionsPerUser,
		idleTimeout:   cfg.IdleTimeout,
		maxChunkSize:  cfg.MaxChunkSize,
		minChunkDelay: cfg.MinChunkDelay,
		streamTimeout: cfg.StreamTimeout,
		logger:        logger.With("component", "channel"),
		done:          make(chan struct{}),
	}
	go m.sweepIdle()
	return m
}

// Register creates a connection record. If the user already holds the maximum
// number of connections, the oldest one is evicted first.
func (m *Manager) Register(connectionID, userID string) ConnectionInfo {
	m.mu.Lock()

	// Re-registering an existing ID replaces the old record
	if _, exists := m.connections[connectionID]; exists {
		m.unregisterLocked(connectionID)
	}

	if userID != "" {
		if ids := m.byUser[userID]; len(ids) >= m.maxPerUser {
			oldest := m.oldestConnectionLocked(ids)
			if oldest != "" {
				m.logger.Info("evicting oldest connection for user over cap",
					"user_id", userID,
					"evicted", oldest,
					"cap", m.maxPerUser,
				)
				m.unregisterLocked(oldest)
			}
		}
	}

	now := time.Now()
	conn := &connection{
		info: ConnectionInfo{
			ConnectionID:   connectionID,
			UserID:         userID,
			ConnectedAt:    now,
			LastActivityAt: now,
			Metadata:       make(map[string]string),
		},
		joined: make(map[string]struct{}),
		outbox: make(chan Message, outboxSize),
	}
	m.connections[connectionID] = conn
	if userID != "" {
		if m.byUser[userID] == nil {
			m.byUser[userID] = make(map[string]struct{})
		}
		m.byUser[userID][connectionID] = struct{}{}
	}

	info := conn.snapshot()
	total := len(m.connections)
	m.mu.Unlock()

	m.logger.Debug("connection registered",
		"connection_id", connectionID,
		"user_id", userID,
		"total_connections", total,
	)
	return info
}

// Unregister removes a connection and closes its outbox. Idempotent.
func (m *Manager) Unregister(connectionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unregisterLocked(connectionID)
}

// unregisterLocked removes a connection. Must be called with mu held.
func (m *Manager) unregisterLocked(connectionID string) {
	conn, exists := m.connections[connectionID]
	if !exists {
		return
	}

	delete(m.connections, connectionID)
	if conn.info.UserID != "" {
		if ids := m.byUser[conn.info.UserID]; ids != nil {
			delete(ids, connectionID)
			if len(ids) == 0 {
				delete(m.byUser, conn.info.UserID)
			}
		}
	}
	conn.closeOutbox()

	m.logger.Debug("connection unregistered",
		"connection_id", connectionID,
		"total_connections", len(m.connections),
	)
}

// oldestConnectionLocked returns the ID of the earliest-connected entry in ids.
func (m *Manager) oldestConnectionLocked(ids map[string]struct{}) string {
	var oldest string
	var oldestAt time.Time
	for id := range ids {
		conn, ok := m.connections[id]
		if !ok {
			continue
		}
		if oldest == "" || conn.info.ConnectedAt.Before(oldestAt) {
			oldest = id
			oldestAt = conn.info.ConnectedAt
		}
	}
	return oldest
}

// JoinConversation adds the connection to a conversation. Joining a
// conversation already joined is a no-op.
func (m *Manager) JoinConversation(connectionID, conversationID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.connections[connectionID]
	if !ok {
		return false
	}
	conn.joined[conversationID] = struct{}{}
	conn.info.LastActivityAt = time.Now()
	return true
}

// LeaveConversation removes the connection from a conversation. Leaving a
// conversation not joined is a no-op.
func (m *Manager) LeaveConversation(connectionID, conversationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.connections[connectionID]
	if !ok {
		return
	}
	delete(conn.joined, conversationID)
	conn.info.LastActivityAt = time.Now()
}

// GetConversationConnections returns the IDs of connections joined to the
// conversation.
func (m *Manager) GetConversationConnections(conversationID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	for id, conn := range m.connections {
		if _, joined := conn.joined[conversationID]; joined {
			ids = append(ids, id)
		}
	}
	return ids
}

// GetConnection returns a snapshot of the connection record.
func (m *Manager) GetConnection(connectionID string) (ConnectionInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conn, ok := m.connections[connectionID]
	if !ok {
		return ConnectionInfo{}, false
	}
	return conn.snapshot(), true
}

// Receive returns the outbound message channel for a connection. Transports
// drain this channel and deliver each message to the physical client. The
// channel is closed when the connection is unregistered.
func (m *Manager) Receive(connectionID string) (<-chan Message, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conn, ok := m.connections[connectionID]
	if !ok {
		return nil, false
	}
	return conn.outbox, true
}

// SendToConversation fans the message out to every connection currently
// joined, independently per connection. A full outbox drops the message for
// that connection only; nothing here ever fails the caller's workflow.
func (m *Manager) SendToConversation(_ context.Context, conversationID string, msg Message) {
	m.mu.Lock()
	targets := make([]*connection, 0, 4)
	now := time.Now()
	for _, conn := range m.connections {
		if _, joined := conn.joined[conversationID]; joined {
			conn.info.LastActivityAt = now
			targets = append(targets, conn)
		}
	}
	m.mu.Unlock()

	for _, conn := range targets {
		if !conn.deliver(msg) {
			m.logger.Debug("dropped message for slow or closed connection",
				"connection_id", conn.info.ConnectionID,
				"conversation_id", conversationID,
				"type", msg.Type,
			)
		}
	}
}

// SendToConnection delivers directly to one connection. A no-op (logged) if
// the connection no longer exists.
func (m *Manager) SendToConnection(_ context.Context, connectionID string, msg Message) {
	m.mu.Lock()
	conn, ok := m.connections[connectionID]
	if ok {
		conn.info.LastActivityAt = time.Now()
	}
	m.mu.Unlock()

	if !ok {
		m.logger.Debug("send to unknown connection", "connection_id", connectionID)
		return
	}

	if !conn.deliver(msg) {
		m.logger.Debug("dropped message for slow or closed connection",
			"connection_id", connectionID,
			"type", msg.Type,
		)
	}
}

// sweepIdle evicts connections with no traffic past the idle timeout.
func (m *Manager) sweepIdle() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.runIdleSweep()
		case <-m.done:
			return
		}
	}
}

// runIdleSweep removes all idle connections.
func (m *Manager) runIdleSweep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for id, conn := range m.connections {
		if now.Sub(conn.info.LastActivityAt) > m.idleTimeout {
			m.logger.Info("evicting idle connection",
				"connection_id", id,
				"idle_for", now.Sub(conn.info.LastActivityAt).String(),
			)
			m.unregisterLocked(id)
		}
	}
}

// Close stops the sweeper and unregisters every connection.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	close(m.done)

	for id := range m.connections {
		m.unregisterLocked(id)
	}
}

// snapshot copies the record so callers cannot mutate internal state.
func (c *connection) snapshot() ConnectionInfo {
	info := c.info
	info.Conversations = make([]string, 0, len(c.joined))
	for conv := range c.joined {
		info.Conversations = append(info.Conversations, conv)
	}
	info.Metadata = make(map[string]string, len(c.info.Metadata))
	for k, v := range c.info.Metadata {
		info.Metadata[k] = v
	}
	return info
}
