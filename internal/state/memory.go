// ABOUTME: In-process Store backend with sliding TTL and glob pattern matching
// ABOUTME: Visible within one process only; acceptable for single-instance deployment

package state

import (
	"context"
	"log/slog"
	"path"
	"sync"
	"time"
)

// memoryEntry stores a value with its sliding expiration bookkeeping.
type memoryEntry struct {
	value      []byte
	ttl        time.Duration
	lastAccess time.Time
}

// expired reports whether the entry's sliding window has elapsed.
func (e *memoryEntry) expired(now time.Time) bool {
	return now.Sub(e.lastAccess) > e.ttl
}

// MemoryStore implements Store with a process-wide map. Entries carry a
// sliding TTL refreshed on every successful read or write; a background
// goroutine sweeps expired entries.
type MemoryStore struct {
	mu         sync.RWMutex
	entries    map[string]*memoryEntry
	defaultTTL time.Duration
	sweepEvery time.Duration
	logger     *slog.Logger
	done       chan struct{}
	closed     bool
}

// MemoryOption customizes a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithDefaultTTL overrides the TTL applied when Set receives ttl <= 0.
func WithDefaultTTL(ttl time.Duration) MemoryOption {
	return func(m *MemoryStore) {
		if ttl > 0 {
			m.defaultTTL = ttl
		}
	}
}

// WithSweepInterval changes how often the background sweeper runs.
func WithSweepInterval(interval time.Duration) MemoryOption {
	return func(m *MemoryStore) {
		if interval > 0 {
			m.sweepEvery = interval
		}
	}
}

// NewMemoryStore creates an in-process store and starts its sweeper.
// Pass nil logger for the default.
func NewMemoryStore(logger *slog.Logger, opts ...MemoryOption) *MemoryStore {
	if logger == nil {
		logger = slog.Default()
	}
	m := &MemoryStore{
		entries:    make(map[string]*memoryEntry),
		defaultTTL: DefaultTTL,
		sweepEvery: time.Minute,
		logger:     logger.With("component", "state", "backend", "memory"),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	go m.sweep()
	return m
}

// Get returns the value for key and refreshes its sliding expiration.
func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok {
		return nil, ErrNotFound
	}

	now := time.Now()
	if entry.expired(now) {
		delete(m.entries, key)
		return nil, ErrNotFound
	}

	entry.lastAccess = now

	// Copy so callers cannot mutate the stored payload
	value := make([]byte, len(entry.value))
	copy(value, entry.value)
	return value, nil
}

// Set stores value under key with the given sliding TTL.
func (m *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = m.defaultTTL
	}

	stored := make([]byte, len(value))
	copy(stored, value)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = &memoryEntry{
		value:      stored,
		ttl:        ttl,
		lastAccess: time.Now(),
	}
	return nil
}

// Remove deletes key. Removing a missing key is a no-op.
func (m *MemoryStore) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// Exists reports whether key is present without refreshing its TTL.
func (m *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.entries[key]
	if !ok {
		return false, nil
	}
	return !entry.expired(time.Now()), nil
}

// GetKeysByPattern returns all live keys matching the glob pattern.
func (m *MemoryStore) GetKeysByPattern(_ context.Context, pattern string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	var keys []string
	for key, entry := range m.entries {
		if entry.expired(now) {
			continue
		}
		if matched, err := path.Match(pattern, key); err == nil && matched {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// ClearByPattern removes all keys matching pattern and returns the count removed.
func (m *MemoryStore) ClearByPattern(_ context.Context, pattern string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key := range m.entries {
		if matched, err := path.Match(pattern, key); err == nil && matched {
			delete(m.entries, key)
			removed++
		}
	}
	return removed, nil
}

// sweep runs in a background goroutine, periodically removing expired entries.
func (m *MemoryStore) sweep() {
	ticker := time.NewTicker(m.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.runSweep()
		case <-m.done:
			return
		}
	}
}

// runSweep removes all expired entries.
func (m *MemoryStore) runSweep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	swept := 0
	for key, entry := range m.entries {
		if entry.expired(now) {
			delete(m.entries, key)
			swept++
		}
	}
	if swept > 0 {
		m.logger.Debug("swept expired state entries", "count", swept)
	}
}

// Close stops the background sweeper. Safe to call multiple times.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.closed {
		close(m.done)
		m.closed = true
	}
	return nil
}
