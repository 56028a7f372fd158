// ABOUTME: Store interface and typed helpers for the pluggable state layer
// ABOUTME: Defines the key/value contract with sliding TTL shared by all backends

package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrStateUnavailable is returned when the backing store cannot be reached
// for a write. Reads degrade to a miss instead (logged by the backend).
var ErrStateUnavailable = errors.New("state store unavailable")

// DefaultTTL is the sliding expiration applied when a Set passes ttl <= 0.
// Every successful read or write resets the expiry clock.
const DefaultTTL = 4 * time.Hour

// Store is the pluggable key/value contract every runtime component builds on.
// Values are opaque JSON payloads. Keys are caller-defined strings; the
// conversation layer composes them as {conversationId}:{agentType}:{name}.
//
// Pattern operations are a best-effort convenience: backends that cannot
// enumerate keys (the redis backend) return an empty result and log rather
// than fail, so callers see a uniform contract.
type Store interface {
	// Get returns the value for key, or ErrNotFound. A successful read
	// refreshes the entry's sliding expiration. The redis backend does not
	// track per-key TTLs across reads and re-arms the default window, so a
	// custom TTL shorter than DefaultTTL only holds there until the first Get.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key with the given sliding TTL (DefaultTTL when
	// ttl <= 0). Returns ErrStateUnavailable if the backend is unreachable.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error

	// Exists reports whether key is present (without refreshing its TTL).
	Exists(ctx context.Context, key string) (bool, error)

	// GetKeysByPattern returns keys matching a glob pattern ("conv-1:*").
	// Best effort: may return an empty slice on backends without enumeration.
	GetKeysByPattern(ctx context.Context, pattern string) ([]string, error)

	// ClearByPattern removes all keys matching pattern and returns the count
	// removed. Best effort, like GetKeysByPattern.
	ClearByPattern(ctx context.Context, pattern string) (int, error)

	// Close releases backend resources. Safe to call multiple times.
	Close() error
}

// ErrNotFound is returned by Get when the key is absent or expired.
var ErrNotFound = errors.New("key not found")

// GetJSON reads key and unmarshals its value into dst.
func GetJSON(ctx context.Context, s Store, key string, dst any) error {
	data, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decoding state entry %q: %w", key, err)
	}
	return nil
}

// SetJSON marshals value and stores it under key with the given TTL.
func SetJSON(ctx context.Context, s Store, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding state entry %q: %w", key, err)
	}
	return s.Set(ctx, key, data, ttl)
}
