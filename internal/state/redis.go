// ABOUTME: Redis-backed Store for multi-instance deployment using go-redis
// ABOUTME: Pattern enumeration is unsupported here and degrades to empty results

package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store against a shared redis instance, making state
// visible across multiple arbiter processes.
//
// GetKeysByPattern and ClearByPattern are intentionally unsupported: callers
// must not rely on pattern operations when this backend is active. Both
// return empty results and log at Warn to keep the Store contract uniform.
type RedisStore struct {
	client     *redis.Client
	defaultTTL time.Duration
	logger     *slog.Logger
}

// RedisConfig holds the connection settings for NewRedisStore.
type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	DefaultTTL time.Duration
	Logger     *slog.Logger
}

// NewRedisStore connects to redis and verifies the connection with a ping.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ttl := cfg.DefaultTTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Addr, err)
	}

	return &RedisStore{
		client:     client,
		defaultTTL: ttl,
		logger:     logger.With("component", "state", "backend", "redis"),
	}, nil
}

// Get returns the value for key, refreshing its sliding expiration via GETEX.
// Per-key TTLs set at write time are not tracked here, so reads re-arm the
// default window. Backend failures degrade to a miss: the error is logged and
// ErrNotFound is returned so callers can re-derive state from a secondary
// source.
func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.GetEx(ctx, key, r.defaultTTL).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		r.logger.Warn("redis get failed, treating as miss", "key", key, "error", err)
		return nil, ErrNotFound
	}
	return data, nil
}

// Set stores value under key with the given sliding TTL. A backend failure is
// fatal to the write and surfaces as ErrStateUnavailable.
func (r *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = r.defaultTTL
	}
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: set %q: %v", ErrStateUnavailable, key, err)
	}
	return nil
}

// Remove deletes key. Removing a missing key is a no-op.
func (r *RedisStore) Remove(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: del %q: %v", ErrStateUnavailable, key, err)
	}
	return nil
}

// Exists reports whether key is present without refreshing its TTL.
func (r *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		r.logger.Warn("redis exists failed, treating as absent", "key", key, "error", err)
		return false, nil
	}
	return n > 0, nil
}

// GetKeysByPattern is unsupported on the redis backend. Returns an empty
// slice and logs so cross-backend callers see a uniform contract.
func (r *RedisStore) GetKeysByPattern(_ context.Context, pattern string) ([]string, error) {
	r.logger.Warn("pattern enumeration not supported on redis backend", "pattern", pattern)
	return nil, nil
}

// ClearByPattern is unsupported on the redis backend. Returns zero and logs.
func (r *RedisStore) ClearByPattern(_ context.Context, pattern string) (int, error) {
	r.logger.Warn("pattern clearing not supported on redis backend", "pattern", pattern)
	return 0, nil
}

// Close releases the redis client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
