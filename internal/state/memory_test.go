// ABOUTME: Tests for the in-process state store
// ABOUTME: Covers sliding TTL, pattern operations, typed helpers, concurrency

package state

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, opts ...MemoryOption) *MemoryStore {
	t.Helper()
	s := NewMemoryStore(nil, opts...)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestMemoryStore_SetThenGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "conv-1:answer", []byte(`"42"`), 0))

	got, err := s.Get(ctx, "conv-1:answer")
	require.NoError(t, err)
	assert.Equal(t, []byte(`"42"`), got)
}

func TestMemoryStore_GetMissing(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_ExpiresAfterTTL(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", []byte("v"), 30*time.Millisecond))

	time.Sleep(60 * time.Millisecond)

	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)

	exists, err := s.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMemoryStore_ReadSlidesExpiration(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", []byte("v"), 80*time.Millisecond))

	// Keep touching the entry past its original window
	for i := 0; i < 4; i++ {
		time.Sleep(40 * time.Millisecond)
		_, err := s.Get(ctx, "k")
		require.NoError(t, err, "read %d should refresh the sliding window", i)
	}
}

func TestMemoryStore_RemoveIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", []byte("v"), 0))
	require.NoError(t, s.Remove(ctx, "k"))
	require.NoError(t, s.Remove(ctx, "k"))

	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_GetKeysByPattern(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "conv-1:azure:plan", []byte("a"), 0))
	require.NoError(t, s.Set(ctx, "conv-1:github:plan", []byte("b"), 0))
	require.NoError(t, s.Set(ctx, "conv-2:azure:plan", []byte("c"), 0))

	keys, err := s.GetKeysByPattern(ctx, "conv-1:*")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"conv-1:azure:plan", "conv-1:github:plan"}, keys)
}

func TestMemoryStore_ClearByPattern(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "conv-1:a", []byte("a"), 0))
	require.NoError(t, s.Set(ctx, "conv-1:b", []byte("b"), 0))
	require.NoError(t, s.Set(ctx, "conv-2:a", []byte("c"), 0))

	removed, err := s.ClearByPattern(ctx, "conv-1:*")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	_, err = s.Get(ctx, "conv-1:a")
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := s.Get(ctx, "conv-2:a")
	require.NoError(t, err)
	assert.Equal(t, []byte("c"), got)
}

func TestMemoryStore_Sweeper(t *testing.T) {
	s := newTestStore(t, WithSweepInterval(20*time.Millisecond))
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", []byte("v"), 10*time.Millisecond))

	time.Sleep(80 * time.Millisecond)

	s.mu.RLock()
	_, present := s.entries["k"]
	s.mu.RUnlock()
	assert.False(t, present, "sweeper should reclaim expired entries")
}

func TestMemoryStore_JSONHelpers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	type prefs struct {
		Region  string `json:"region"`
		Verbose bool   `json:"verbose"`
	}

	require.NoError(t, SetJSON(ctx, s, "conv-1:prefs", prefs{Region: "westeurope", Verbose: true}, 0))

	var got prefs
	require.NoError(t, GetJSON(ctx, s, "conv-1:prefs", &got))
	assert.Equal(t, "westeurope", got.Region)
	assert.True(t, got.Verbose)

	var missing prefs
	err := GetJSON(ctx, s, "conv-1:absent", &missing)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := "conv-1:counter"
			for j := 0; j < 50; j++ {
				_ = s.Set(ctx, key, []byte{byte(n)}, 0)
				_, _ = s.Get(ctx, key)
				_, _ = s.GetKeysByPattern(ctx, "conv-1:*")
			}
		}(i)
	}
	wg.Wait()

	// Last write wins; any of the written values is acceptable
	got, err := s.Get(ctx, "conv-1:counter")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestMemoryStore_CloseIsIdempotent(t *testing.T) {
	s := NewMemoryStore(nil)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}
