// ABOUTME: Tests for the bcrypt-backed MCP token store
// ABOUTME: Covers issue/validate round-trips, malformed tokens, and revocation

package mcp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenStore_RoundTrip(t *testing.T) {
	store := NewTokenStore()

	token, err := store.CreateToken([]string{"tools:call", "jobs:read"})
	require.NoError(t, err)
	assert.Contains(t, token, ".")

	scopes := store.Validate(token)
	assert.Equal(t, []string{"tools:call", "jobs:read"}, scopes)
	assert.Equal(t, 1, store.TokenCount())
}

func TestTokenStore_WrongSecret(t *testing.T) {
	store := NewTokenStore()

	token, err := store.CreateToken([]string{"tools:call"})
	require.NoError(t, err)

	id, _, _ := strings.Cut(token, ".")
	assert.Nil(t, store.Validate(id+".wrong-secret"))
}

func TestTokenStore_Malformed(t *testing.T) {
	store := NewTokenStore()

	assert.Nil(t, store.Validate(""))
	assert.Nil(t, store.Validate("no-separator"))
	assert.Nil(t, store.Validate(".only-secret"))
	assert.Nil(t, store.Validate("only-id."))
}

func TestTokenStore_Invalidate(t *testing.T) {
	store := NewTokenStore()

	token, err := store.CreateToken([]string{"tools:call"})
	require.NoError(t, err)

	store.InvalidateToken(token)
	assert.Nil(t, store.Validate(token))
	assert.Zero(t, store.TokenCount())
}

func TestTokenStore_ScopesAreCopied(t *testing.T) {
	store := NewTokenStore()

	token, err := store.CreateToken([]string{"tools:call"})
	require.NoError(t, err)

	scopes := store.Validate(token)
	scopes[0] = "mutated"
	assert.Equal(t, []string{"tools:call"}, store.Validate(token))
}
