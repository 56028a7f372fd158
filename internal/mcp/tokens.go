// ABOUTME: MCP access token store with bcrypt-hashed secrets at rest
// ABOUTME: Tokens carry the form <id>.<secret>; only the id is stored in clear

package mcp

import (
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// tokenRecord holds one issued token: the bcrypt hash of its secret half and
// the scopes it grants.
type tokenRecord struct {
	secretHash []byte
	scopes     []string
}

// TokenStore manages MCP access tokens. Issued tokens have the form
// "<id>.<secret>"; only a bcrypt hash of the secret is retained, so a copy
// of the store contents cannot be replayed.
type TokenStore struct {
	mu     sync.RWMutex
	tokens map[string]*tokenRecord // id -> record
}

// NewTokenStore creates an empty token store.
func NewTokenStore() *TokenStore {
	return &TokenStore{
		tokens: make(map[string]*tokenRecord),
	}
}

// CreateToken issues a new token granting the given scopes. The returned
// string is the only copy of the full token; it cannot be recovered later.
func (s *TokenStore) CreateToken(scopes []string) (string, error) {
	id := uuid.New().String()
	secret := uuid.New().String()

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}

	scopesCopy := make([]string, len(scopes))
	copy(scopesCopy, scopes)

	s.mu.Lock()
	s.tokens[id] = &tokenRecord{secretHash: hash, scopes: scopesCopy}
	s.mu.Unlock()

	return id + "." + secret, nil
}

// Validate checks a presented token and returns the scopes it grants, or
// nil when the token is unknown, malformed, or has the wrong secret.
func (s *TokenStore) Validate(token string) []string {
	id, secret, ok := strings.Cut(token, ".")
	if !ok || id == "" || secret == "" {
		return nil
	}

	s.mu.RLock()
	rec, found := s.tokens[id]
	s.mu.RUnlock()
	if !found {
		return nil
	}

	if bcrypt.CompareHashAndPassword(rec.secretHash, []byte(secret)) != nil {
		return nil
	}

	result := make([]string, len(rec.scopes))
	copy(result, rec.scopes)
	return result
}

// InvalidateToken revokes a token by its full value or bare id.
func (s *TokenStore) InvalidateToken(token string) {
	id, _, _ := strings.Cut(token, ".")
	s.mu.Lock()
	delete(s.tokens, id)
	s.mu.Unlock()
}

// TokenCount returns the number of active tokens.
func (s *TokenStore) TokenCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokens)
}
