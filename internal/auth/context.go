// ABOUTME: Identity propagation through request handlers
// ABOUTME: Provides WithIdentity/FromContext for carrying auth info via context

package auth

import (
	"context"
)

// Identity holds the authenticated caller information extracted from a
// request. Populated by the HTTP middleware and read back in handlers.
type Identity struct {
	Subject string   // stable caller identifier from the token's sub claim
	Scopes  []string // optional capability scopes from the token
}

// HasScope returns true if the identity carries the named scope.
func (id *Identity) HasScope(scope string) bool {
	for _, s := range id.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// identityKey is the key type for storing Identity in context.Context.
type identityKey struct{}

// WithIdentity returns a new context with the Identity attached.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext retrieves the Identity from the context, returning nil if not
// present.
func FromContext(ctx context.Context) *Identity {
	val := ctx.Value(identityKey{})
	if val == nil {
		return nil
	}
	id, ok := val.(*Identity)
	if !ok {
		return nil
	}
	return id
}
