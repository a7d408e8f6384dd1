// Package auth verifies handshake tokens and carries the verified identity
// through request contexts.
package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/readify/gateway/internal/apperr"
)

// ErrUnauthorized is returned for any token that fails verification. It
// belongs to the unauthenticated category.
var ErrUnauthorized = fmt.Errorf("unauthorized: %w", apperr.ErrUnauthenticated)

// Identity is the verified principal behind a connection.
type Identity struct {
	UserID      int64
	DisplayName string
	ExpiresAt   time.Time // zero when the token carries no expiry
}

// Verifier validates a bearer token and returns the identity it names.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

type identityKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the identity bound to ctx, if any.
func IdentityFrom(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(*Identity)
	return id, ok && id != nil
}
