package httpx

import (
	"context"
)

// Identity is the caller resolved from gateway headers.
type Identity struct {
	UserID string
	Plan   string
}

// identityKey is an unexported context key type to avoid collisions across packages.
type identityKey struct{}

// WithIdentity returns a child context that carries the caller identity.
// An identity without a user id leaves ctx unchanged.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	if id.UserID == "" {
		return ctx
	}
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the caller identity and whether one is present.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok && id.UserID != ""
}
