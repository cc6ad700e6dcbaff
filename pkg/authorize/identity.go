package authorize

import (
	"context"
)

// Authorizer turns a raw credential into a verified, policy-cleared identity.
type Authorizer interface {
	Authorize(ctx context.Context, credential string) (*Identity, error)
}

// AuthorizerFunc adapts a function to the Authorizer interface.
type AuthorizerFunc func(ctx context.Context, credential string) (*Identity, error)

func (f AuthorizerFunc) Authorize(ctx context.Context, credential string) (*Identity, error) {
	return f(ctx, credential)
}

// Identity is a claim set that passed signature verification and policy
// enforcement. It is read-only and lives for a single request.
type Identity struct {
	*Claims
}

// NewIdentity marks claims as verified.
func NewIdentity(claims *Claims) *Identity {
	return &Identity{Claims: claims}
}

type key int

const identityKey key = iota

// WithIdentity attaches the verified identity to ctx.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// FromContext returns the identity attached by the authorization middleware.
func FromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityKey).(*Identity)
	return identity, ok && identity != nil
}
