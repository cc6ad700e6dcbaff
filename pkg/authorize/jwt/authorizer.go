package jwt

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/openshift/tokengate/pkg/authorize"
)

// KeyResolver returns the key material trusted for an issuer.
type KeyResolver interface {
	Resolve(ctx context.Context, issuer string) ([]byte, error)
}

// Authorizer runs decode, trust resolution, signature verification and
// policy enforcement in order, stopping at the first failure.
type Authorizer struct {
	resolver KeyResolver
	verifier *Verifier
	policy   authorize.Policy
}

var _ authorize.Authorizer = (*Authorizer)(nil)

func NewAuthorizer(resolver KeyResolver, verifier *Verifier, policy authorize.Policy) *Authorizer {
	return &Authorizer{
		resolver: resolver,
		verifier: verifier,
		policy:   policy,
	}
}

func (a *Authorizer) Authorize(ctx context.Context, credential string) (*authorize.Identity, error) {
	span := trace.SpanFromContext(ctx)

	tok, err := Decode(credential)
	if err != nil {
		return nil, err
	}
	issuer := tok.Claims.Issuer()
	span.AddEvent("decoded", trace.WithAttributes(attribute.String("tokengate.issuer", issuer)))

	material, err := a.resolver.Resolve(ctx, issuer)
	if err != nil {
		return nil, err
	}
	span.AddEvent("trust resolved")

	if err := a.verifier.Verify(tok, material); err != nil {
		return nil, err
	}
	span.AddEvent("signature verified")

	if err := a.policy.Enforce(tok.Claims); err != nil {
		return nil, err
	}
	return authorize.NewIdentity(tok.Claims), nil
}
