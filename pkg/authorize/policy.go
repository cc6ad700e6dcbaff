package authorize

import (
	"fmt"
)

// Policy holds the requirements of one protected resource. Empty fields are
// not enforced; with no Issuer any issuer that has a trust entry is accepted.
type Policy struct {
	Scope    string
	Issuer   string
	Audience string
}

// Enforce decides whether verified claims satisfy the policy.
func (p Policy) Enforce(claims *Claims) error {
	if p.Scope != "" && !claims.HasScope(p.Scope) {
		return NewError(KindScopeMismatch, claims.Issuer(), fmt.Errorf("scope %q not granted", p.Scope))
	}
	if p.Issuer != "" && claims.Issuer() != p.Issuer {
		return NewError(KindIssuerRejected, claims.Issuer(), fmt.Errorf("expected issuer %q", p.Issuer))
	}
	if p.Audience != "" && !claims.HasAudience(p.Audience) {
		return NewError(KindIssuerRejected, claims.Issuer(), fmt.Errorf("token is invalid for audience %q", p.Audience))
	}
	return nil
}
