package authorize

import (
	"errors"
	"fmt"
)

// Kind classifies why an authorization pass rejected a request.
type Kind string

const (
	KindMissingCredential   Kind = "missing_credential"
	KindMalformedCredential Kind = "malformed_credential"
	KindMalformedToken      Kind = "malformed_token"
	KindInvalidClaims       Kind = "invalid_claims"
	KindUnknownIssuer       Kind = "unknown_issuer"
	KindMisconfiguredTrust  Kind = "misconfigured_trust"
	KindKeyFetchFailed      Kind = "key_fetch_failed"
	KindSignatureInvalid    Kind = "signature_invalid"
	KindScopeMismatch       Kind = "scope_mismatch"
	KindIssuerRejected      Kind = "issuer_rejected"
)

var kindMessages = map[Kind]string{
	KindMissingCredential:   "credential missing",
	KindMalformedCredential: "credential malformed",
	KindMalformedToken:      "token malformed",
	KindInvalidClaims:       "token claims invalid",
	KindUnknownIssuer:       "issuer unknown",
	KindMisconfiguredTrust:  "trust configuration invalid",
	KindKeyFetchFailed:      "key fetch failed",
	KindSignatureInvalid:    "signature invalid",
	KindScopeMismatch:       "scope doesn't match",
	KindIssuerRejected:      "issuer rejected",
}

// OperatorFault reports whether the kind points at deployment configuration
// rather than at the caller.
func (k Kind) OperatorFault() bool {
	return k == KindMisconfiguredTrust
}

// Class groups kinds for metrics and log routing: "operator", "upstream" or "caller".
func (k Kind) Class() string {
	switch k {
	case KindMisconfiguredTrust:
		return "operator"
	case KindKeyFetchFailed:
		return "upstream"
	default:
		return "caller"
	}
}

// Error is returned by every step of the authorization chain.
// Issuer is empty until the token has been decoded.
type Error struct {
	Kind   Kind
	Issuer string
	Err    error
}

func (e *Error) Error() string {
	msg, ok := kindMessages[e.Kind]
	if !ok {
		msg = string(e.Kind)
	}
	if e.Issuer != "" {
		msg = fmt.Sprintf("%s (issuer %q)", msg, e.Issuer)
	}
	if e.Err == nil {
		return msg
	}
	return fmt.Sprintf("%s: %v", msg, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with the given kind.
func NewError(kind Kind, issuer string, err error) *Error {
	return &Error{Kind: kind, Issuer: issuer, Err: err}
}

// KindOf extracts the kind from err, or "" if err does not carry one.
func KindOf(err error) Kind {
	var aerr *Error
	if errors.As(err, &aerr) {
		return aerr.Kind
	}
	return ""
}

// IssuerOf extracts the issuer recorded on err, if any.
func IssuerOf(err error) string {
	var aerr *Error
	if errors.As(err, &aerr) {
		return aerr.Issuer
	}
	return ""
}

// MissingClaimError names the first required claim that was absent or empty.
type MissingClaimError struct {
	Claim string
}

func (e *MissingClaimError) Error() string {
	return fmt.Sprintf("required claim %q is missing or empty", e.Claim)
}
