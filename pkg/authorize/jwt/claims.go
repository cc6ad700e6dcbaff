package jwt

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/go-jose/go-jose/v3/jwt"

	"github.com/openshift/tokengate/pkg/authorize"
)

// privateClaims are the identity claims carried next to the registered ones.
// The user id is the issuer's account id, not "sub".
type privateClaims struct {
	Name             string `json:"name,omitempty"`
	Email            string `json:"email,omitempty"`
	AccessTokenHash  string `json:"at_hah,omitempty"`
	RefreshTokenHash string `json:"rt_hah,omitempty"`
	Scope            string `json:"scope,omitempty"`
	UserID           string `json:"acat:id,omitempty"`
}

// Token is a decoded but not yet verified credential.
type Token struct {
	// Segments holds the encoded header, payload and signature.
	Segments [3]string
	// Claims must not be trusted before Verifier.Verify succeeds.
	Claims *authorize.Claims

	jws *jwt.JSONWebToken
}

// Algorithm returns the signing algorithm named in the protected header.
func (t *Token) Algorithm() string {
	if len(t.jws.Headers) == 0 {
		return ""
	}
	return t.jws.Headers[0].Algorithm
}

// KeyID returns the "kid" header, if any.
func (t *Token) KeyID() string {
	if len(t.jws.Headers) == 0 {
		return ""
	}
	return t.jws.Headers[0].KeyID
}

// Decode parses a compact JWS without checking its signature and builds the
// claim set. Structural problems are reported as KindMalformedToken, missing
// required claims as KindInvalidClaims.
func Decode(credential string) (*Token, error) {
	parts := strings.Split(credential, ".")
	if len(parts) != 3 {
		return nil, authorize.NewError(authorize.KindMalformedToken, "", fmt.Errorf("expected 3 segments, got %d", len(parts)))
	}
	for i, part := range parts {
		if _, err := base64.RawURLEncoding.DecodeString(part); err != nil {
			return nil, authorize.NewError(authorize.KindMalformedToken, "", fmt.Errorf("segment %d is not base64url: %w", i, err))
		}
	}

	tok, err := jwt.ParseSigned(credential)
	if err != nil {
		return nil, authorize.NewError(authorize.KindMalformedToken, "", err)
	}
	if len(tok.Headers) != 1 {
		return nil, authorize.NewError(authorize.KindMalformedToken, "", fmt.Errorf("expected one signature, got %d", len(tok.Headers)))
	}

	public := &jwt.Claims{}
	private := &privateClaims{}
	if err := tok.UnsafeClaimsWithoutVerification(public, private); err != nil {
		return nil, authorize.NewError(authorize.KindMalformedToken, "", err)
	}

	raw := authorize.RawClaims{
		Issuer:           public.Issuer,
		Name:             private.Name,
		Email:            private.Email,
		AccessTokenHash:  private.AccessTokenHash,
		RefreshTokenHash: private.RefreshTokenHash,
		Scope:            private.Scope,
		UserID:           private.UserID,
		Audience:         []string(public.Audience),
	}
	if public.Expiry != nil {
		raw.ExpiresAt = public.Expiry.Time()
	}
	if public.IssuedAt != nil {
		raw.IssuedAt = public.IssuedAt.Time()
	}

	claims, err := authorize.NewClaims(raw)
	if err != nil {
		return nil, err
	}

	return &Token{
		Segments: [3]string{parts[0], parts[1], parts[2]},
		Claims:   claims,
		jws:      tok,
	}, nil
}
