// Package jwttest mints signed tokens and key material for tests.
package jwttest

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"time"

	jose "github.com/go-jose/go-jose/v3"
	"github.com/go-jose/go-jose/v3/jwt"
)

// Identity is the set of identity claims a test token carries. Empty fields
// are left out of the payload.
type Identity struct {
	Name             string `json:"name,omitempty"`
	Email            string `json:"email,omitempty"`
	AccessTokenHash  string `json:"at_hah,omitempty"`
	RefreshTokenHash string `json:"rt_hah,omitempty"`
	Scope            string `json:"scope,omitempty"`
	UserID           string `json:"acat:id,omitempty"`
}

// DefaultIdentity returns a complete identity with the given scope.
func DefaultIdentity(scope string) Identity {
	return Identity{
		Name:             "Jane Doe",
		Email:            "jane@example.org",
		AccessTokenHash:  "x0w8cVlM2a8LJ3-rdXk6CA",
		RefreshTokenHash: "t8bx4Vfa6gq3E0XslI2dTw",
		Scope:            scope,
	}
}

// Signer signs tokens for one issuer.
type Signer struct {
	Issuer     string
	KeyID      string
	privateKey crypto.Signer
}

func NewSigner(issuer string, private crypto.Signer) *Signer {
	return &Signer{
		Issuer:     issuer,
		privateKey: private,
	}
}

// NewRSASigner generates a fresh 2048 bit RSA key.
func NewRSASigner(issuer string) (*Signer, error) {
	pk, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	return NewSigner(issuer, pk), nil
}

// NewECSigner generates a fresh P-256 key.
func NewECSigner(issuer string) (*Signer, error) {
	pk, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return NewSigner(issuer, pk), nil
}

// Algorithm returns the algorithm the signer's key implies.
func (s *Signer) Algorithm() (jose.SignatureAlgorithm, error) {
	switch privateKey := s.privateKey.(type) {
	case *rsa.PrivateKey:
		return jose.RS256, nil
	case *ecdsa.PrivateKey:
		switch privateKey.Curve {
		case elliptic.P256():
			return jose.ES256, nil
		case elliptic.P384():
			return jose.ES384, nil
		case elliptic.P521():
			return jose.ES512, nil
		default:
			return "", fmt.Errorf("unknown private key curve, must be 256, 384, or 521")
		}
	default:
		return "", fmt.Errorf("unknown private key type %T, must be *rsa.PrivateKey or *ecdsa.PrivateKey", s.privateKey)
	}
}

// PrivateKey returns the signing key.
func (s *Signer) PrivateKey() crypto.Signer { return s.privateKey }

// PublicKeyPEM returns the public key as a PKIX "PUBLIC KEY" block.
func (s *Signer) PublicKeyPEM() ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(s.privateKey.Public())
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// JWKS returns the public key as a JSON Web Key Set.
func (s *Signer) JWKS() ([]byte, error) {
	alg, err := s.Algorithm()
	if err != nil {
		return nil, err
	}
	return json.Marshal(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
		Key:       s.privateKey.Public(),
		KeyID:     s.KeyID,
		Algorithm: string(alg),
		Use:       "sig",
	}}})
}

// Claims returns registered claims for subject valid for ttl from now.
func (s *Signer) Claims(subject string, ttl time.Duration, audience ...string) *jwt.Claims {
	now := time.Now()
	return &jwt.Claims{
		Issuer:    s.Issuer,
		Subject:   subject,
		Audience:  jwt.Audience(audience),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		Expiry:    jwt.NewNumericDate(now.Add(ttl)),
	}
}

// GenerateToken signs the given claims. Registered claims take precedence over
// identity, and the subject doubles as user id when identity has none.
func (s *Signer) GenerateToken(claims *jwt.Claims, identity Identity) (string, error) {
	if identity.UserID == "" {
		identity.UserID = claims.Subject
	}

	alg, err := s.Algorithm()
	if err != nil {
		return "", err
	}

	opts := (&jose.SignerOptions{}).WithType("JWT")
	if s.KeyID != "" {
		opts = opts.WithHeader("kid", s.KeyID)
	}
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: alg, Key: s.privateKey}, opts)
	if err != nil {
		return "", err
	}

	// claims are applied in reverse precedence
	return jwt.Signed(signer).
		Claims(identity).
		Claims(claims).
		CompactSerialize()
}

// Token is GenerateToken for a default identity with the given subject and scope, valid for an hour.
func (s *Signer) Token(subject, scope string, audience ...string) (string, error) {
	return s.GenerateToken(s.Claims(subject, time.Hour, audience...), DefaultIdentity(scope))
}
