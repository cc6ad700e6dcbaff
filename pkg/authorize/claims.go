package authorize

import (
	"sort"
	"strings"
	"time"
)

// Claim names as they appear in the token payload.
const (
	ClaimIssuer           = "iss"
	ClaimName             = "name"
	ClaimEmail            = "email"
	ClaimAccessTokenHash  = "at_hah"
	ClaimRefreshTokenHash = "rt_hah"
	ClaimScope            = "scope"
	ClaimUserID           = "acat:id"
)

// RawClaims is the unvalidated payload of a token.
type RawClaims struct {
	Issuer           string
	Name             string
	Email            string
	AccessTokenHash  string
	RefreshTokenHash string
	Scope            string
	UserID           string

	Audience  []string
	ExpiresAt time.Time
	IssuedAt  time.Time
}

// Claims is a fully populated claim set. The only way to obtain one is NewClaims.
type Claims struct {
	issuer           string
	name             string
	email            string
	accessTokenHash  string
	refreshTokenHash string
	scope            string
	userID           string
	scopes           ScopeSet
	audience         []string
	expiresAt        time.Time
	issuedAt         time.Time
}

// NewClaims validates raw and returns the claim set. Required claims are
// checked in a fixed order so the reported claim is deterministic.
func NewClaims(raw RawClaims) (*Claims, error) {
	required := []struct {
		name  string
		value string
	}{
		{ClaimIssuer, raw.Issuer},
		{ClaimName, raw.Name},
		{ClaimEmail, raw.Email},
		{ClaimAccessTokenHash, raw.AccessTokenHash},
		{ClaimRefreshTokenHash, raw.RefreshTokenHash},
		{ClaimScope, raw.Scope},
		{ClaimUserID, raw.UserID},
	}
	for _, c := range required {
		if strings.TrimSpace(c.value) == "" {
			return nil, NewError(KindInvalidClaims, raw.Issuer, &MissingClaimError{Claim: c.name})
		}
	}

	return &Claims{
		issuer:           raw.Issuer,
		name:             raw.Name,
		email:            raw.Email,
		accessTokenHash:  raw.AccessTokenHash,
		refreshTokenHash: raw.RefreshTokenHash,
		scope:            raw.Scope,
		userID:           raw.UserID,
		scopes:           ParseScopes(raw.Scope),
		audience:         append([]string(nil), raw.Audience...),
		expiresAt:        raw.ExpiresAt,
		issuedAt:         raw.IssuedAt,
	}, nil
}

func (c *Claims) Issuer() string           { return c.issuer }
func (c *Claims) Name() string             { return c.name }
func (c *Claims) Email() string            { return c.email }
func (c *Claims) AccessTokenHash() string  { return c.accessTokenHash }
func (c *Claims) RefreshTokenHash() string { return c.refreshTokenHash }
func (c *Claims) UserID() string           { return c.userID }
func (c *Claims) Scope() string            { return c.scope }
func (c *Claims) ExpiresAt() time.Time     { return c.expiresAt }
func (c *Claims) IssuedAt() time.Time      { return c.issuedAt }

// Scopes returns a copy of the scope set.
func (c *Claims) Scopes() ScopeSet {
	out := make(ScopeSet, len(c.scopes))
	for k := range c.scopes {
		out[k] = struct{}{}
	}
	return out
}

// HasScope reports whether scope was granted.
func (c *Claims) HasScope(scope string) bool {
	return c.scopes.Has(scope)
}

// Audience returns a copy of the audience claim.
func (c *Claims) Audience() []string {
	return append([]string(nil), c.audience...)
}

// HasAudience reports whether aud is one of the token's audiences.
func (c *Claims) HasAudience(aud string) bool {
	for _, a := range c.audience {
		if a == aud {
			return true
		}
	}
	return false
}

// ScopeSet is the whitespace-separated scope claim with set semantics.
type ScopeSet map[string]struct{}

// ParseScopes splits a scope claim on whitespace.
func ParseScopes(scope string) ScopeSet {
	fields := strings.Fields(scope)
	set := make(ScopeSet, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// Has reports membership.
func (s ScopeSet) Has(scope string) bool {
	_, ok := s[scope]
	return ok
}

// List returns the scopes sorted.
func (s ScopeSet) List() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (s ScopeSet) String() string {
	return strings.Join(s.List(), " ")
}
