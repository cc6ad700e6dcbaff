// Package oauth2 authenticates the key fetch client against a key server.
package oauth2

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/openshift/tokengate/pkg/config"
)

// NewTransport wraps base so that every request carries a bearer token
// obtained with the configured grant. Without a grant base is returned as is.
// Token requests themselves go through tokenClient.
func NewTransport(ctx context.Context, auth config.KeyServerAuth, tokenClient *http.Client, base http.RoundTripper) (http.RoundTripper, error) {
	src, err := NewTokenSource(ctx, auth, tokenClient)
	if err != nil {
		return nil, err
	}
	if src == nil {
		return base, nil
	}
	return &oauth2.Transport{Base: base, Source: src}, nil
}

// NewTokenSource returns a reusing token source for the configured grant,
// or nil if no grant is configured.
func NewTokenSource(ctx context.Context, auth config.KeyServerAuth, tokenClient *http.Client) (oauth2.TokenSource, error) {
	if tokenClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, tokenClient)
	}

	var params url.Values
	if auth.Audience != "" {
		params = url.Values{"audience": []string{auth.Audience}}
	}

	switch auth.Grant {
	case "":
		return nil, nil
	case "client_credentials":
		cfg := clientcredentials.Config{
			ClientID:       auth.ClientID,
			ClientSecret:   auth.ClientSecret,
			TokenURL:       auth.TokenURL,
			Scopes:         auth.Scopes,
			EndpointParams: params,
		}
		return cfg.TokenSource(ctx), nil
	case "password":
		cfg := &oauth2.Config{
			ClientID:     auth.ClientID,
			ClientSecret: auth.ClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: auth.TokenURL},
			Scopes:       auth.Scopes,
		}
		return NewPasswordCredentialsTokenSource(ctx, cfg, auth.Username, auth.Password), nil
	default:
		return nil, errors.Errorf("unsupported grant %q", auth.Grant)
	}
}

// PasswordCredentialsTokenSource implements the resource owner password grant
// (RFC 6749 section 4.3). The access token is reused until it expires and
// refreshed while the refresh token is valid; once the refresh token expires a
// new pair is requested with the username and password.
//
// It is safe for concurrent use.
type PasswordCredentialsTokenSource struct {
	ctx                context.Context
	cfg                *oauth2.Config
	username, password string

	mu      sync.Mutex // protects the fields below
	refresh *oauth2.Token
	access  oauth2.TokenSource
}

// NewPasswordCredentialsTokenSource returns a token source for username and password.
func NewPasswordCredentialsTokenSource(ctx context.Context, cfg *oauth2.Config, username, password string) *PasswordCredentialsTokenSource {
	return &PasswordCredentialsTokenSource{
		ctx:      ctx,
		cfg:      cfg,
		username: username,
		password: password,
	}
}

// Token returns a valid access token.
func (s *PasswordCredentialsTokenSource) Token() (*oauth2.Token, error) {
	return s.token(time.Now)
}

func (s *PasswordCredentialsTokenSource) token(now func() time.Time) (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.refresh.Valid() {
		tok, err := s.access.Token()
		if err != nil {
			return nil, errors.Wrap(err, "refresh access token")
		}
		if tok.RefreshToken == s.refresh.RefreshToken {
			return tok, nil
		}
		s.trackRefresh(tok, now)
		return tok, nil
	}

	tok, err := s.cfg.PasswordCredentialsToken(s.ctx, s.username, s.password)
	if err != nil {
		return nil, errors.Wrap(err, "request password credentials token")
	}
	s.access = s.cfg.TokenSource(s.ctx, tok)
	s.trackRefresh(tok, now)
	return tok, nil
}

// trackRefresh records when the refresh token of tok expires. Servers that
// do not announce refresh_expires_in get a new pair once the access token expires.
func (s *PasswordCredentialsTokenSource) trackRefresh(tok *oauth2.Token, now func() time.Time) {
	expiry := tok.Expiry
	if expires, ok := tok.Extra("refresh_expires_in").(float64); ok {
		expiry = now().Add(time.Duration(int64(expires)) * time.Second)
	}
	if tok.RefreshToken == "" {
		s.refresh = nil
		return
	}

	// A stand-in token whose Valid() tells whether the refresh token can still be used.
	s.refresh = &oauth2.Token{
		AccessToken:  tok.RefreshToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       expiry,
	}
}
