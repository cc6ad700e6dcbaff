// Package proxy hands authorized requests to the protected application,
// carrying the verified identity in X-Forwarded-* headers.
package proxy

import (
	"encoding/json"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/go-chi/chi/middleware"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/openshift/tokengate/pkg/authorize"
)

// Identity headers set on every forwarded request. Inbound values are
// always dropped so callers cannot assert an identity themselves.
const (
	HeaderUser              = "X-Forwarded-User"
	HeaderEmail             = "X-Forwarded-Email"
	HeaderPreferredUsername = "X-Forwarded-Preferred-Username"
	HeaderScopes            = "X-Forwarded-Scopes"
	HeaderIssuer            = "X-Forwarded-Issuer"
)

var identityHeaders = []string{HeaderUser, HeaderEmail, HeaderPreferredUsername, HeaderScopes, HeaderIssuer}

// New returns a reverse proxy to upstream. Requests without a verified
// identity, such as bypassed pre-flight requests, are forwarded anonymously.
func New(logger log.Logger, upstream *url.URL, transport http.RoundTripper) http.Handler {
	logger = log.With(logger, "component", "proxy", "upstream", upstream.Redacted())

	rp := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(upstream)
			pr.SetXForwarded()
			for _, h := range identityHeaders {
				pr.Out.Header.Del(h)
			}
			if identity, ok := authorize.FromContext(pr.In.Context()); ok {
				SetIdentityHeaders(pr.Out.Header, identity)
			}
		},
		Transport: transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			level.Warn(logger).Log("msg", "upstream request failed", "request", middleware.GetReqID(r.Context()), "err", err)
			http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		},
	}

	return rp
}

// SetIdentityHeaders replaces the identity headers in h.
func SetIdentityHeaders(h http.Header, identity *authorize.Identity) {
	h.Set(HeaderUser, identity.UserID())
	h.Set(HeaderEmail, identity.Email())
	h.Set(HeaderPreferredUsername, identity.Name())
	h.Set(HeaderScopes, identity.Scopes().String())
	h.Set(HeaderIssuer, identity.Issuer())
}

// IdentityResponse is the body written by Echo.
type IdentityResponse struct {
	Subject  string   `json:"sub"`
	Issuer   string   `json:"iss"`
	Name     string   `json:"name"`
	Email    string   `json:"email"`
	Scopes   []string `json:"scopes"`
	Audience []string `json:"aud,omitempty"`
}

// NewIdentityResponse describes identity.
func NewIdentityResponse(identity *authorize.Identity) IdentityResponse {
	return IdentityResponse{
		Subject:  identity.UserID(),
		Issuer:   identity.Issuer(),
		Name:     identity.Name(),
		Email:    identity.Email(),
		Scopes:   identity.Scopes().List(),
		Audience: identity.Audience(),
	}
}

// Echo answers with the verified identity as JSON. It serves deployments
// without an upstream. Bypassed pre-flight requests get an empty 204.
func Echo(w http.ResponseWriter, r *http.Request) {
	identity, ok := authorize.FromContext(r.Context())
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(NewIdentityResponse(identity)); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
