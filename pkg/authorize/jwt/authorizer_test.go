package jwt

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/efficientgo/core/testutil"
	"github.com/go-kit/log"
	golangjwt "github.com/golang-jwt/jwt/v5"

	"github.com/openshift/tokengate/pkg/authorize"
	"github.com/openshift/tokengate/pkg/authorize/jwt/jwttest"
)

const issuerA = "https://a.example.org"

type staticResolver map[string][]byte

func (r staticResolver) Resolve(_ context.Context, issuer string) ([]byte, error) {
	material, ok := r[issuer]
	if !ok {
		return nil, authorize.NewError(authorize.KindUnknownIssuer, issuer, fmt.Errorf("no trust entry"))
	}
	if len(material) == 0 {
		return nil, authorize.NewError(authorize.KindMisconfiguredTrust, issuer, fmt.Errorf("empty trust entry"))
	}
	return material, nil
}

// recorder keeps the keyvals of every log line.
type recorder struct {
	mtx   sync.Mutex
	lines []map[string]string
}

func (r *recorder) Log(keyvals ...interface{}) error {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	line := map[string]string{}
	for i := 0; i+1 < len(keyvals); i += 2 {
		line[fmt.Sprint(keyvals[i])] = fmt.Sprint(keyvals[i+1])
	}
	r.lines = append(r.lines, line)
	return nil
}

func (r *recorder) last() map[string]string {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	if len(r.lines) == 0 {
		return nil
	}
	return r.lines[len(r.lines)-1]
}

func (r *recorder) contains(s string) bool {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	for _, line := range r.lines {
		for _, v := range line {
			if strings.Contains(v, s) {
				return true
			}
		}
	}
	return false
}

type fixture struct {
	signer   *jwttest.Signer
	stranger *jwttest.Signer
	resolver staticResolver
	logs     *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	signer, err := jwttest.NewRSASigner(issuerA)
	testutil.Ok(t, err)
	stranger, err := jwttest.NewRSASigner(issuerA)
	testutil.Ok(t, err)

	pemKey, err := signer.PublicKeyPEM()
	testutil.Ok(t, err)

	return &fixture{
		signer:   signer,
		stranger: stranger,
		resolver: staticResolver{
			issuerA:                      pemKey,
			"https://broken.example.org": nil,
		},
		logs: &recorder{},
	}
}

// handler protects a resource requiring scope and records the identity handed downstream.
func (f *fixture) handler(t *testing.T, policy authorize.Policy, seen **authorize.Identity) http.Handler {
	t.Helper()

	verifier, err := NewVerifier("RS256", 0)
	testutil.Ok(t, err)

	next := http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		identity, _ := authorize.FromContext(req.Context())
		if seen != nil {
			*seen = identity
		}
		w.WriteHeader(http.StatusOK)
	})

	return authorize.NewAuthorizeHandler(log.Logger(f.logs), nil, authorize.HandlerConfig{
		Resource:   "api",
		Extractor:  authorize.NewHeaderExtractor("", ""),
		Authorizer: NewAuthorizer(f.resolver, verifier, policy),
	}, next)
}

func serve(h http.Handler, method, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "http://tokengate.local/api", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestAuthorizationScenarios(t *testing.T) {
	f := newFixture(t)

	readWrite, err := f.signer.Token("user-1", "read write")
	testutil.Ok(t, err)
	readOnly, err := f.signer.Token("user-1", "read")
	testutil.Ok(t, err)
	forged, err := f.stranger.Token("user-1", "read write")
	testutil.Ok(t, err)

	t.Run("scope granted", func(t *testing.T) {
		var identity *authorize.Identity
		w := serve(f.handler(t, authorize.Policy{Scope: "write"}, &identity), http.MethodGet, "Bearer "+readWrite)

		testutil.Equals(t, http.StatusOK, w.Code)
		testutil.Assert(t, identity != nil, "expected identity downstream")
		testutil.Equals(t, []string{"read", "write"}, identity.Scopes().List())
		testutil.Equals(t, "user-1", identity.UserID())
		testutil.Equals(t, "granted access", f.logs.last()["msg"])
	})

	for _, tc := range []struct {
		name          string
		method        string
		authorization string
		policy        authorize.Policy
		kind          authorize.Kind
	}{
		{name: "scope missing", authorization: "Bearer " + readOnly, policy: authorize.Policy{Scope: "write"}, kind: authorize.KindScopeMismatch},
		{name: "signed by unknown key", authorization: "Bearer " + forged, kind: authorize.KindSignatureInvalid},
		{name: "no credential", kind: authorize.KindMissingCredential},
		{name: "wrong scheme", authorization: "Basic " + readWrite, kind: authorize.KindMalformedCredential},
		{name: "not a token", authorization: "Bearer abc", kind: authorize.KindMalformedToken},
		{name: "issuer not allowed", authorization: "Bearer " + readWrite, policy: authorize.Policy{Issuer: "https://b.example.org"}, kind: authorize.KindIssuerRejected},
		{name: "audience not allowed", authorization: "Bearer " + readWrite, policy: authorize.Policy{Audience: "billing"}, kind: authorize.KindIssuerRejected},
		{name: "post without credential", method: http.MethodPost, kind: authorize.KindMissingCredential},
	} {
		t.Run(tc.name, func(t *testing.T) {
			method := tc.method
			if method == "" {
				method = http.MethodGet
			}

			var identity *authorize.Identity
			w := serve(f.handler(t, tc.policy, &identity), method, tc.authorization)

			testutil.Equals(t, http.StatusUnauthorized, w.Code)
			testutil.Equals(t, "Unauthorized\n", w.Body.String())
			testutil.Assert(t, identity == nil, "identity must not reach the next handler")
			testutil.Equals(t, string(tc.kind), f.logs.last()["kind"])
			testutil.Equals(t, "warn", f.logs.last()["level"])
		})
	}

	t.Run("preflight bypasses checks", func(t *testing.T) {
		w := serve(f.handler(t, authorize.Policy{Scope: "write"}, nil), http.MethodOptions, "")
		testutil.Equals(t, http.StatusOK, w.Code)
	})

	testutil.Assert(t, !f.logs.contains(readWrite), "raw credential must never be logged")
}

func TestAuthorizationTrustFailures(t *testing.T) {
	f := newFixture(t)

	unknown, err := jwttest.NewRSASigner("https://unknown.example.org")
	testutil.Ok(t, err)
	broken, err := jwttest.NewRSASigner("https://broken.example.org")
	testutil.Ok(t, err)

	unknownToken, err := unknown.Token("user-1", "read")
	testutil.Ok(t, err)
	brokenToken, err := broken.Token("user-1", "read")
	testutil.Ok(t, err)

	h := f.handler(t, authorize.Policy{}, nil)

	w := serve(h, http.MethodGet, "Bearer "+unknownToken)
	testutil.Equals(t, http.StatusUnauthorized, w.Code)
	testutil.Equals(t, string(authorize.KindUnknownIssuer), f.logs.last()["kind"])
	testutil.Equals(t, "https://unknown.example.org", f.logs.last()["issuer"])

	w = serve(h, http.MethodGet, "Bearer "+brokenToken)
	testutil.Equals(t, http.StatusUnauthorized, w.Code)
	line := f.logs.last()
	testutil.Equals(t, string(authorize.KindMisconfiguredTrust), line["kind"])
	testutil.Equals(t, "error", line["level"])
	testutil.Equals(t, "misconfigured_trust", line["alarm"])
	testutil.Equals(t, "operator", line["class"])
}

func TestAuthorizeIdempotent(t *testing.T) {
	f := newFixture(t)
	verifier, err := NewVerifier("RS256", 0)
	testutil.Ok(t, err)
	a := NewAuthorizer(f.resolver, verifier, authorize.Policy{Scope: "read"})

	token, err := f.signer.Token("user-1", "read write")
	testutil.Ok(t, err)
	forged, err := f.stranger.Token("user-1", "read")
	testutil.Ok(t, err)

	first, err := a.Authorize(context.Background(), token)
	testutil.Ok(t, err)
	second, err := a.Authorize(context.Background(), token)
	testutil.Ok(t, err)
	testutil.Equals(t, first.Claims, second.Claims)

	for i := 0; i < 2; i++ {
		_, err := a.Authorize(context.Background(), forged)
		testutil.Equals(t, authorize.KindSignatureInvalid, authorize.KindOf(err))
	}
}

func TestAuthorizeGolangJWTToken(t *testing.T) {
	f := newFixture(t)
	verifier, err := NewVerifier("RS256", time.Second)
	testutil.Ok(t, err)
	a := NewAuthorizer(f.resolver, verifier, authorize.Policy{Scope: "write", Audience: "api"})

	tok := golangjwt.NewWithClaims(golangjwt.SigningMethodRS256, golangjwt.MapClaims{
		"iss":     issuerA,
		"acat:id": "user-2",
		"aud":     "api",
		"exp":     time.Now().Add(time.Hour).Unix(),
		"name":    "John Roe",
		"email":   "john@example.org",
		"at_hah":  "aaaa",
		"rt_hah":  "bbbb",
		"scope":   "write",
	})
	signed, err := tok.SignedString(f.signer.PrivateKey())
	testutil.Ok(t, err)

	identity, err := a.Authorize(context.Background(), signed)
	testutil.Ok(t, err)
	testutil.Equals(t, "user-2", identity.UserID())
	testutil.Equals(t, "john@example.org", identity.Email())
	testutil.Equals(t, []string{"api"}, identity.Audience())
}
