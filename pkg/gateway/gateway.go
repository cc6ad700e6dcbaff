// Package gateway assembles the authorization chain, the per-resource
// policies and the forwarding handlers from a Config.
package gateway

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/openshift/tokengate/pkg/authorize"
	"github.com/openshift/tokengate/pkg/authorize/jwt"
	"github.com/openshift/tokengate/pkg/authorize/trust"
	"github.com/openshift/tokengate/pkg/config"
	"github.com/openshift/tokengate/pkg/cors"
	tokengatehttp "github.com/openshift/tokengate/pkg/http"
	"github.com/openshift/tokengate/pkg/oauth2"
	"github.com/openshift/tokengate/pkg/proxy"
	"github.com/openshift/tokengate/pkg/server"
)

// Gateway protects the configured resources.
type Gateway struct {
	logger      log.Logger
	resolver    *trust.Resolver
	store       *trust.Store
	authorizers map[string]*jwt.Authorizer
	handler     http.Handler
}

// New builds the gateway. keyClient fetches remote key material and
// upstream carries authorized requests to cfg.Upstream.
func New(logger log.Logger, reg prometheus.Registerer, cfg *config.Config, keyClient *http.Client, upstream http.RoundTripper) (*Gateway, error) {
	verifier, err := jwt.NewVerifier(cfg.Signing.Algorithm, cfg.Signing.Leeway)
	if err != nil {
		return nil, errors.Wrap(err, "create verifier")
	}

	fetcher, err := trust.NewFetcher(logger, keyClient, cfg.Trust.Strategy, cfg.Trust.KeyServerURL)
	if err != nil {
		return nil, errors.Wrap(err, "create key fetcher")
	}

	store := trust.NewStore(cfg.TrustEntries())
	resolver := trust.NewResolver(logger, reg, store, fetcher, trust.Options{
		Timeout: cfg.Trust.FetchTimeout,
		Rate:    cfg.Trust.FetchRate,
		Burst:   cfg.Trust.FetchBurst,
	})
	warnEmptyEntries(logger, cfg)

	g := &Gateway{
		logger:      logger,
		resolver:    resolver,
		store:       store,
		authorizers: make(map[string]*jwt.Authorizer, len(cfg.Resources)),
	}

	var forward http.Handler = http.HandlerFunc(proxy.Echo)
	if cfg.Upstream != "" {
		u, err := url.Parse(cfg.Upstream)
		if err != nil {
			return nil, errors.Wrap(err, "parse upstream URL")
		}
		forward = proxy.New(logger, u, upstream)
	}

	corsOpts := cors.Options{
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		AllowedMethods: cfg.CORS.AllowedMethods,
		AllowedHeaders: cfg.CORS.AllowedHeaders,
		MaxAge:         cfg.CORS.MaxAge,
	}

	metrics := authorize.NewMetrics(reg)
	ins := server.NewInstrumentation(reg)
	extractor := NewExtractor(cfg.Credential)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(server.RequestLogger(log.With(logger, "component", "access")))

	for _, res := range cfg.Resources {
		a := jwt.NewAuthorizer(resolver, verifier, authorize.Policy{
			Scope:    res.Scope,
			Issuer:   res.Issuer,
			Audience: res.Audience,
		})
		g.authorizers[res.Name] = a

		h := authorize.NewAuthorizeHandler(logger, metrics, authorize.HandlerConfig{
			Resource:         res.Name,
			Extractor:        extractor,
			Authorizer:       a,
			PreflightMethods: cfg.PreflightMethods,
		}, forward)
		if corsOpts.Enabled() {
			h = cors.New(logger, corsOpts)(h)
		}
		h = ins.Handler(res.Name, h)

		prefix := strings.TrimSuffix(res.Path, "/")
		r.Handle(prefix+"/*", h)
		if prefix != "" {
			r.Handle(prefix, h)
		}
		level.Debug(logger).Log("msg", "protecting resource", "resource", res.Name, "path", res.Path, "scope", res.Scope)
	}

	g.handler = otelhttp.NewHandler(r, "tokengate")
	return g, nil
}

// Handler serves the protected resources.
func (g *Gateway) Handler() http.Handler {
	return g.handler
}

// Authorizer returns the authorization chain of the named resource.
func (g *Gateway) Authorizer(resource string) (authorize.Authorizer, bool) {
	a, ok := g.authorizers[resource]
	return a, ok
}

// Reload swaps in the trust entries of cfg. Other settings only take
// effect on restart.
func (g *Gateway) Reload(cfg *config.Config) {
	g.resolver.Reload(cfg.TrustEntries())
	warnEmptyEntries(g.logger, cfg)
}

// Ready fails while no issuer is trusted.
func (g *Gateway) Ready() error {
	if len(g.store.Issuers()) == 0 {
		return errors.New("no trust entries configured")
	}
	return nil
}

// NewExtractor returns the credential extraction strategy of c.
func NewExtractor(c config.Credential) authorize.Extractor {
	if c.Source == "cookie" {
		return &authorize.CookieExtractor{Name: c.Cookie}
	}
	return authorize.NewHeaderExtractor(c.Header, c.Scheme)
}

// tokenTimeout bounds OAuth2 token requests, which do not carry the
// context of the authorization pass that triggered them.
const tokenTimeout = 20 * time.Second

// NewKeyClient returns the instrumented, traced client used for key fetches,
// authenticated with the configured OAuth2 grant if any. A nil transport
// means http.DefaultTransport. Token requests never outlive t.FetchTimeout.
func NewKeyClient(ctx context.Context, t config.Trust, metrics *tokengatehttp.ClientMetrics, transport http.RoundTripper) (*http.Client, error) {
	if transport == nil {
		transport = http.DefaultTransport
	}
	base := otelhttp.NewTransport(metrics.RoundTripper("keys", transport))
	tokenClient := &http.Client{
		Timeout:   tokenClientTimeout(t.FetchTimeout),
		Transport: metrics.RoundTripper("oauth", transport),
	}

	rt, err := oauth2.NewTransport(ctx, t.Auth, tokenClient, base)
	if err != nil {
		return nil, errors.Wrap(err, "configure key server authentication")
	}
	return &http.Client{Transport: rt}, nil
}

func tokenClientTimeout(fetchTimeout time.Duration) time.Duration {
	if fetchTimeout > 0 && fetchTimeout < tokenTimeout {
		return fetchTimeout
	}
	return tokenTimeout
}

func warnEmptyEntries(logger log.Logger, cfg *config.Config) {
	for _, issuer := range cfg.EmptyTrustEntries() {
		level.Warn(logger).Log("msg", "trust entry has no key location, tokens of this issuer will be rejected", "issuer", issuer, "alarm", authorize.KindMisconfiguredTrust)
	}
}
