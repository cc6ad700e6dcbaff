package trust

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/coreos/go-oidc"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/openshift/tokengate/pkg/authorize"
)

// Strategies understood by NewFetcher.
const (
	StrategyDirect    = "direct"
	StrategyKeyServer = "keyserver"
	StrategyDiscovery = "discovery"
)

// keyBodyLimit caps the size of fetched key material.
const keyBodyLimit = 64 * 1024

// Fetcher retrieves key material for an issuer from a remote location.
// It must honor ctx cancellation.
type Fetcher interface {
	Fetch(ctx context.Context, issuer, location string) ([]byte, error)
	Strategy() string
}

// NewFetcher returns the fetcher for strategy. keyServerURL is only used by
// the keyserver strategy.
func NewFetcher(logger log.Logger, client *http.Client, strategy, keyServerURL string) (Fetcher, error) {
	if client == nil {
		client = http.DefaultClient
	}
	logger = log.With(logger, "component", "trust", "strategy", strategy)

	switch strategy {
	case StrategyDirect, "":
		return &DirectFetcher{client: client, logger: logger}, nil
	case StrategyKeyServer:
		if err := validateKeyServerURL(keyServerURL); err != nil {
			return nil, err
		}
		return &KeyServerFetcher{client: client, logger: logger, template: keyServerURL}, nil
	case StrategyDiscovery:
		return &DiscoveryFetcher{client: client, logger: logger}, nil
	default:
		return nil, fmt.Errorf("unknown trust strategy %q", strategy)
	}
}

// DirectFetcher treats the descriptor as the URL of the key material.
type DirectFetcher struct {
	client *http.Client
	logger log.Logger
}

func (f *DirectFetcher) Strategy() string { return StrategyDirect }

func (f *DirectFetcher) Fetch(ctx context.Context, issuer, location string) ([]byte, error) {
	target, err := parseKeyURL(location)
	if err != nil {
		return nil, authorize.NewError(authorize.KindMisconfiguredTrust, issuer, err)
	}
	return get(ctx, f.logger, f.client, issuer, target)
}

// KeyServerFetcher asks a key server for the material. The configured URL
// template may reference {location} and {issuer}; both are query-escaped.
type KeyServerFetcher struct {
	client   *http.Client
	logger   log.Logger
	template string
}

func (f *KeyServerFetcher) Strategy() string { return StrategyKeyServer }

func (f *KeyServerFetcher) Fetch(ctx context.Context, issuer, location string) ([]byte, error) {
	raw := strings.NewReplacer(
		"{location}", url.QueryEscape(location),
		"{issuer}", url.QueryEscape(issuer),
	).Replace(f.template)

	target, err := parseKeyURL(raw)
	if err != nil {
		return nil, authorize.NewError(authorize.KindMisconfiguredTrust, issuer, err)
	}
	return get(ctx, f.logger, f.client, issuer, target)
}

// DiscoveryFetcher treats the descriptor as an OpenID Connect issuer URL and
// fetches the key set named by its discovery document.
type DiscoveryFetcher struct {
	client *http.Client
	logger log.Logger
}

func (f *DiscoveryFetcher) Strategy() string { return StrategyDiscovery }

func (f *DiscoveryFetcher) Fetch(ctx context.Context, issuer, location string) ([]byte, error) {
	if _, err := parseKeyURL(location); err != nil {
		return nil, authorize.NewError(authorize.KindMisconfiguredTrust, issuer, err)
	}

	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, f.client), location)
	if err != nil {
		return nil, authorize.NewError(authorize.KindKeyFetchFailed, issuer, errors.Wrap(err, "OIDC discovery failed"))
	}

	var discovery struct {
		JWKSURI string `json:"jwks_uri"`
	}
	if err := provider.Claims(&discovery); err != nil {
		return nil, authorize.NewError(authorize.KindKeyFetchFailed, issuer, errors.Wrap(err, "decode discovery document"))
	}
	target, err := parseKeyURL(discovery.JWKSURI)
	if err != nil {
		return nil, authorize.NewError(authorize.KindKeyFetchFailed, issuer, errors.Wrap(err, "discovery document has no usable jwks_uri"))
	}
	return get(ctx, f.logger, f.client, issuer, target)
}

func parseKeyURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.Wrap(err, "parse key location")
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("key location %q is not an http(s) URL", u.Redacted())
	}
	return u, nil
}

func validateKeyServerURL(template string) error {
	if template == "" {
		return errors.New("the keyserver strategy needs a key server URL")
	}
	probe := strings.NewReplacer("{location}", "x", "{issuer}", "x").Replace(template)
	_, err := parseKeyURL(probe)
	return err
}

func get(ctx context.Context, logger log.Logger, client *http.Client, issuer string, target *url.URL) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, authorize.NewError(authorize.KindMisconfiguredTrust, issuer, err)
	}
	req.Header.Set("Accept", "application/jwk-set+json, application/json, application/x-pem-file, */*")

	res, err := client.Do(req)
	if err != nil {
		return nil, authorize.NewError(authorize.KindKeyFetchFailed, issuer, errors.Wrapf(err, "fetch key material from %s", target.Redacted()))
	}
	defer func() {
		// read the body to keep the upstream connection open
		if _, err := io.Copy(io.Discard, res.Body); err != nil {
			level.Debug(logger).Log("msg", "error draining key response body", "err", err)
		}
		res.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(res.Body, keyBodyLimit+1))
	if err != nil {
		return nil, authorize.NewError(authorize.KindKeyFetchFailed, issuer, errors.Wrap(err, "read key material"))
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, authorize.NewError(authorize.KindKeyFetchFailed, issuer, fmt.Errorf("key source %s responded with code %d", target.Redacted(), res.StatusCode))
	}
	if len(body) > keyBodyLimit {
		return nil, authorize.NewError(authorize.KindKeyFetchFailed, issuer, fmt.Errorf("key material from %s exceeds limit of %d bytes", target.Redacted(), keyBodyLimit))
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, authorize.NewError(authorize.KindKeyFetchFailed, issuer, fmt.Errorf("key source %s returned no key material", target.Redacted()))
	}
	return body, nil
}
