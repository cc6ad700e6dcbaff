package trust

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/pem"
	"errors"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/openshift/tokengate/pkg/authorize"
)

// Options tune remote key retrieval.
type Options struct {
	// Timeout bounds a single fetch on top of the request's own deadline. Zero disables it.
	Timeout time.Duration
	// Rate limits fetches per issuer and second. Zero disables limiting.
	Rate  float64
	Burst int
}

// Resolver turns an issuer into key material. It does not cache: every call
// either returns inline material from the store or fetches afresh.
type Resolver struct {
	logger  log.Logger
	store   *Store
	fetcher Fetcher
	limits  *limiterStore
	timeout time.Duration

	fetchDuration *prometheus.HistogramVec
}

// NewResolver returns a resolver reading trust entries from store. A nil
// fetcher only allows inline key material.
func NewResolver(logger log.Logger, reg prometheus.Registerer, store *Store, fetcher Fetcher, opts Options) *Resolver {
	return &Resolver{
		logger:  log.With(logger, "component", "trust"),
		store:   store,
		fetcher: fetcher,
		limits:  newLimiterStore(opts.Rate, opts.Burst),
		timeout: opts.Timeout,
		fetchDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tokengate_key_fetch_duration_seconds",
				Help:    "Tracks the latency of key material fetches.",
				Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			}, []string{"strategy", "result"},
		),
	}
}

// Reload replaces the trust entries atomically.
func (r *Resolver) Reload(entries map[string]string) {
	r.store.Replace(entries)
	r.limits.forget(func(issuer string) bool {
		_, ok := r.store.Lookup(issuer)
		return ok
	})
	level.Info(r.logger).Log("msg", "trust entries replaced", "issuers", len(entries))
}

// Resolve returns the key material trusted for issuer.
func (r *Resolver) Resolve(ctx context.Context, issuer string) ([]byte, error) {
	entry, ok := r.store.Lookup(issuer)
	if !ok {
		return nil, authorize.NewError(authorize.KindUnknownIssuer, issuer, errors.New("no trust entry for issuer"))
	}

	descriptor := strings.TrimSpace(entry)
	if descriptor == "" {
		return nil, authorize.NewError(authorize.KindMisconfiguredTrust, issuer, errors.New("trust entry has no key location"))
	}

	if material, inline, err := inlineMaterial(descriptor); inline {
		if err != nil {
			return nil, authorize.NewError(authorize.KindMisconfiguredTrust, issuer, err)
		}
		return material, nil
	}

	if r.fetcher == nil {
		return nil, authorize.NewError(authorize.KindMisconfiguredTrust, issuer, errors.New("trust entry needs a fetch but no key source is configured"))
	}
	return r.fetch(ctx, issuer, descriptor)
}

func (r *Resolver) fetch(ctx context.Context, issuer, location string) ([]byte, error) {
	if err := r.limits.Wait(ctx, issuer); err != nil {
		r.observe(0, "throttled")
		return nil, authorize.NewError(authorize.KindKeyFetchFailed, issuer, err)
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	material, err := r.fetcher.Fetch(ctx, issuer, location)
	elapsed := time.Since(start)

	if err != nil {
		r.observe(elapsed, "error")
		if authorize.KindOf(err) == "" {
			err = authorize.NewError(authorize.KindKeyFetchFailed, issuer, err)
		}
		return nil, err
	}
	if len(bytes.TrimSpace(material)) == 0 {
		r.observe(elapsed, "error")
		return nil, authorize.NewError(authorize.KindKeyFetchFailed, issuer, errors.New("key source returned no key material"))
	}

	r.observe(elapsed, "success")
	return material, nil
}

func (r *Resolver) observe(d time.Duration, result string) {
	r.fetchDuration.WithLabelValues(r.fetcher.Strategy(), result).Observe(d.Seconds())
}

// inlineMaterial recognizes key material embedded in the descriptor itself:
// PEM blocks or a JWK / JWK set. inline is false for anything that has to
// be fetched.
func inlineMaterial(descriptor string) (material []byte, inline bool, err error) {
	b := []byte(descriptor)
	switch {
	case strings.HasPrefix(descriptor, "-----BEGIN"):
		if block, _ := pem.Decode(b); block == nil {
			return nil, true, errors.New("inline key is not valid PEM")
		}
		return b, true, nil
	case strings.HasPrefix(descriptor, "{"):
		if !json.Valid(b) {
			return nil, true, errors.New("inline key is not valid JSON")
		}
		return b, true, nil
	default:
		return nil, false, nil
	}
}
