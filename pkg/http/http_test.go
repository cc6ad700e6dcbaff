package http

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/efficientgo/core/testutil"
	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInternalRoutes(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "tokengate_test_total", Help: "test"}))

	var ready atomic.Bool
	srv := httptest.NewServer(InternalRoutes(reg, func() error {
		if !ready.Load() {
			return errors.New("no trust entries loaded")
		}
		return nil
	}))
	defer srv.Close()

	get := func(path string) (int, string) {
		resp, err := srv.Client().Get(srv.URL + path)
		testutil.Ok(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		testutil.Ok(t, err)
		return resp.StatusCode, string(body)
	}

	code, _ := get("/healthz")
	testutil.Equals(t, http.StatusOK, code)

	code, body := get("/healthz/ready")
	testutil.Equals(t, http.StatusServiceUnavailable, code)
	testutil.Assert(t, strings.Contains(body, "no trust entries loaded"), "unexpected body %q", body)

	ready.Store(true)
	code, _ = get("/healthz/ready")
	testutil.Equals(t, http.StatusOK, code)

	code, body = get("/metrics")
	testutil.Equals(t, http.StatusOK, code)
	testutil.Assert(t, strings.Contains(body, "tokengate_test_total 0"), "metric missing from %q", body)
}

func TestClientMetrics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer srv.Close()

	m := NewClientMetrics(prometheus.NewRegistry())
	client := &http.Client{Transport: m.RoundTripper("keys", srv.Client().Transport)}

	for i := 0; i < 3; i++ {
		resp, err := client.Get(srv.URL)
		testutil.Ok(t, err)
		_, _ = io.Copy(io.Discard, resp.Body)
		testutil.Ok(t, resp.Body.Close())
	}

	testutil.Equals(t, 3.0, promtestutil.ToFloat64(m.requests.WithLabelValues("418", "get", "keys")))
	testutil.Equals(t, 0.0, promtestutil.ToFloat64(m.inFlight.WithLabelValues("keys")))
}
