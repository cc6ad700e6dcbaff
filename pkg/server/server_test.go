package server

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/efficientgo/core/testutil"
	"github.com/go-chi/chi/middleware"
	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	h := middleware.RequestID(RequestLogger(log.NewLogfmtLogger(&buf))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})))

	req := httptest.NewRequest(http.MethodGet, "/api/items", nil)
	req.Header.Set("X-Request-Id", "req-7")
	req.Header.Set("Authorization", "Bearer secret-token")
	h.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	for _, want := range []string{"request=req-7", "method=GET", "path=/api/items", "status=401"} {
		testutil.Assert(t, strings.Contains(out, want), "expected %q in %q", want, out)
	}
	testutil.Assert(t, !strings.Contains(out, "secret-token"), "credential leaked into %q", out)
}

func TestInstrumentation(t *testing.T) {
	ins := NewInstrumentation(prometheus.NewRegistry())
	h := ins.Handler("api", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api", nil))

	testutil.Equals(t, 1.0, promtestutil.ToFloat64(ins.requestsTotal.WithLabelValues("200", "api", "get")))
	testutil.Equals(t, 2.0, promtestutil.ToFloat64(ins.requestsTotal.WithLabelValues("401", "api", "post")))
}
