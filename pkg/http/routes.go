// Package http holds the internal routes and the instrumented client
// transport shared by the tokengate commands.
package http

import (
	"fmt"
	"net/http"
	"net/http/pprof"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ReadyFunc reports why the process cannot serve yet, or nil.
type ReadyFunc func() error

// DebugRoutes adds the pprof handlers to a mux.
func DebugRoutes(mux *http.ServeMux) *http.ServeMux {
	mux.Handle("/debug/pprof/", http.HandlerFunc(pprof.Index))
	mux.Handle("/debug/pprof/cmdline", http.HandlerFunc(pprof.Cmdline))
	mux.Handle("/debug/pprof/profile", http.HandlerFunc(pprof.Profile))
	mux.Handle("/debug/pprof/symbol", http.HandlerFunc(pprof.Symbol))
	mux.Handle("/debug/pprof/trace", http.HandlerFunc(pprof.Trace))
	return mux
}

// HealthRoutes adds liveness and readiness checks to a mux. A nil ready is always ready.
func HealthRoutes(mux *http.ServeMux, ready ReadyFunc) *http.ServeMux {
	mux.Handle("/healthz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { fmt.Fprintln(w, "ok") }))
	mux.Handle("/healthz/ready", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if ready != nil {
			if err := ready(); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		fmt.Fprintln(w, "ok")
	}))
	return mux
}

// MetricRoutes exposes the metrics of g on /metrics.
func MetricRoutes(mux *http.ServeMux, g prometheus.Gatherer) *http.ServeMux {
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	return mux
}

// InternalRoutes is the mux served on the internal listener.
func InternalRoutes(g prometheus.Gatherer, ready ReadyFunc) *http.ServeMux {
	mux := http.NewServeMux()
	DebugRoutes(mux)
	HealthRoutes(mux, ready)
	MetricRoutes(mux, g)
	return mux
}
