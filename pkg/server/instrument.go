package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Instrumentation records the RED metrics of the gateway handlers.
type Instrumentation struct {
	requestDuration *prometheus.HistogramVec
	requestSize     *prometheus.HistogramVec
	requestsTotal   *prometheus.CounterVec
}

// NewInstrumentation registers the handler metrics with reg.
func NewInstrumentation(reg prometheus.Registerer) *Instrumentation {
	return &Instrumentation{
		requestDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:                            "http_request_duration_seconds",
			Help:                            "Tracks the latencies for HTTP requests.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 1 * time.Hour,
			Buckets:                         prometheus.DefBuckets,
		}, []string{"code", "handler", "method"}),
		requestSize: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:                            "http_request_size_bytes",
			Help:                            "Tracks the size of HTTP requests.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 1 * time.Hour,
			Buckets:                         []float64{1024, 8192, 65536, 262144, 524288, 1048576, 2097152},
		}, []string{"code", "handler", "method"}),
		requestsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Tracks the number of HTTP requests.",
		}, []string{"code", "handler", "method"}),
	}
}

// Handler instruments next under the given handler label.
func (i *Instrumentation) Handler(name string, next http.Handler) http.Handler {
	labels := prometheus.Labels{"handler": name}
	return promhttp.InstrumentHandlerDuration(i.requestDuration.MustCurryWith(labels),
		promhttp.InstrumentHandlerRequestSize(i.requestSize.MustCurryWith(labels),
			promhttp.InstrumentHandlerCounter(i.requestsTotal.MustCurryWith(labels), next),
		),
	)
}
