package http

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ClientMetrics instruments outbound round trippers, labelled by client name.
type ClientMetrics struct {
	inFlight *prometheus.GaugeVec
	requests *prometheus.CounterVec
	dns      *prometheus.HistogramVec
	tls      *prometheus.HistogramVec
	duration *prometheus.HistogramVec
}

// NewClientMetrics registers the client metrics with reg.
func NewClientMetrics(reg prometheus.Registerer) *ClientMetrics {
	return &ClientMetrics{
		inFlight: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "client_in_flight_requests",
			Help: "A gauge of in-flight requests for the wrapped client.",
		}, []string{"client"}),
		requests: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "client_api_requests_total",
			Help: "A counter for requests from the wrapped client.",
		}, []string{"code", "method", "client"}),
		dns: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "client_dns_duration_seconds",
			Help:    "Trace dns latency histogram.",
			Buckets: []float64{.005, .01, .025, .05},
		}, []string{"event", "client"}),
		tls: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "client_tls_duration_seconds",
			Help:    "Trace tls latency histogram.",
			Buckets: []float64{.05, .1, .25, .5},
		}, []string{"event", "client"}),
		duration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "client_request_duration_seconds",
			Help:    "A histogram of request latencies.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "client"}),
	}
}

// RoundTripper wraps next with the metrics of client.
func (m *ClientMetrics) RoundTripper(client string, next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	observe := func(vec *prometheus.HistogramVec, event string) func(float64) {
		return func(t float64) { vec.WithLabelValues(event, client).Observe(t) }
	}
	trace := &promhttp.InstrumentTrace{
		DNSStart:          observe(m.dns, "dns_start"),
		DNSDone:           observe(m.dns, "dns_done"),
		TLSHandshakeStart: observe(m.tls, "tls_handshake_start"),
		TLSHandshakeDone:  observe(m.tls, "tls_handshake_done"),
	}

	labels := prometheus.Labels{"client": client}
	return promhttp.InstrumentRoundTripperInFlight(m.inFlight.WithLabelValues(client),
		promhttp.InstrumentRoundTripperCounter(m.requests.MustCurryWith(labels),
			promhttp.InstrumentRoundTripperTrace(trace,
				promhttp.InstrumentRoundTripperDuration(m.duration.MustCurryWith(labels), next),
			),
		),
	)
}
