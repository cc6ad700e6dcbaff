// Package tracing sets up the OpenTelemetry tracer provider.
package tracing

import (
	"context"
	"net"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	propjaeger "go.opentelemetry.io/contrib/propagators/jaeger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

// EndpointType is the kind of collector spans are exported to.
type EndpointType string

const (
	EndpointTypeCollector EndpointType = "collector"
	EndpointTypeAgent     EndpointType = "agent"
	EndpointTypeOTel      EndpointType = "otel"
)

// Config selects the exporter. An empty Endpoint disables tracing.
type Config struct {
	ServiceName      string
	Endpoint         string
	EndpointType     EndpointType
	SamplingFraction float64
}

// Shutdown flushes and stops the exporter.
type Shutdown func(context.Context) error

// InitTracer installs a global tracer provider and propagator for cfg.
// With tracing disabled the provider is a no-op and Shutdown does nothing.
func InitTracer(ctx context.Context, logger log.Logger, cfg Config) (trace.TracerProvider, Shutdown, error) {
	noop := trace.NewNoopTracerProvider()
	nothing := func(context.Context) error { return nil }
	otel.SetTracerProvider(noop)
	otel.SetErrorHandler(ErrorHandler{Logger: logger})

	if cfg.Endpoint == "" {
		return noop, nothing, nil
	}

	r, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceNameKey.String(cfg.ServiceName)))
	if err != nil {
		return noop, nothing, errors.Wrap(err, "create resource")
	}

	var exporter sdktrace.SpanExporter
	switch cfg.EndpointType {
	case EndpointTypeAgent, EndpointTypeCollector:
		exporter, err = jaegerExporter(cfg.EndpointType, cfg.Endpoint)
	case EndpointTypeOTel:
		exporter, err = otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(cfg.Endpoint), otlptracehttp.WithInsecure())
	default:
		return noop, nothing, errors.Errorf("invalid endpoint type: %s", cfg.EndpointType)
	}
	if err != nil {
		return noop, nothing, errors.Wrapf(err, "setup %s exporter", cfg.EndpointType)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(r),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplingFraction))),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propjaeger.Jaeger{},
		propagation.Baggage{},
	))
	level.Info(logger).Log("msg", "tracing enabled", "endpoint", cfg.Endpoint, "type", cfg.EndpointType)

	return provider, provider.Shutdown, nil
}

func jaegerExporter(endpointType EndpointType, endpoint string) (*jaeger.Exporter, error) {
	var opt jaeger.EndpointOption
	if endpointType == EndpointTypeAgent {
		host, port, err := net.SplitHostPort(endpoint)
		if err != nil {
			return nil, errors.Wrap(err, "parse agent host and port")
		}
		opt = jaeger.WithAgentEndpoint(jaeger.WithAgentHost(host), jaeger.WithAgentPort(port))
	} else {
		opt = jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(endpoint))
	}
	return jaeger.New(opt)
}

// ErrorHandler logs errors raised inside the OpenTelemetry SDK.
type ErrorHandler struct {
	Logger log.Logger
}

func (h ErrorHandler) Handle(err error) {
	level.Error(h.Logger).Log("msg", "opentelemetry", "err", err)
}
