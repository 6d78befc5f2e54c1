// Package telemetry configures the OpenTelemetry tracer and meter providers
// used across the SmartQueue HTTP surface.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	noopmetric "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
)

// Exporter selects the OTLP transport used for trace export.
type Exporter string

const (
	ExporterNone Exporter = ""
	ExporterHTTP Exporter = "http"
	ExporterGRPC Exporter = "grpc"
)

// Config configures the telemetry provider.
type Config struct {
	// Enabled turns on real tracer/meter providers. When false, NewProvider
	// installs no-op global providers so instrumentation call sites stay
	// cheap and side-effect free.
	Enabled bool

	ServiceName    string
	ServiceVersion string

	// Exporter selects the OTLP transport. Ignored when Enabled is false.
	Exporter Exporter
	// Endpoint is the collector address (host:port for gRPC, URL for HTTP).
	Endpoint string
}

// Provider owns the tracer/meter providers and their shutdown path.
type Provider struct {
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	shutdownFns    []func(context.Context) error
}

// NewProvider builds and installs the global tracer/meter providers.
// Callers must invoke Shutdown before process exit to flush exporters.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		p := &Provider{
			tracerProvider: nooptrace.NewTracerProvider(),
			meterProvider:  noopmetric.NewMeterProvider(),
		}
		otel.SetTracerProvider(p.tracerProvider)
		otel.SetMeterProvider(p.meterProvider)
		return p, nil
	}

	res, err := sdkresource.New(ctx,
		sdkresource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	p := &Provider{}

	var spanExporter sdktrace.SpanExporter
	switch cfg.Exporter {
	case ExporterGRPC:
		opts := []otlptracegrpc.Option{}
		if cfg.Endpoint != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(cfg.Endpoint), otlptracegrpc.WithInsecure())
		}
		spanExporter, err = otlptracegrpc.New(ctx, opts...)
	case ExporterHTTP, ExporterNone:
		opts := []otlptracehttp.Option{}
		if cfg.Endpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(cfg.Endpoint), otlptracehttp.WithInsecure())
		}
		spanExporter, err = otlptracehttp.New(ctx, opts...)
	default:
		err = fmt.Errorf("telemetry: unknown exporter %q", cfg.Exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("telemetry: build span exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(spanExporter),
		sdktrace.WithResource(res),
	)
	p.tracerProvider = tp
	p.shutdownFns = append(p.shutdownFns, tp.Shutdown)
	otel.SetTracerProvider(tp)

	// Meter provider: no OTLP metric exporter is wired (the pack carries no
	// otlpmetric* dependency), and no instruments are registered on this
	// provider, so nothing is pushed to a collector. Prometheus is the
	// exported metrics path; see internal/metrics.
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))
	p.meterProvider = mp
	p.shutdownFns = append(p.shutdownFns, mp.Shutdown)
	otel.SetMeterProvider(mp)

	return p, nil
}

// Shutdown flushes and stops every registered provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	var firstErr error
	for _, fn := range p.shutdownFns {
		if err := fn(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Tracer returns a named tracer from the currently installed global provider.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// Meter returns a named meter from the currently installed global provider.
func Meter(name string) metric.Meter {
	return otel.Meter(name)
}

// HTTPAttributes builds the canonical span attribute set for an HTTP request.
// statusCode of 0 means "not yet known" and is omitted.
func HTTPAttributes(method, path, url string, statusCode int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		semconv.HTTPRequestMethodKey.String(method),
		attribute.String("http.path", path),
		attribute.String("http.url", url),
	}
	if statusCode != 0 {
		attrs = append(attrs, semconv.HTTPResponseStatusCode(statusCode))
	}
	return attrs
}
