// Package tracing installs the global OpenTelemetry tracer provider.
package tracing

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ErrSetup wraps exporter and resource construction failures.
var ErrSetup = errors.New("tracing setup failed")

// ShutdownFunc flushes pending spans and releases the exporter.
type ShutdownFunc func(context.Context) error

// Config selects the OTLP/HTTP collector.
type Config struct {
	Enabled bool
	// Endpoint is host:port of the collector, without scheme.
	Endpoint string
	// Insecure disables TLS towards the collector.
	Insecure    bool
	ServiceName string
	// SampleRatio in [0,1]. Zero or above one samples everything.
	SampleRatio float64
}

// Setup registers a batching tracer provider when cfg.Enabled is set.
// Disabled tracing returns a no-op shutdown and leaves the global provider
// untouched, so otel.Tracer keeps returning no-op tracers.
func Setup(ctx context.Context, cfg Config) (ShutdownFunc, error) {
	noop := func(context.Context) error { return nil }
	if !cfg.Enabled {
		return noop, nil
	}
	if cfg.Endpoint == "" {
		return noop, fmt.Errorf("%w: endpoint is required", ErrSetup)
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return noop, fmt.Errorf("%w: exporter: %w", ErrSetup, err)
	}

	name := cfg.ServiceName
	if name == "" {
		name = "bitgalaxy"
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(name)))
	if err != nil {
		_ = exporter.Shutdown(ctx)
		return noop, fmt.Errorf("%w: resource: %w", ErrSetup, err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return tp.Shutdown, nil
}

func sampler(ratio float64) sdktrace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return sdktrace.AlwaysSample()
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}
