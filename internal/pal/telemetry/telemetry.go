// Package telemetry bootstraps an OpenTelemetry tracer: a
// Config/Provider/Init/Shutdown/Tracer/Enabled shape, with HTTP
// middleware and trace-context-propagation helpers dropped (this
// module has no wire protocol to propagate a trace context across)
// and span names aimed at scheduler and handle table operations
// instead of HTTP handlers.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// Config holds telemetry bootstrap configuration.
type Config struct {
	Enabled     bool
	Exporter    string // "otlp-http" or "stdout"
	Endpoint    string // e.g. "localhost:4318"
	ServiceName string
	SampleRate  float64 // 0.0 .. 1.0
}

// Provider wraps the OpenTelemetry TracerProvider.
type Provider struct {
	tp      *sdktrace.TracerProvider
	tracer  trace.Tracer
	enabled bool
}

var global = &Provider{enabled: false, tracer: trace.NewNoopTracerProvider().Tracer("")}

// Init initializes the global tracer provider. When cfg.Enabled is
// false, Tracer() returns a no-op tracer so instrumented code can call
// it unconditionally.
func Init(ctx context.Context, cfg Config) error {
	if !cfg.Enabled {
		global = &Provider{enabled: false, tracer: trace.NewNoopTracerProvider().Tracer("")}
		return nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return fmt.Errorf("telemetry: create resource: %w", err)
	}

	var exporter sdktrace.SpanExporter
	switch cfg.Exporter {
	case "otlp-http", "otlp", "":
		exp, err := otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(cfg.Endpoint),
			otlptracehttp.WithInsecure(),
		)
		if err != nil {
			return fmt.Errorf("telemetry: create OTLP exporter: %w", err)
		}
		exporter = exp
	case "stdout":
		// A real stdout exporter is a separate go.opentelemetry.io
		// module this repository does not otherwise need; a no-op
		// exporter keeps the "stdout" setting usable in tests and demos
		// without pulling it in.
		exporter = &noopExporter{}
	default:
		return fmt.Errorf("telemetry: unknown exporter %q", cfg.Exporter)
	}

	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRate < 1.0 && cfg.SampleRate >= 0 {
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(tp)

	global = &Provider{tp: tp, tracer: tp.Tracer(cfg.ServiceName), enabled: true}
	return nil
}

// Shutdown flushes and releases the tracer provider, if one was built.
func Shutdown(ctx context.Context) error {
	if global.tp == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return global.tp.Shutdown(ctx)
}

// Tracer returns the global tracer (a no-op tracer if Init was never
// called or was called with Enabled: false).
func Tracer() trace.Tracer { return global.tracer }

// Enabled reports whether a real (non-no-op) tracer is installed.
func Enabled() bool { return global.enabled }

// StartSpan is a small convenience wrapper so call sites in the
// scheduler and handle table don't need to import the trace package
// directly just to name a span.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return global.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

type noopExporter struct{}

func (e *noopExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	return nil
}

func (e *noopExporter) Shutdown(ctx context.Context) error { return nil }
