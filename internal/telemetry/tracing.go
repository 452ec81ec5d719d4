// Package telemetry builds the OpenTelemetry tracer the engine records run
// and step spans with.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	// InstrumentationName is the OTel instrumentation scope name.
	InstrumentationName = "github.com/alexsaulik/promptfolio"

	// ServiceName is reported as service.name on every span.
	ServiceName = "promptfolio"
)

// ShutdownFunc flushes and stops a tracer provider.
type ShutdownFunc func(context.Context) error

// Tracer returns the engine tracer from tp. A nil provider yields a no-op tracer.
func Tracer(tp trace.TracerProvider, version string) trace.Tracer {
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	return tp.Tracer(InstrumentationName, trace.WithInstrumentationVersion(version))
}

// NewTracerProvider creates a TracerProvider exporting over OTLP/HTTP to
// endpoint. An empty endpoint returns a no-op provider and a no-op shutdown.
func NewTracerProvider(ctx context.Context, endpoint, version string) (trace.TracerProvider, ShutdownFunc, error) {
	if endpoint == "" {
		return noop.NewTracerProvider(), func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint))
	if err != nil {
		return nil, nil, err
	}
	tp, err := newProvider(sdktrace.WithBatcher(exporter), version)
	if err != nil {
		return nil, nil, err
	}
	return tp, tp.Shutdown, nil
}

func newProvider(processor sdktrace.TracerProviderOption, version string) (*sdktrace.TracerProvider, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			attribute.String("service.name", ServiceName),
			attribute.String("service.version", version),
		),
	)
	if err != nil {
		return nil, err
	}
	return sdktrace.NewTracerProvider(processor, sdktrace.WithResource(res)), nil
}
