// Package telemetry installs the OpenTelemetry tracer provider and the
// propagators that carry trace context into published events. Spans are
// exported to Google Cloud Trace when a project is configured; without an
// exporter the provider only propagates trace context.
package telemetry

import (
	"context"
	"fmt"

	texporter "github.com/GoogleCloudPlatform/opentelemetry-operations-go/exporter/trace"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

// Options controls the tracer provider.
type Options struct {
	ServiceName string
	// SampleRatio is the fraction of root spans recorded. Values outside
	// (0, 1] sample everything.
	SampleRatio float64
	// ProjectID enables export to Cloud Trace in that project.
	ProjectID string
	// Exporter overrides the Cloud Trace exporter.
	Exporter sdktrace.SpanExporter
}

// InitTracerProvider installs a global tracer provider and W3C propagators.
// Callers own the returned provider and must Shutdown it, which flushes
// buffered spans.
func InitTracerProvider(ctx context.Context, opts Options) (*sdktrace.TracerProvider, error) {
	if opts.ServiceName == "" {
		opts.ServiceName = "source-monitor"
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(opts.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter := opts.Exporter
	if exporter == nil && opts.ProjectID != "" {
		exporter, err = texporter.New(texporter.WithProjectID(opts.ProjectID))
		if err != nil {
			return nil, fmt.Errorf("failed to create google trace exporter: %w", err)
		}
	}

	sampler := sdktrace.AlwaysSample()
	if opts.SampleRatio > 0 && opts.SampleRatio < 1 {
		sampler = sdktrace.TraceIDRatioBased(opts.SampleRatio)
	}

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
	}
	if exporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(exporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp, nil
}
