package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/chainsentry/chainsentry/pkg/duration"
)

// TracingOptions configures the OTLP trace exporter.
type TracingOptions struct {
	// Endpoint is the OTLP/gRPC collector address (e.g. "localhost:4317").
	// Empty disables tracing entirely.
	Endpoint string

	// ServiceName for exported spans (default "chainsentry").
	ServiceName string

	// Insecure disables TLS on the exporter connection.
	Insecure bool
}

// Tracing owns the tracer provider lifecycle.
type Tracing struct {
	provider *sdktrace.TracerProvider
}

// SetupTracing installs an OTLP-exporting tracer provider as the global
// provider. With an empty endpoint it returns nil and the global noop
// provider stays in place, so instrumented code needs no feature flag.
func SetupTracing(ctx context.Context, opts TracingOptions) (*Tracing, error) {
	if opts.Endpoint == "" {
		return nil, nil
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "chainsentry"
	}

	exporterOpts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(opts.Endpoint),
	}
	if opts.Insecure {
		exporterOpts = append(exporterOpts,
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}

	connectCtx, cancel := context.WithTimeout(ctx, duration.OTLPConnect)
	defer cancel()

	exporter, err := otlptracegrpc.New(connectCtx, exporterOpts...)
	if err != nil {
		return nil, err
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(opts.ServiceName),
	)

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(provider)

	return &Tracing{provider: provider}, nil
}

// Shutdown flushes pending spans and tears down the provider.
func (t *Tracing) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return t.provider.Shutdown(ctx)
}
