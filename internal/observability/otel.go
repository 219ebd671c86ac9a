// Package observability installs the process-wide OpenTelemetry tracer.
//
// Every aisha process (serve, worker, bot) exports to the same collector
// under one service name; the component attribute tells the processes
// apart and a random instance id tells replicas apart.
package observability

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc/credentials"

	"github.com/aisha-bot/aisha-backend/internal/config"
)

// ComponentKey is the resource attribute naming the aisha process.
const ComponentKey = attribute.Key("aisha.component")

// Replaced in tests to force setup failures.
var (
	newOTLPClient = otlptracegrpc.NewClient

	newOTLPExporterFn = func(ctx context.Context, client otlptrace.Client) (*otlptrace.Exporter, error) {
		return otlptrace.New(ctx, client)
	}

	newServiceResourceFn = func(ctx context.Context, serviceName, component, version string) (*resource.Resource, error) {
		return resource.New(
			ctx,
			resource.WithAttributes(
				semconv.ServiceName(serviceName),
				semconv.ServiceVersion(version),
				semconv.ServiceInstanceID(uuid.NewString()),
				ComponentKey.String(component),
			),
		)
	}
)

// SetupOTel points the process at the collector and returns the function
// that flushes pending spans on exit. With OTEL_ENABLED unset nothing is
// installed and the flush is a no-op. The global provider and propagator are
// swapped only after the resource and exporter both exist, so a failed setup
// leaves the process on the no-op tracer.
func SetupOTel(ctx context.Context, cfg config.OTELConfig, component, version string) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	res, err := newServiceResourceFn(ctx, cfg.ServiceName, component, version)
	if err != nil {
		return nil, err
	}
	exp, err := newOTLPExporterFn(ctx, newOTLPClient(collectorOptions(cfg)...))
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	// W3C trace context travels from the webhook into queued job-status
	// messages and on to the worker that sends the Telegram message.
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	return tp.Shutdown, nil
}

// collectorOptions dials the collector in plaintext inside the cluster and
// with system roots otherwise.
func collectorOptions(cfg config.OTELConfig) []otlptracegrpc.Option {
	if cfg.Insecure {
		return []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint), otlptracegrpc.WithInsecure()}
	}
	tls := credentials.NewClientTLSFromCert(nil, "")
	return []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint), otlptracegrpc.WithTLSCredentials(tls)}
}

// sampler honors the parent's decision and otherwise samples ratio of new
// traces, clamped to [0, 1].
func sampler(ratio float64) sdktrace.Sampler {
	switch {
	case ratio <= 0:
		return sdktrace.ParentBased(sdktrace.NeverSample())
	case ratio >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}
