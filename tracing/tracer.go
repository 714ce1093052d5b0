// Package tracing sets up OpenTelemetry and traces SQS calls.
package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Config holds the OTLP exporter settings. An empty Endpoint disables
// tracing.
type Config struct {
	ServiceName    string        `env:"OTEL_SERVICE_NAME" envDefault:"sqs-stream"`
	ServiceVersion string        `env:"OTEL_SERVICE_VERSION" envDefault:"dev"`
	Endpoint       string        `env:"OTEL_ENDPOINT"`
	Insecure       bool          `env:"OTEL_INSECURE" envDefault:"true"`
	SampleRate     float64       `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`
	BatchTimeout   time.Duration `env:"OTEL_BATCH_TIMEOUT" envDefault:"1s"`
	ExportTimeout  time.Duration `env:"OTEL_EXPORT_TIMEOUT" envDefault:"30s"`
}

// New installs a global tracer provider exporting over OTLP/HTTP and returns
// it with its shutdown func. With no endpoint a no-op provider is returned.
func New(ctx context.Context, config Config) (trace.TracerProvider, func(context.Context) error, error) {
	if config.Endpoint == "" {
		return noop.NewTracerProvider(), func(context.Context) error { return nil }, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
		),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create resource: %w", err)
	}

	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(config.Endpoint),
		otlptracehttp.WithTimeout(config.ExportTimeout),
	}
	if config.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(config.BatchTimeout),
			sdktrace.WithExportTimeout(config.ExportTimeout),
		),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(config.SampleRate))),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	shutdown := func(ctx context.Context) error {
		if err := tp.ForceFlush(ctx); err != nil {
			return fmt.Errorf("failed to flush traces: %w", err)
		}
		return tp.Shutdown(ctx)
	}
	return tp, shutdown, nil
}

func queueAttributes(queue string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("messaging.system", "aws_sqs"),
		attribute.String("messaging.destination.name", queue),
	}
}
