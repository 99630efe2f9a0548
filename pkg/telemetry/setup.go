package telemetry

import (
	"context"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/opentox/toxotis"

// InitTracer configures a simple stdout tracer suitable for local development.
// Without it spans go to the global no-op provider.
func InitTracer(ctx context.Context, serviceName string) func(context.Context) error {
	return InitTracerTo(ctx, serviceName, os.Stdout)
}

// InitTracerTo is InitTracer with spans written to w.
func InitTracerTo(ctx context.Context, serviceName string, w io.Writer) func(context.Context) error {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		slog.Error("telemetry exporter init failed", "error", err)
		return func(context.Context) error { return nil }
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		)),
	)

	otel.SetTracerProvider(provider)

	return provider.Shutdown
}

// Tracer returns the tracer used for spans around remote calls and polling.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}
