// Package telemetry installs the process-wide OpenTelemetry tracer provider.
package telemetry

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap"
)

const defaultServiceName = "arkhamcards-api"

// Options configures tracing. When Enabled is false Setup installs nothing.
type Options struct {
	Enabled     bool
	ServiceName string
	Version     string
	Writer      io.Writer
}

// ShutdownFunc flushes and stops the tracer provider.
type ShutdownFunc func(context.Context) error

// Setup installs a tracer provider exporting spans as JSON lines to the writer,
// stdout by default. Services call otel.Tracer and need no further wiring.
func Setup(ctx context.Context, options Options, logger *zap.Logger) (ShutdownFunc, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !options.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	serviceName := strings.TrimSpace(options.ServiceName)
	if serviceName == "" {
		serviceName = defaultServiceName
	}
	writer := options.Writer
	if writer == nil {
		writer = os.Stdout
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(writer))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceNameKey.String(serviceName),
		semconv.ServiceVersionKey.String(strings.TrimSpace(options.Version)),
	))
	if err != nil {
		logger.Warn("otel resource init failed", zap.Error(err))
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	logger.Info("tracing initialized", zap.String("service", serviceName))
	return provider.Shutdown, nil
}
