// Package telemetry wires OpenTelemetry trace export for the daemon.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"

	"quaver/internal/config"
	"quaver/internal/logging"
)

const serviceName = "quaver"

// ShutdownFunc flushes and stops the tracer provider.
type ShutdownFunc func(context.Context) error

// SetupTracing installs the global tracer provider per the telemetry config.
// When telemetry is disabled it returns a no-op shutdown and leaves the
// default provider in place.
func SetupTracing(ctx context.Context, cfg *config.Config, logger *slog.Logger) (ShutdownFunc, error) {
	log := logging.NewComponentLogger(logger, "telemetry")
	noop := func(context.Context) error { return nil }

	exporterName := strings.ToLower(strings.TrimSpace(cfg.Telemetry.Exporter))
	if !cfg.Telemetry.Enabled || exporterName == "" || exporterName == "none" {
		log.Debug("trace export disabled")
		return noop, nil
	}

	otel.SetTextMapPropagator(propagation.TraceContext{})

	var (
		exp sdktrace.SpanExporter
		err error
	)
	switch exporterName {
	case "stdout":
		exp, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "otlp":
		endpoint := strings.TrimSpace(cfg.Telemetry.Endpoint)
		if endpoint == "" {
			return nil, fmt.Errorf("otlp trace exporter requires endpoint")
		}
		exp, err = otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(endpoint),
			otlptracehttp.WithInsecure(),
		)
	default:
		return nil, fmt.Errorf("unsupported trace exporter: %s", cfg.Telemetry.Exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build trace resource: %w", err)
	}

	ratio := cfg.Telemetry.SampleRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	)
	otel.SetTracerProvider(tp)
	log.Info("trace export enabled",
		logging.String("exporter", exporterName),
		logging.Float64("sample_ratio", ratio),
	)
	return tp.Shutdown, nil
}
