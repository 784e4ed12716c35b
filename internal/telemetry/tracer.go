// Package telemetry sets up OpenTelemetry tracing for the service.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// Exporter names accepted by Options.Exporter.
const (
	ExporterStdout = "stdout"
	ExporterNone   = "none"
)

// Options configures InitTracer.
type Options struct {
	ServiceName string
	// Exporter is "stdout" (default) or "none".
	Exporter string
	// SampleRatio is the fraction of root spans kept; 0 keeps all of them.
	SampleRatio float64
	// Writer receives stdout exporter output; nil means os.Stdout.
	Writer io.Writer
}

// InitTracer installs a global tracer provider and returns its shutdown
// function. With the "none" exporter spans are still created, so trace ids
// propagate, but nothing is exported.
func InitTracer(opts Options, logger *slog.Logger) (func(context.Context) error, error) {
	if opts.ServiceName == "" {
		opts.ServiceName = "tokend"
	}
	if opts.Writer == nil {
		opts.Writer = os.Stdout
	}

	// Create resource with service name
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"",
			semconv.ServiceName(opts.ServiceName),
		),
	)
	if err != nil {
		return nil, err
	}

	sampler := sdktrace.AlwaysSample()
	if opts.SampleRatio > 0 && opts.SampleRatio < 1 {
		sampler = sdktrace.ParentBased(sdktrace.TraceIDRatioBased(opts.SampleRatio))
	}

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	}

	switch opts.Exporter {
	case "", ExporterStdout:
		exporter, err := stdouttrace.New(
			stdouttrace.WithWriter(opts.Writer),
			stdouttrace.WithPrettyPrint(),
		)
		if err != nil {
			return nil, err
		}
		tpOpts = append(tpOpts, sdktrace.WithBatcher(exporter))
	case ExporterNone:
	default:
		return nil, fmt.Errorf("telemetry: unknown exporter %q", opts.Exporter)
	}

	tp := sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tp)

	logger.Info("OpenTelemetry initialized",
		slog.String("service", opts.ServiceName),
		slog.String("exporter", opts.Exporter),
	)

	return tp.Shutdown, nil
}
