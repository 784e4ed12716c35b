package telemetry

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

func TestInitTracer(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("stdout exporter writes spans on shutdown", func(t *testing.T) {
		var buf bytes.Buffer
		shutdown, err := InitTracer(Options{ServiceName: "tokend-test", Writer: &buf}, logger)
		if err != nil {
			t.Fatalf("InitTracer() error = %v", err)
		}

		_, span := otel.Tracer("test").Start(context.Background(), "tokens.count")
		if !span.SpanContext().IsValid() {
			t.Error("span context is not valid")
		}
		span.End()

		if err := shutdown(context.Background()); err != nil {
			t.Fatalf("shutdown() error = %v", err)
		}
		if !strings.Contains(buf.String(), "tokens.count") {
			t.Errorf("exporter output missing span name: %s", buf.String())
		}
		if !strings.Contains(buf.String(), "tokend-test") {
			t.Errorf("exporter output missing service name: %s", buf.String())
		}
	})

	t.Run("none exporter still creates spans", func(t *testing.T) {
		shutdown, err := InitTracer(Options{Exporter: ExporterNone}, logger)
		if err != nil {
			t.Fatalf("InitTracer() error = %v", err)
		}
		defer shutdown(context.Background())

		ctx, span := otel.Tracer("test").Start(context.Background(), "op")
		defer span.End()
		if !trace.SpanFromContext(ctx).SpanContext().HasTraceID() {
			t.Error("expected a trace id with the none exporter")
		}
	})

	t.Run("unknown exporter", func(t *testing.T) {
		if _, err := InitTracer(Options{Exporter: "jaeger"}, logger); err == nil {
			t.Fatal("InitTracer() error = nil, want unknown exporter error")
		}
	})
}
