package tracing

import (
	"context"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

type captureExporter struct {
	endpoint string
}

func (c *captureExporter) ExportSpans(context.Context, []sdktrace.ReadOnlySpan) error { return nil }
func (c *captureExporter) Shutdown(context.Context) error                             { return nil }

func TestInitTracerDisabled(t *testing.T) {
	t.Setenv("TRACING_ENABLED", "false")

	tp, tracer, err := InitTracer(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tp == nil || tracer == nil {
		t.Fatal("disabled mode must still hand back a usable provider")
	}
}

func TestInitTracerUsesConfiguredEndpoint(t *testing.T) {
	t.Setenv("TRACING_ENABLED", "true")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")

	orig := newTraceExporter
	t.Cleanup(func() { newTraceExporter = orig })

	exp := &captureExporter{}
	newTraceExporter = func(ctx context.Context, endpoint string) (sdktrace.SpanExporter, error) {
		exp.endpoint = endpoint
		return exp, nil
	}

	tp, tracer, err := InitTracer(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tracer == nil {
		t.Fatal("expected a tracer")
	}
	if exp.endpoint != "collector:4317" {
		t.Fatalf("exporter endpoint = %q, want collector:4317", exp.endpoint)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := tp.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestServiceNameOverride(t *testing.T) {
	t.Setenv("OTEL_SERVICE_NAME", " whalepulse-ssh ")
	if got := serviceName(); got != "whalepulse-ssh" {
		t.Fatalf("serviceName() = %q, want whalepulse-ssh", got)
	}

	t.Setenv("OTEL_SERVICE_NAME", "")
	if got := serviceName(); got != "whalepulse" {
		t.Fatalf("serviceName() = %q, want default", got)
	}
}
