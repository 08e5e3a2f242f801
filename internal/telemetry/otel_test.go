package telemetry

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestSetupProvider_Disabled(t *testing.T) {
	shutdown, err := SetupProvider(context.Background(), Config{ServiceName: "aifirewall"})
	if err != nil {
		t.Fatal(err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("expected no-op shutdown, got %v", err)
	}
}

func TestSetupProvider_ExportsSpans(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var buf bytes.Buffer
	shutdown, err := SetupProvider(context.Background(), Config{
		ServiceName: "aifirewall",
		Version:     "test",
		Writer:      &buf,
	})
	if err != nil {
		t.Fatal(err)
	}

	_, span := otel.Tracer("test").Start(context.Background(), "pipeline.evaluate")
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "pipeline.evaluate") {
		t.Errorf("expected exported span, got %q", out)
	}
	if !strings.Contains(out, "aifirewall") {
		t.Errorf("expected service name in resource, got %q", out)
	}
}
