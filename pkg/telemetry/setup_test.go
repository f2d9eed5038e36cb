package telemetry

import (
	"context"
	"testing"
)

func TestInitTracerModes(t *testing.T) {
	ctx := context.Background()
	for _, mode := range []string{"", "none", " NONE "} {
		shutdown, err := InitTracer(ctx, "test", mode)
		if err != nil {
			t.Fatalf("mode %q: %v", mode, err)
		}
		if err := shutdown(ctx); err != nil {
			t.Fatalf("mode %q shutdown: %v", mode, err)
		}
	}

	if _, err := InitTracer(ctx, "test", "jaeger"); err == nil {
		t.Fatal("expected an error for an unknown mode")
	}
}
