package telemetry

import (
	"bytes"
	"strings"
	"testing"

	"github.com/tjfontaine/twin-gateway/internal/testutil"
)

func TestInitTracer_Disabled(t *testing.T) {
	tr, err := InitTracer(Settings{Enabled: false, ServiceName: "svc"}, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("InitTracer() error = %v", err)
	}

	_, span := tr.Provider.Tracer("test").Start(t.Context(), "op")
	if span.SpanContext().IsValid() {
		t.Error("disabled tracing should produce non-recording spans")
	}
	span.End()

	if err := tr.Shutdown(t.Context()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestInitTracer_ExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	tr, err := InitTracer(Settings{Enabled: true, ServiceName: "twin-test", Writer: &buf}, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("InitTracer() error = %v", err)
	}

	_, span := tr.Provider.Tracer("test").Start(t.Context(), "turn")
	span.End()

	// Shutdown flushes the batcher.
	if err := tr.Shutdown(t.Context()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, `"Name": "turn"`) {
		t.Errorf("exported spans missing span name:\n%s", out)
	}
	if !strings.Contains(out, "twin-test") {
		t.Errorf("exported spans missing service name:\n%s", out)
	}
}
