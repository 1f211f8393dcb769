package emit

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecordingTracer(t *testing.T) (*tracetest.InMemoryExporter, *OTelEmitter) {
	t.Helper()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
	)
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	return exporter, NewOTelEmitter(otel.Tracer("test"))
}

func TestOTelEmitterEmit(t *testing.T) {
	exporter, emitter := newRecordingTracer(t)

	emitter.Emit(Event{
		Type:       EventNodeCompleted,
		RunID:      "run-001",
		UserID:     "user-003",
		NodeID:     "checkout",
		DurationMS: 412,
		Meta: map[string]any{
			"node_type": "action",
			"turns":     3,
		},
	})

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}

	span := spans[0]
	if span.Name != EventNodeCompleted {
		t.Errorf("span name = %q, want %q", span.Name, EventNodeCompleted)
	}

	attrs := attributeMap(span.Attributes)
	if got := attrs["run_id"]; got != "run-001" {
		t.Errorf("run_id = %v, want %q", got, "run-001")
	}
	if got := attrs["user_id"]; got != "user-003" {
		t.Errorf("user_id = %v, want %q", got, "user-003")
	}
	if got := attrs["node_id"]; got != "checkout" {
		t.Errorf("node_id = %v, want %q", got, "checkout")
	}
	if got := attrs["duration_ms"]; got != 412.0 {
		t.Errorf("duration_ms = %v, want 412", got)
	}
	if got := attrs["node_type"]; got != "action" {
		t.Errorf("node_type = %v, want %q", got, "action")
	}
	if got := attrs["turns"]; got != int64(3) {
		t.Errorf("turns = %v, want 3", got)
	}

	if !span.EndTime.After(span.StartTime) {
		t.Error("span was not ended")
	}
}

func TestOTelEmitterErrorStatus(t *testing.T) {
	exporter, emitter := newRecordingTracer(t)

	emitter.Emit(Event{
		Type:   EventNodeFailed,
		RunID:  "run-001",
		UserID: "user-001",
		NodeID: "checkout",
		Error:  "HTTP 500: boom",
	})

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}

	span := spans[0]
	if span.Status.Code != codes.Error {
		t.Errorf("status code = %v, want %v", span.Status.Code, codes.Error)
	}
	if span.Status.Description != "HTTP 500: boom" {
		t.Errorf("status description = %q", span.Status.Description)
	}
	if len(span.Events) == 0 {
		t.Error("expected a recorded error event")
	}
}

func TestOTelEmitterOmitsEmptyFields(t *testing.T) {
	exporter, emitter := newRecordingTracer(t)

	emitter.Emit(Event{
		Type:   EventUserCompleted,
		RunID:  "run-001",
		UserID: "user-001",
	})

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}

	attrs := attributeMap(spans[0].Attributes)
	if _, ok := attrs["node_id"]; ok {
		t.Error("node_id should be absent for user-level events")
	}
	if _, ok := attrs["duration_ms"]; ok {
		t.Error("duration_ms should be absent when zero")
	}
	if spans[0].Status.Code == codes.Error {
		t.Error("event without an error must not set error status")
	}
}

// attributeMap converts span attributes to a map for easy assertions.
func attributeMap(attrs []attribute.KeyValue) map[string]any {
	m := make(map[string]any)
	for _, kv := range attrs {
		m[string(kv.Key)] = kv.Value.AsInterface()
	}
	return m
}
