package emit

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter implements Emitter by creating OpenTelemetry spans.
//
// Each event becomes a span with:
//   - Span name: event.Type (e.g., "node_completed")
//   - Attributes: run_id, user_id, node_id, duration_ms and all Meta fields
//   - Status: error when the event carries an error string
//
// Spans are ended immediately: events mark points in time, not open
// intervals. When duration_ms is present it is recorded as an attribute so
// backends can still chart latency.
//
// Usage:
//
//	tracer := otel.Tracer("synmatai-test-platform")
//	emitter := emit.NewOTelEmitter(tracer)
type OTelEmitter struct {
	tracer trace.Tracer
}

// NewOTelEmitter creates an emitter producing one span per event.
func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{tracer: tracer}
}

// Emit creates and ends a span for the event.
func (o *OTelEmitter) Emit(event Event) {
	_, span := o.tracer.Start(context.Background(), event.Type)
	defer span.End()

	span.SetAttributes(
		attribute.String("run_id", event.RunID),
		attribute.String("user_id", event.UserID),
	)
	if event.NodeID != "" {
		span.SetAttributes(attribute.String("node_id", event.NodeID))
	}
	if event.DurationMS > 0 {
		span.SetAttributes(attribute.Float64("duration_ms", event.DurationMS))
	}

	for key, value := range event.Meta {
		switch v := value.(type) {
		case string:
			span.SetAttributes(attribute.String(key, v))
		case int:
			span.SetAttributes(attribute.Int(key, v))
		case int64:
			span.SetAttributes(attribute.Int64(key, v))
		case float64:
			span.SetAttributes(attribute.Float64(key, v))
		case bool:
			span.SetAttributes(attribute.Bool(key, v))
		default:
			span.SetAttributes(attribute.String(key, fmt.Sprintf("%v", v)))
		}
	}

	if event.Error != "" {
		span.SetStatus(codes.Error, event.Error)
		span.RecordError(fmt.Errorf("%s", event.Error))
	}
}
