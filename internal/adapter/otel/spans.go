package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "autoclerk"

// StartDispatchSpan starts a span covering one event's routing.
func StartDispatchSpan(ctx context.Context, eventID, eventType string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "dispatch",
		trace.WithAttributes(
			attribute.String("event.id", eventID),
			attribute.String("event.type", eventType),
		),
	)
}

// StartHandlerSpan starts a span for one agent's handling of an event.
func StartHandlerSpan(ctx context.Context, agent, eventID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "handler",
		trace.WithAttributes(
			attribute.String("agent.name", agent),
			attribute.String("event.id", eventID),
		),
	)
}

// StartCascadeSpan starts a span for one confidence-cascade resolution.
func StartCascadeSpan(ctx context.Context, subjectKind, subjectID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "cascade",
		trace.WithAttributes(
			attribute.String("subject.kind", subjectKind),
			attribute.String("subject.id", subjectID),
		),
	)
}
