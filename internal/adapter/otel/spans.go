package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "expertloop"

// StartSubmitSpan starts a span for an inbound query submission.
func StartSubmitSpan(ctx context.Context, conversationID, channel string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "submit",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.String("conversation.channel", channel),
		),
	)
}

// StartRetrievalSpan starts a span for a knowledge-base retrieval.
func StartRetrievalSpan(ctx context.Context, queryID string, sources int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "retrieval",
		trace.WithAttributes(
			attribute.String("query.id", queryID),
			attribute.Int("retrieval.sources", sources),
		),
	)
}

// StartDeliverySpan starts a span for outbound dispatch.
func StartDeliverySpan(ctx context.Context, queryID, representation string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "delivery",
		trace.WithAttributes(
			attribute.String("query.id", queryID),
			attribute.String("delivery.representation", representation),
		),
	)
}
