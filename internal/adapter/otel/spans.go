package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "launchloop"

// StartEvaluationSpan starts a span for one trigger evaluation.
func StartEvaluationSpan(ctx context.Context, triggerID string, graphVersion int64) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "trigger.evaluate",
		trace.WithAttributes(
			attribute.String("trigger.id", triggerID),
			attribute.Int64("graph.version", graphVersion),
		),
	)
}

// StartApplySpan starts a span for a graph mutation commit.
func StartApplySpan(ctx context.Context, kind string, expectedVersion int64) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "graph.apply",
		trace.WithAttributes(
			attribute.String("mutation.kind", kind),
			attribute.Int64("graph.expected_version", expectedVersion),
		),
	)
}

// StartPollSpan starts a span for one channel poll cycle.
func StartPollSpan(ctx context.Context, channelID, platform string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "collector.poll",
		trace.WithAttributes(
			attribute.String("channel.id", channelID),
			attribute.String("channel.platform", platform),
		),
	)
}
