package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "prdforge"

// StartGenerateSpan starts the root span of a generate call.
func StartGenerateSpan(ctx context.Context, sessionID, runID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "generate",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("run.id", runID),
		),
	)
}

// StartStageSpan starts a span for one pipeline stage.
func StartStageSpan(ctx context.Context, stage string, iteration int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "stage."+stage,
		trace.WithAttributes(
			attribute.String("stage", stage),
			attribute.Int("iteration", iteration),
		),
	)
}

// StartProviderSpan starts a span for one provider attempt.
func StartProviderSpan(ctx context.Context, provider, kind string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "provider.call",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("provider.name", provider),
			attribute.String("provider.kind", kind),
		),
	)
}

// StartClarifySpan starts a span for resolving one clarification question.
func StartClarifySpan(ctx context.Context, question string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "clarify.question",
		trace.WithAttributes(attribute.Int("question.length", len(question))),
	)
}
