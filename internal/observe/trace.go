package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/babelcall"

// Span attribute keys.
const (
	AttrChannelID      = attribute.Key("babelcall.channel_id")
	AttrTranscriptKind = attribute.Key("babelcall.transcript_kind")
	AttrStage          = attribute.Key("babelcall.stage")
)

// Tracer returns the babelcall tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span. The caller must end it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StartUtteranceSpan starts the span covering translation and synthesis of
// one transcript on a channel.
func StartUtteranceSpan(ctx context.Context, channelID, kind string) (context.Context, trace.Span) {
	return StartSpan(ctx, "pipeline.utterance", trace.WithAttributes(
		AttrChannelID.String(channelID),
		AttrTranscriptKind.String(kind),
	))
}

// FailSpan records err on span and marks it failed at stage.
func FailSpan(span trace.Span, stage string, err error) {
	span.RecordError(err)
	span.SetAttributes(AttrStage.String(stage))
	span.SetStatus(codes.Error, stage+" failed")
}

// CorrelationID returns the trace id of the span in ctx, or "" without one.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// WithTrace returns l with trace_id and span_id from ctx. Without an active
// span, l is returned as is.
func WithTrace(ctx context.Context, l *slog.Logger) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return l
	}
	return l.With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}

// Logger is [WithTrace] applied to the default logger.
func Logger(ctx context.Context) *slog.Logger {
	return WithTrace(ctx, slog.Default())
}
