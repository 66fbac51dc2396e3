package observe

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// useTestTracer installs an in-memory tracer provider as the global one for
// the duration of the test.
func useTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

func attrValue(span tracetest.SpanStub, key string) (string, bool) {
	for _, a := range span.Attributes {
		if string(a.Key) == key {
			return a.Value.Emit(), true
		}
	}
	return "", false
}

func TestCorrelationID(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID(background) = %q, want empty", got)
	}

	useTestTracer(t)
	ctx, span := StartSpan(context.Background(), "op")
	defer span.End()
	cid := CorrelationID(ctx)
	if len(cid) != 32 || strings.Trim(cid, "0123456789abcdef") != "" {
		t.Errorf("CorrelationID = %q, want 32 hex characters", cid)
	}

	ctx2, span2 := StartSpan(context.Background(), "other")
	defer span2.End()
	if CorrelationID(ctx2) == cid {
		t.Error("independent root spans share a trace id")
	}
}

func TestStartUtteranceSpan(t *testing.T) {
	exp := useTestTracer(t)

	_, span := StartUtteranceSpan(context.Background(), "call-7", "final")
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if spans[0].Name != "pipeline.utterance" {
		t.Errorf("span name = %q", spans[0].Name)
	}
	for key, want := range map[string]string{
		"babelcall.channel_id":      "call-7",
		"babelcall.transcript_kind": "final",
	} {
		if got, ok := attrValue(spans[0], key); !ok || got != want {
			t.Errorf("attribute %s = %q, want %q", key, got, want)
		}
	}
}

func TestFailSpan(t *testing.T) {
	exp := useTestTracer(t)

	_, span := StartUtteranceSpan(context.Background(), "call-7", "stable")
	FailSpan(span, "translate", errors.New("deepl: 456 quota exceeded"))
	span.End()

	got := exp.GetSpans()[0]
	if got.Status.Code != codes.Error {
		t.Errorf("status = %v, want Error", got.Status.Code)
	}
	if stage, _ := attrValue(got, "babelcall.stage"); stage != "translate" {
		t.Errorf("stage attribute = %q, want translate", stage)
	}
	if len(got.Events) != 1 || got.Events[0].Name != "exception" {
		t.Errorf("events = %+v, want one exception", got.Events)
	}
}

func TestWithTrace(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil)).With("channel_id", "call-1")

	if l := WithTrace(context.Background(), base); l != base {
		t.Error("WithTrace without a span should return the logger unchanged")
	}

	useTestTracer(t)
	ctx, span := StartSpan(context.Background(), "op")
	defer span.End()

	WithTrace(ctx, base).Info("over budget")
	out := buf.String()
	for _, want := range []string{"channel_id=call-1", "trace_id=" + CorrelationID(ctx), "span_id="} {
		if !strings.Contains(out, want) {
			t.Errorf("log line %q missing %q", out, want)
		}
	}
}
