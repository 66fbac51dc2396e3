package observe

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
	"go.opentelemetry.io/otel/trace"
)

// statusRecorder captures the status code written by the wrapped handler.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func routeOf(r *http.Request) string {
	if r.Pattern != "" {
		return r.Pattern
	}
	return r.URL.Path
}

// MiddlewareOption configures [Middleware].
type MiddlewareOption func(*middleware)

// WithUntraced serves the given paths without a span, a correlation header
// or a log line. Their duration is still recorded. Use it for probe and
// scrape endpoints that would otherwise dominate the traces.
func WithUntraced(paths ...string) MiddlewareOption {
	return func(mw *middleware) {
		for _, p := range paths {
			mw.untraced[p] = struct{}{}
		}
	}
}

type middleware struct {
	m        *Metrics
	prop     propagation.TextMapPropagator
	untraced map[string]struct{}
}

// Middleware instruments the admin HTTP server. Each request joins the W3C
// trace context of its caller or starts a new trace, gets a server span and
// an X-Correlation-ID response header carrying the trace id, and has its
// duration recorded by method, route and status class.
func Middleware(m *Metrics, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	mw := &middleware{
		m:        m,
		prop:     propagation.TraceContext{},
		untraced: make(map[string]struct{}),
	}
	for _, o := range opts {
		o(mw)
	}
	return mw.wrap
}

func (mw *middleware) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		if _, skip := mw.untraced[r.URL.Path]; skip {
			next.ServeHTTP(rec, r)
			mw.record(r, rec.statusCode, time.Since(start))
			return
		}

		ctx := mw.prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := StartSpan(ctx, "HTTP "+r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.HTTPRequestMethodKey.String(r.Method),
				semconv.URLPath(r.URL.Path),
			),
		)
		defer span.End()

		cid := CorrelationID(ctx)
		if cid != "" {
			w.Header().Set("X-Correlation-ID", cid)
		}
		mw.prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

		r = r.WithContext(ctx)
		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		mw.record(r, rec.statusCode, duration)
		span.SetAttributes(semconv.HTTPResponseStatusCode(rec.statusCode))

		Logger(ctx).LogAttrs(ctx, slog.LevelDebug, "admin request completed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.statusCode),
			slog.Duration("duration", duration),
		)
	})
}

// record uses the mux pattern as route so parameterised paths do not
// multiply series.
func (mw *middleware) record(r *http.Request, status int, d time.Duration) {
	mw.m.HTTPRequestDuration.Record(r.Context(), d.Seconds(),
		metric.WithAttributes(
			attribute.String("method", r.Method),
			attribute.String("route", routeOf(r)),
			attribute.String("status_class", strconv.Itoa(status/100)+"xx"),
		),
	)
}
