// Package observe provides the observability primitives shared by the
// gateway, the RTP listeners and the channel pipelines: OpenTelemetry
// metrics, tracing helpers and HTTP middleware for the admin endpoints.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported
// for Prometheus scraping via [InitProvider]. A package-level default
// [Metrics] instance ([DefaultMetrics]) backs components that are not handed
// one explicitly; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/MrWong99/babelcall"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Pipeline stage latency ---

	// ASRDuration is the time from segment ready to transcript.
	ASRDuration metric.Float64Histogram

	// MTDuration is the time from transcript to translation.
	MTDuration metric.Float64Histogram

	// TTSDuration is the time from translation to synthesized audio.
	TTSDuration metric.Float64Histogram

	// UtteranceDuration is the end-to-end time from segment ready to the
	// first translated frame being enqueued for playback.
	UtteranceDuration metric.Float64Histogram

	// --- Ingestion ---

	// FramesIn counts complete inbound frames. Attribute: protocol.
	FramesIn metric.Int64Counter

	// BytesIn counts inbound audio bytes. Attribute: protocol.
	BytesIn metric.Int64Counter

	// FramesOut counts frames written back to callers. Attribute: protocol.
	FramesOut metric.Int64Counter

	// TransportErrors counts protocol and socket errors. Attributes:
	// protocol, kind.
	TransportErrors metric.Int64Counter

	// ActiveConnections tracks open gateway connections. Attribute: protocol.
	ActiveConnections metric.Int64UpDownCounter

	// --- RTP ---

	// RTPPackets counts received RTP packets. Attribute: stream.
	RTPPackets metric.Int64Counter

	// RTPPacketsLost counts packets missing from the sequence. Attribute:
	// stream.
	RTPPacketsLost metric.Int64Counter

	// RTPJitter samples the interarrival jitter estimate in seconds.
	// Attribute: stream.
	RTPJitter metric.Float64Histogram

	// --- Pipeline ---

	// ActiveChannels tracks running channel pipelines.
	ActiveChannels metric.Int64UpDownCounter

	// Translations counts translation results. Attribute: stable.
	Translations metric.Int64Counter

	// PipelineErrors counts per-item pipeline failures. Attribute: stage.
	PipelineErrors metric.Int64Counter

	// HighLatency counts utterances that exceeded the latency budget.
	HighLatency metric.Int64Counter

	// --- Providers ---

	// ProviderRequests counts provider API calls. Attributes: provider,
	// kind, status.
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Attributes: provider, kind.
	ProviderErrors metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks admin HTTP request time. Attributes:
	// method, route.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) around the
// sub-second translation budget.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.2, 0.35, 0.5, 0.75, 0.9, 1.25, 2, 5,
}

// jitterBuckets defines histogram bucket boundaries (in seconds) for RTP
// interarrival jitter.
var jitterBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.02, 0.04, 0.08, 0.16,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histogram := func(name, desc string, buckets []float64) (metric.Float64Histogram, error) {
		return m.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(buckets...),
		)
	}

	// Histograms.
	if met.ASRDuration, err = histogram("babelcall.asr.duration",
		"Latency from segment ready to transcript.", latencyBuckets); err != nil {
		return nil, err
	}
	if met.MTDuration, err = histogram("babelcall.mt.duration",
		"Latency of incremental translation.", latencyBuckets); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = histogram("babelcall.tts.duration",
		"Latency of speech synthesis.", latencyBuckets); err != nil {
		return nil, err
	}
	if met.UtteranceDuration, err = histogram("babelcall.utterance.duration",
		"End-to-end latency from segment ready to translated audio enqueued.", latencyBuckets); err != nil {
		return nil, err
	}
	if met.RTPJitter, err = histogram("babelcall.rtp.jitter",
		"RTP interarrival jitter estimate.", jitterBuckets); err != nil {
		return nil, err
	}

	// Counters.
	if met.FramesIn, err = m.Int64Counter("babelcall.frames.in",
		metric.WithDescription("Inbound audio frames by protocol."),
	); err != nil {
		return nil, err
	}
	if met.BytesIn, err = m.Int64Counter("babelcall.bytes.in",
		metric.WithDescription("Inbound audio bytes by protocol."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.FramesOut, err = m.Int64Counter("babelcall.frames.out",
		metric.WithDescription("Outbound audio frames by protocol."),
	); err != nil {
		return nil, err
	}
	if met.TransportErrors, err = m.Int64Counter("babelcall.transport.errors",
		metric.WithDescription("Transport errors by protocol and kind."),
	); err != nil {
		return nil, err
	}
	if met.RTPPackets, err = m.Int64Counter("babelcall.rtp.packets",
		metric.WithDescription("Received RTP packets by stream."),
	); err != nil {
		return nil, err
	}
	if met.RTPPacketsLost, err = m.Int64Counter("babelcall.rtp.packets_lost",
		metric.WithDescription("RTP packets missing from the sequence by stream."),
	); err != nil {
		return nil, err
	}
	if met.Translations, err = m.Int64Counter("babelcall.translations",
		metric.WithDescription("Translation results by stability."),
	); err != nil {
		return nil, err
	}
	if met.PipelineErrors, err = m.Int64Counter("babelcall.pipeline.errors",
		metric.WithDescription("Per-item pipeline failures by stage."),
	); err != nil {
		return nil, err
	}
	if met.HighLatency, err = m.Int64Counter("babelcall.utterance.high_latency",
		metric.WithDescription("Utterances exceeding the latency budget."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("babelcall.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("babelcall.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveConnections, err = m.Int64UpDownCounter("babelcall.active_connections",
		metric.WithDescription("Open gateway connections by protocol."),
	); err != nil {
		return nil, err
	}
	if met.ActiveChannels, err = m.Int64UpDownCounter("babelcall.active_channels",
		metric.WithDescription("Running channel pipelines."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("babelcall.http.request.duration",
		metric.WithDescription("Admin HTTP request latency by method and route."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordFrameIn records one inbound frame of n bytes on protocol.
func (m *Metrics) RecordFrameIn(ctx context.Context, protocol string, n int) {
	attrs := metric.WithAttributes(attribute.String("protocol", protocol))
	m.FramesIn.Add(ctx, 1, attrs)
	m.BytesIn.Add(ctx, int64(n), attrs)
}

// RecordTransportError records a transport error of kind on protocol.
func (m *Metrics) RecordTransportError(ctx context.Context, protocol, kind string) {
	m.TransportErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("protocol", protocol),
			attribute.String("kind", kind),
		),
	)
}

// RecordStage records a pipeline stage latency.
func (m *Metrics) RecordStage(ctx context.Context, h metric.Float64Histogram, d time.Duration) {
	if d < 0 {
		return
	}
	h.Record(ctx, d.Seconds())
}

// RecordPipelineError records a per-item failure in stage.
func (m *Metrics) RecordPipelineError(ctx context.Context, stage string) {
	m.PipelineErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
