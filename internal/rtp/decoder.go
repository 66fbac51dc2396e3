package rtp

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/babelcall/internal/observe"
)

// Config configures a [Decoder].
type Config struct {
	// Name labels the stream in logs and metrics.
	Name string

	// Codec is the payload encoding of the stream.
	Codec Codec

	// SampleRate is the PCM rate of linear codecs. Ignored for G.711 (always
	// 8 kHz) and Opus (always 48 kHz). Default: 8000.
	SampleRate int

	// Channels is the Opus channel count (1 or 2). Decoded output is always
	// mono. Default: 1.
	Channels int

	// JitterBufferSize bounds the decoded-packet FIFO. Default: 10.
	JitterBufferSize int

	// OnEvent receives every event synchronously on the receiving goroutine.
	// It must not block.
	OnEvent func(Event)
}

// Stats is a point-in-time snapshot of a stream.
type Stats struct {
	Name            string  `json:"name"`
	Codec           Codec   `json:"codec"`
	SSRC            uint32  `json:"ssrc"`
	PacketsReceived uint64  `json:"packets_received"`
	BytesReceived   uint64  `json:"bytes_received"`
	PacketsLost     uint64  `json:"packets_lost"`
	ParseErrors     uint64  `json:"parse_errors"`
	DecodeErrors    uint64  `json:"decode_errors"`
	JitterMs        float64 `json:"jitter_ms"`
	BufferDepth     int     `json:"buffer_depth"`
	BufferEvicted   uint64  `json:"buffer_evicted"`
}

// Decoder turns the datagrams of one RTP stream into PCM. All methods are
// safe for concurrent use.
type Decoder struct {
	cfg        Config
	clockRate  int
	sampleRate int
	payload    payloadDecoder
	metrics    *observe.Metrics
	now        func() time.Time
	log        *slog.Logger

	mu          sync.Mutex
	started     bool
	ssrc        uint32
	lastSeq     uint16
	epoch       time.Time
	lastTransit float64
	haveTransit bool
	jitter      float64
	buffer      *JitterBuffer
	stats       Stats
}

// Option is a functional option for [NewDecoder].
type Option func(*Decoder)

// WithMetrics records packet, loss and jitter metrics to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Decoder) { d.metrics = m }
}

// WithClock overrides the arrival clock used for jitter estimation.
func WithClock(now func() time.Time) Option {
	return func(d *Decoder) { d.now = now }
}

// NewDecoder creates a Decoder for one stream. It fails with
// [ErrUnsupportedCodec] when cfg.Codec has no decoder.
func NewDecoder(cfg Config, opts ...Option) (*Decoder, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 8000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.Channels > 2 {
		return nil, fmt.Errorf("rtp: %d channels not supported", cfg.Channels)
	}
	if cfg.Name == "" {
		cfg.Name = string(cfg.Codec)
	}
	payload, err := newPayloadDecoder(cfg.Codec, cfg.Channels)
	if err != nil {
		return nil, err
	}
	clock := cfg.Codec.ClockRate(cfg.SampleRate)
	d := &Decoder{
		cfg:        cfg,
		clockRate:  clock,
		sampleRate: clock,
		payload:    payload,
		metrics:    observe.DefaultMetrics(),
		now:        time.Now,
		log:        slog.With("stream", cfg.Name, "codec", string(cfg.Codec)),
		buffer:     NewJitterBuffer(cfg.JitterBufferSize),
		stats:      Stats{Name: cfg.Name, Codec: cfg.Codec},
	}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

// SampleRate returns the rate of the PCM this decoder produces.
func (d *Decoder) SampleRate() int { return d.sampleRate }

// Handle processes one datagram. Malformed packets and payloads that fail to
// decode are reported as [ErrorEvent] and otherwise ignored.
func (d *Decoder) Handle(datagram []byte, from net.Addr) {
	arrived := d.now()
	pkt, err := ParseHeader(datagram)
	if err != nil {
		d.mu.Lock()
		d.stats.ParseErrors++
		d.mu.Unlock()
		d.log.Debug("rtp: dropping malformed packet", "from", from, "bytes", len(datagram), "err", err)
		d.emit(ErrorEvent{Kind: ErrorParse, Err: err, Source: from})
		return
	}

	ctx := context.Background()
	attrs := metric.WithAttributes(observe.Attr("stream", d.cfg.Name))

	d.mu.Lock()
	d.stats.PacketsReceived++
	d.stats.BytesReceived += uint64(len(datagram))
	loss := d.trackSequence(pkt)
	jitter := d.trackJitter(pkt, arrived)
	d.mu.Unlock()

	d.metrics.RTPPackets.Add(ctx, 1, attrs)
	d.metrics.RTPJitter.Record(ctx, jitter/1000, attrs)

	if loss != nil {
		d.metrics.RTPPacketsLost.Add(ctx, int64(loss.Lost), attrs)
		d.log.Warn("rtp: packet loss detected",
			"expected", loss.Expected, "received", loss.Received, "lost", loss.Lost)
		d.emit(*loss)
	}

	pcm, err := d.payload.decode(pkt.Payload)
	if err != nil {
		d.mu.Lock()
		d.stats.DecodeErrors++
		d.mu.Unlock()
		d.log.Warn("rtp: payload decode failed", "seq", pkt.SequenceNumber, "err", err)
		d.emit(ErrorEvent{Kind: ErrorDecode, Err: err, Source: from})
		return
	}

	d.mu.Lock()
	d.buffer.Push(JitterEntry{
		Sequence:  pkt.SequenceNumber,
		Timestamp: pkt.Timestamp,
		PCM:       pcm,
		ArrivedAt: arrived,
	})
	d.mu.Unlock()

	d.emit(PCMEvent{
		PCM:        pcm,
		Sequence:   pkt.SequenceNumber,
		Timestamp:  pkt.Timestamp,
		SSRC:       pkt.SSRC,
		SampleRate: d.sampleRate,
		Channels:   1,
		Source:     from,
	})
}

// trackSequence updates the last-seen sequence number and returns a loss
// event when the packet is not the expected successor. Caller holds d.mu.
func (d *Decoder) trackSequence(pkt Packet) *LossEvent {
	if !d.started || pkt.SSRC != d.ssrc {
		if d.started {
			d.log.Info("rtp: ssrc changed, resetting stream baseline",
				"old_ssrc", d.ssrc, "new_ssrc", pkt.SSRC)
			d.haveTransit = false
			d.jitter = 0
		}
		d.started = true
		d.ssrc = pkt.SSRC
		d.stats.SSRC = pkt.SSRC
		d.lastSeq = pkt.SequenceNumber
		return nil
	}

	expected := d.lastSeq + 1
	d.lastSeq = pkt.SequenceNumber
	if pkt.SequenceNumber == expected {
		return nil
	}
	lost := int(pkt.SequenceNumber - expected)
	d.stats.PacketsLost += uint64(lost)
	return &LossEvent{
		Expected: expected,
		Received: pkt.SequenceNumber,
		Lost:     lost,
		SSRC:     pkt.SSRC,
	}
}

// trackJitter applies the interarrival jitter estimator of RFC 3550 §6.4.1
// in milliseconds and returns the new estimate. Caller holds d.mu.
func (d *Decoder) trackJitter(pkt Packet, arrived time.Time) float64 {
	if d.epoch.IsZero() {
		d.epoch = arrived
	}
	arrivalMs := float64(arrived.Sub(d.epoch)) / float64(time.Millisecond)
	transit := arrivalMs - float64(pkt.Timestamp)*1000/float64(d.clockRate)
	if d.haveTransit {
		delta := math.Abs(transit - d.lastTransit)
		d.jitter += (delta - d.jitter) / 16
	}
	d.lastTransit = transit
	d.haveTransit = true
	d.stats.JitterMs = d.jitter
	return d.jitter
}

func (d *Decoder) emit(ev Event) {
	if d.cfg.OnEvent != nil {
		d.cfg.OnEvent(ev)
	}
}

// Buffered returns the packets currently held in the jitter buffer, oldest
// first.
func (d *Decoder) Buffered() []JitterEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.buffer.Entries()
}

// Stats returns a snapshot of the stream counters.
func (d *Decoder) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.stats
	s.BufferDepth = d.buffer.Len()
	s.BufferEvicted = d.buffer.Evicted()
	return s
}
