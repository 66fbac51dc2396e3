package bridge

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/babelcall/internal/pipeline"
	"github.com/MrWong99/babelcall/internal/rtp"
	"github.com/MrWong99/babelcall/pkg/audio"
)

// PacketSender packetizes one frame of PCM for the far end.
// [*rtp.Sender] implements it.
type PacketSender interface {
	Send(pcm []byte, inputRate int) error
}

var _ PacketSender = (*rtp.Sender)(nil)

// RTPSourceConfig configures an [RTPSource].
type RTPSourceConfig struct {
	// Stream is the RTP stream name, used as the frame's connection id.
	Stream string

	// ChannelID is the identity stamped on every frame.
	ChannelID string

	// FrameSize of emitted frames in bytes. Default: 320.
	FrameSize int

	// SampleRate of emitted frames. Decoded PCM at another rate is
	// resampled. Default: 8000.
	SampleRate int

	// Queue is the inbound frame queue length. Default: [DefaultQueue].
	Queue int
}

// RTPStats extends [SourceStats] with stream counters.
type RTPStats struct {
	SourceStats
	PacketsLost    uint64 `json:"packets_lost"`
	PendingBytes   int    `json:"pending_bytes"`
	EgressEnabled  bool   `json:"egress_enabled"`
	EgressDiscards uint64 `json:"egress_discards"`
}

// RTPSource turns the decoded PCM of one RTP stream into fixed-size frames.
// Feed it by passing [RTPSource.HandleEvent] decoder events. Outbound audio
// is packetized by the optional sender; without one, writes are discarded.
type RTPSource struct {
	cfg    RTPSourceConfig
	sender PacketSender
	now    func() time.Time
	q      *queue

	mu  sync.Mutex
	acc *audio.Accumulator
	seq uint64

	lost      atomic.Uint64
	written   atomic.Uint64
	writeErrs atomic.Uint64
	discards  atomic.Uint64
}

var _ pipeline.FrameSource = (*RTPSource)(nil)

// NewRTPSource creates a source. sender may be nil to disable egress.
func NewRTPSource(cfg RTPSourceConfig, sender PacketSender) *RTPSource {
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = audio.DefaultFrameSize
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = audio.DefaultSampleRate
	}
	return &RTPSource{
		cfg:    cfg,
		sender: sender,
		now:    time.Now,
		q:      newQueue(cfg.Queue),
		acc:    audio.NewAccumulator(cfg.FrameSize),
	}
}

// HandleEvent consumes one decoder event. It never blocks.
func (s *RTPSource) HandleEvent(ev rtp.Event) {
	switch e := ev.(type) {
	case rtp.PCMEvent:
		s.ingest(e.PCM, e.SampleRate)
	case rtp.LossEvent:
		if e.Lost > 0 {
			s.lost.Add(uint64(e.Lost))
		}
	}
}

func (s *RTPSource) ingest(pcm []byte, rate int) {
	if s.q.isClosed() {
		return
	}
	if rate > 0 && rate != s.cfg.SampleRate {
		pcm = audio.ResampleMono16(pcm, rate, s.cfg.SampleRate)
	}

	s.mu.Lock()
	frames := s.acc.Push(pcm)
	now := s.now()
	out := make([]audio.Frame, 0, len(frames))
	for _, data := range frames {
		s.seq++
		out = append(out, audio.Frame{
			Data:         data,
			ConnectionID: s.cfg.Stream,
			Identity:     s.cfg.ChannelID,
			Protocol:     "rtp",
			Sequence:     s.seq,
			CapturedAt:   now,
			SampleRate:   s.cfg.SampleRate,
		})
	}
	s.mu.Unlock()

	for _, f := range out {
		s.q.push(f)
	}
}

// Connect is a no-op; the listener is owned by the application.
func (s *RTPSource) Connect(context.Context) error {
	if s.q.isClosed() {
		return ErrClosed
	}
	return nil
}

// Frames returns the inbound frame stream.
func (s *RTPSource) Frames() <-chan audio.Frame { return s.q.ch }

// Write packetizes one frame toward the most recent remote peer.
func (s *RTPSource) Write(_ context.Context, frame []byte) error {
	if s.q.isClosed() {
		return ErrClosed
	}
	if s.sender == nil {
		s.discards.Add(1)
		return nil
	}
	if err := s.sender.Send(frame, s.cfg.SampleRate); err != nil {
		s.writeErrs.Add(1)
		return fmt.Errorf("bridge: rtp write %s: %w", s.cfg.Stream, err)
	}
	s.written.Add(1)
	return nil
}

// Disconnect ends the frame stream and drops any partial frame.
func (s *RTPSource) Disconnect() error {
	s.q.close()
	s.mu.Lock()
	s.acc.Reset()
	s.mu.Unlock()
	return nil
}

// Stats returns an [RTPStats] snapshot.
func (s *RTPSource) Stats() any {
	s.mu.Lock()
	pending := s.acc.Pending()
	s.mu.Unlock()
	return RTPStats{
		SourceStats: SourceStats{
			Protocol:      "rtp",
			ConnectionID:  s.cfg.Stream,
			Identity:      s.cfg.ChannelID,
			FramesPushed:  s.q.pushed.Load(),
			FramesDropped: s.q.dropped.Load(),
			FramesWritten: s.written.Load(),
			WriteErrors:   s.writeErrs.Load(),
			Closed:        s.q.isClosed(),
		},
		PacketsLost:    s.lost.Load(),
		PendingBytes:   pending,
		EgressEnabled:  s.sender != nil,
		EgressDiscards: s.discards.Load(),
	}
}
