package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/MrWong99/babelcall/internal/bridge"
	"github.com/MrWong99/babelcall/internal/config"
	"github.com/MrWong99/babelcall/internal/rtp"
)

// Restart backoff for RTP stream channels.
const (
	restartMin = 500 * time.Millisecond
	restartMax = 30 * time.Second
)

// rtpStream is one configured RTP stream: a UDP listener feeding a decoder
// whose PCM is routed to the source of the stream's current channel.
type rtpStream struct {
	cfg      config.RTPStreamConfig
	listener *rtp.Listener
	sender   *rtp.Sender // nil without egress

	current  atomic.Pointer[bridge.RTPSource]
	restarts atomic.Uint64
}

// StreamStats is the per-stream part of [Stats].
type StreamStats struct {
	Name        string           `json:"name"`
	ChannelID   string           `json:"channel_id"`
	Addr        string           `json:"addr,omitempty"`
	Remote      string           `json:"remote,omitempty"`
	Decoder     rtp.Stats        `json:"decoder"`
	ReadErrors  uint64           `json:"read_errors"`
	Restarts    uint64           `json:"restarts"`
	PacketsSent uint64           `json:"packets_sent,omitempty"`
	Source      *bridge.RTPStats `json:"source,omitempty"`
}

func newRTPStream(a *App, sc config.RTPStreamConfig) (*rtpStream, error) {
	codec, err := rtp.ParseCodec(sc.Codec)
	if err != nil {
		return nil, err
	}
	s := &rtpStream{cfg: sc}

	dec, err := rtp.NewDecoder(rtp.Config{
		Name:             sc.Name,
		Codec:            codec,
		SampleRate:       sc.SampleRate,
		Channels:         sc.Channels,
		JitterBufferSize: sc.JitterBuffer,
		OnEvent:          s.handle,
	}, rtp.WithMetrics(a.metrics))
	if err != nil {
		return nil, err
	}
	s.listener = rtp.NewListener(sc.ListenAddr, dec)

	if sc.Egress {
		s.sender, err = rtp.NewSender(s.listener, rtp.SenderConfig{
			Codec:      codec,
			SampleRate: sc.SampleRate,
			Channels:   sc.Channels,
		})
		if err != nil {
			return nil, fmt.Errorf("egress: %w", err)
		}
	}
	return s, nil
}

// handle is the decoder callback. Audio that arrives between channels is
// dropped.
func (s *rtpStream) handle(ev rtp.Event) {
	if e, ok := ev.(rtp.ErrorEvent); ok {
		slog.Debug("rtp stream error", "stream", s.cfg.Name, "kind", e.Kind, "err", e.Err)
	}
	if src := s.current.Load(); src != nil {
		src.HandleEvent(ev)
	}
}

// route resolves the stream's languages: per-stream settings override the
// pipeline endpoints and defaults.
func (s *rtpStream) route(p config.PipelineConfig) config.Route {
	r := p.Resolve(s.cfg.Channel())
	if s.cfg.SourceLang != "" {
		r.SourceLang = s.cfg.SourceLang
	}
	if s.cfg.TargetLang != "" {
		r.TargetLang = s.cfg.TargetLang
	}
	if s.cfg.VoiceID != "" {
		r.VoiceID = s.cfg.VoiceID
	}
	return r
}

func (s *rtpStream) stats() StreamStats {
	st := StreamStats{
		Name:       s.cfg.Name,
		ChannelID:  s.cfg.Channel(),
		Decoder:    s.listener.Decoder().Stats(),
		ReadErrors: s.listener.ReadErrors(),
		Restarts:   s.restarts.Load(),
	}
	if addr := s.listener.LocalAddr(); addr != nil {
		st.Addr = addr.String()
	}
	if addr := s.listener.Remote(); addr != nil {
		st.Remote = addr.String()
	}
	if s.sender != nil {
		st.PacketsSent = s.sender.Sent()
	}
	if src := s.current.Load(); src != nil {
		rs := src.Stats().(bridge.RTPStats)
		st.Source = &rs
	}
	return st
}

// supervise keeps a channel running for s until ctx is cancelled. Each
// channel gets a fresh source; when it stops, a new one is started after a
// backoff that doubles up to restartMax and resets once a channel runs.
func (a *App) supervise(ctx context.Context, s *rtpStream) error {
	backoff := restartMin
	var sender bridge.PacketSender
	if s.sender != nil {
		sender = s.sender
	}

	for {
		cfg := a.cfg.Load()
		src := bridge.NewRTPSource(bridge.RTPSourceConfig{
			Stream:     s.cfg.Name,
			ChannelID:  s.cfg.Channel(),
			FrameSize:  cfg.Gateway.FrameSize,
			SampleRate: cfg.Gateway.SampleRate,
		}, sender)
		s.current.Store(src)

		o, err := a.startChannel(ctx, channelSpec{
			id:         s.cfg.Channel(),
			route:      s.route(cfg.Pipeline),
			source:     src,
			frameSize:  cfg.Gateway.FrameSize,
			sampleRate: cfg.Gateway.SampleRate,
		})
		if err == nil {
			backoff = restartMin
			select {
			case <-ctx.Done():
				return nil
			case <-o.Done():
			}
			slog.Warn("rtp stream channel stopped, restarting", "stream", s.cfg.Name, "channel_id", s.cfg.Channel())
		} else {
			slog.Error("rtp stream channel failed to start", "stream", s.cfg.Name, "err", err, "retry_in", backoff)
		}
		s.current.Store(nil)
		_ = src.Disconnect()

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, restartMax)
		s.restarts.Add(1)
	}
}
