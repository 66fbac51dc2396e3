package rtp

import (
	"fmt"
	"math/rand/v2"
	"sync"

	pionrtp "github.com/pion/rtp"

	"github.com/MrWong99/babelcall/pkg/audio"
)

// PacketWriter delivers a marshalled RTP packet to the far end.
// [*Listener] implements it.
type PacketWriter interface {
	WritePacket(b []byte) error
}

var _ PacketWriter = (*Listener)(nil)

// SenderConfig configures a [Sender].
type SenderConfig struct {
	// Codec is the outbound payload encoding.
	Codec Codec

	// PayloadType defaults to [Codec.DefaultPayloadType].
	PayloadType uint8

	// SampleRate is the rate of linear codecs. Default: 8000.
	SampleRate int

	// Channels is the Opus channel count. Default: 1.
	Channels int
}

// Sender packetizes PCM into RTP for one outbound stream. It keeps its own
// random SSRC and advances sequence number and timestamp per packet. Safe for
// concurrent use.
type Sender struct {
	w    PacketWriter
	enc  payloadEncoder
	pt   uint8
	rate int

	mu   sync.Mutex
	ssrc uint32
	seq  uint16
	ts   uint32
	sent uint64
}

// NewSender creates a Sender writing to w.
func NewSender(w PacketWriter, cfg SenderConfig) (*Sender, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 8000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	enc, err := newPayloadEncoder(cfg.Codec, cfg.Channels)
	if err != nil {
		return nil, err
	}
	pt := cfg.PayloadType
	if pt == 0 {
		pt = cfg.Codec.DefaultPayloadType()
	}
	return &Sender{
		w:    w,
		enc:  enc,
		pt:   pt,
		rate: cfg.Codec.ClockRate(cfg.SampleRate),
		ssrc: rand.Uint32(),
		seq:  uint16(rand.Uint32()),
		ts:   rand.Uint32(),
	}, nil
}

// Send encodes one frame of PCM16 little-endian mono sampled at inputRate
// and writes it as a single RTP packet.
func (s *Sender) Send(pcm []byte, inputRate int) error {
	pcm = audio.ResampleMono16(pcm, inputRate, s.rate)
	payload, err := s.enc.encode(pcm)
	if err != nil {
		return err
	}
	samples := uint32(len(pcm) / audio.BytesPerSample)

	s.mu.Lock()
	pkt := pionrtp.Packet{
		Header: pionrtp.Header{
			Version:        2,
			Marker:         s.sent == 0,
			PayloadType:    s.pt,
			SequenceNumber: s.seq,
			Timestamp:      s.ts,
			SSRC:           s.ssrc,
		},
		Payload: payload,
	}
	s.seq++
	s.ts += samples
	s.sent++
	s.mu.Unlock()

	b, err := pkt.Marshal()
	if err != nil {
		return fmt.Errorf("rtp: marshal packet: %w", err)
	}
	return s.w.WritePacket(b)
}

// SSRC returns the synchronisation source of outbound packets.
func (s *Sender) SSRC() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ssrc
}

// Sent returns the number of packets written.
func (s *Sender) Sent() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent
}
