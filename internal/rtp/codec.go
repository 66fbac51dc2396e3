package rtp

import (
	"errors"
	"fmt"
	"strings"

	"layeh.com/gopus"

	"github.com/MrWong99/babelcall/pkg/audio"
)

// ErrUnsupportedCodec is returned for codec names no decoder exists for.
var ErrUnsupportedCodec = errors.New("rtp: unsupported codec")

// Codec names the payload encoding of a stream.
type Codec string

const (
	// CodecPCM is signed 16-bit little-endian linear PCM (Asterisk slin).
	CodecPCM Codec = "pcm"

	// CodecL16 is signed 16-bit big-endian linear PCM (RFC 3551).
	CodecL16 Codec = "l16"

	// CodecPCMU is G.711 µ-law.
	CodecPCMU Codec = "pcmu"

	// CodecPCMA is G.711 A-law.
	CodecPCMA Codec = "pcma"

	// CodecOpus is Opus (RFC 7587).
	CodecOpus Codec = "opus"
)

// Opus always runs its RTP clock at 48 kHz; 120 ms is the largest frame a
// single packet can carry.
const (
	opusClockRate    = 48000
	opusMaxFrameSize = opusClockRate * 120 / 1000
)

// ParseCodec maps a configuration string to a Codec. Common aliases such as
// "ulaw", "g711_ulaw" and "slin" are accepted.
func ParseCodec(s string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pcm", "slin", "slin16", "linear":
		return CodecPCM, nil
	case "l16":
		return CodecL16, nil
	case "pcmu", "ulaw", "mulaw", "g711_ulaw", "g711u":
		return CodecPCMU, nil
	case "pcma", "alaw", "g711_alaw", "g711a":
		return CodecPCMA, nil
	case "opus":
		return CodecOpus, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedCodec, s)
}

// ClockRate returns the RTP timestamp rate for c. Linear codecs use the
// stream's configured rate.
func (c Codec) ClockRate(configured int) int {
	switch c {
	case CodecPCMU, CodecPCMA:
		return 8000
	case CodecOpus:
		return opusClockRate
	}
	return configured
}

// DefaultPayloadType returns the static payload type for c, or the dynamic
// number Asterisk conventionally uses.
func (c Codec) DefaultPayloadType() uint8 {
	switch c {
	case CodecPCMU:
		return 0
	case CodecPCMA:
		return 8
	case CodecL16:
		return 11
	case CodecOpus:
		return 111
	}
	return 118
}

// payloadDecoder expands one packet payload into PCM16 little-endian mono.
type payloadDecoder interface {
	decode(payload []byte) ([]byte, error)
}

// payloadEncoder compresses PCM16 little-endian mono into one packet payload.
type payloadEncoder interface {
	encode(pcm []byte) ([]byte, error)
}

type linearCodec struct{ bigEndian bool }

func (l linearCodec) decode(payload []byte) ([]byte, error) {
	if len(payload)%2 != 0 {
		return nil, fmt.Errorf("rtp: odd linear payload length %d", len(payload))
	}
	out := make([]byte, len(payload))
	copy(out, payload)
	if l.bigEndian {
		swap16(out)
	}
	return out, nil
}

func (l linearCodec) encode(pcm []byte) ([]byte, error) {
	return l.decode(pcm)
}

func swap16(b []byte) {
	for i := 0; i+1 < len(b); i += 2 {
		b[i], b[i+1] = b[i+1], b[i]
	}
}

type g711Codec struct {
	table *[256]int16
	enc   func(int16) byte
}

func (g g711Codec) decode(payload []byte) ([]byte, error) {
	return expandG711(payload, g.table), nil
}

func (g g711Codec) encode(pcm []byte) ([]byte, error) {
	return compressG711(pcm, g.enc), nil
}

// opusCodec keeps gopus state for a single stream; Opus decoding depends on
// the previous packets so each stream needs its own instance.
type opusCodec struct {
	channels int
	dec      *gopus.Decoder
	enc      *gopus.Encoder
}

func newOpusDecoder(channels int) (*opusCodec, error) {
	dec, err := gopus.NewDecoder(opusClockRate, channels)
	if err != nil {
		return nil, fmt.Errorf("rtp: create opus decoder: %w", err)
	}
	return &opusCodec{channels: channels, dec: dec}, nil
}

func newOpusEncoder(channels int) (*opusCodec, error) {
	enc, err := gopus.NewEncoder(opusClockRate, channels, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("rtp: create opus encoder: %w", err)
	}
	return &opusCodec{channels: channels, enc: enc}, nil
}

func (o *opusCodec) decode(payload []byte) ([]byte, error) {
	pcm, err := o.dec.Decode(payload, opusMaxFrameSize, false)
	if err != nil {
		return nil, fmt.Errorf("rtp: opus decode: %w", err)
	}
	out := audio.Int16sToBytes(pcm)
	if o.channels == 2 {
		out = audio.StereoToMono(out)
	}
	return out, nil
}

func (o *opusCodec) encode(pcm []byte) ([]byte, error) {
	if o.channels == 2 {
		pcm = audio.MonoToStereo(pcm)
	}
	samples := audio.BytesToInt16s(pcm)
	pkt, err := o.enc.Encode(samples, len(samples)/o.channels, len(pcm))
	if err != nil {
		return nil, fmt.Errorf("rtp: opus encode: %w", err)
	}
	return pkt, nil
}

func newPayloadDecoder(c Codec, channels int) (payloadDecoder, error) {
	switch c {
	case CodecPCM:
		return linearCodec{}, nil
	case CodecL16:
		return linearCodec{bigEndian: true}, nil
	case CodecPCMU:
		return g711Codec{table: &ulawTable}, nil
	case CodecPCMA:
		return g711Codec{table: &alawTable}, nil
	case CodecOpus:
		return newOpusDecoder(channels)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedCodec, string(c))
}

func newPayloadEncoder(c Codec, channels int) (payloadEncoder, error) {
	switch c {
	case CodecPCM:
		return linearCodec{}, nil
	case CodecL16:
		return linearCodec{bigEndian: true}, nil
	case CodecPCMU:
		return g711Codec{enc: encodeULawSample}, nil
	case CodecPCMA:
		return g711Codec{enc: encodeALawSample}, nil
	case CodecOpus:
		return newOpusEncoder(channels)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedCodec, string(c))
}
