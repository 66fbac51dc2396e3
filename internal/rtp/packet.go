// Package rtp decodes RTP audio streams received over UDP into linear PCM
// and packetizes outbound PCM back into RTP.
//
// A [Decoder] owns the state of one monitored stream: sequence-loss
// detection, an interarrival jitter estimate, a bounded jitter buffer and the
// codec used to expand payloads. A [Listener] binds one UDP port and feeds its
// datagrams to a Decoder. A [Sender] does the reverse for the translated
// audio going back to the far end.
package rtp

import (
	"encoding/binary"
	"errors"
)

// HeaderSize is the length of the fixed RTP header.
const HeaderSize = 12

var (
	// ErrShortPacket is returned for datagrams smaller than the fixed header.
	ErrShortPacket = errors.New("rtp: packet shorter than fixed header")

	// ErrTruncatedHeader is returned when the CSRC list or header extension
	// claims more bytes than the datagram holds.
	ErrTruncatedHeader = errors.New("rtp: header exceeds packet length")
)

// Packet is a parsed RTP datagram. Payload aliases the input buffer and must
// not be retained past the call that produced it.
type Packet struct {
	Version        uint8
	Padding        bool
	Extension      bool
	Marker         bool
	CSRCCount      uint8
	PayloadType    uint8
	SequenceNumber uint16
	Timestamp      uint32
	SSRC           uint32

	// HeaderLength is 12 + 4·CSRCCount.
	HeaderLength int

	// Payload is the media payload with any header extension and trailing
	// padding removed.
	Payload []byte
}

// ParseHeader parses the fixed RTP header from b. Multi-byte fields are
// big-endian.
func ParseHeader(b []byte) (Packet, error) {
	if len(b) < HeaderSize {
		return Packet{}, ErrShortPacket
	}
	p := Packet{
		Version:        b[0] >> 6,
		Padding:        b[0]&0x20 != 0,
		Extension:      b[0]&0x10 != 0,
		CSRCCount:      b[0] & 0x0F,
		Marker:         b[1]&0x80 != 0,
		PayloadType:    b[1] & 0x7F,
		SequenceNumber: binary.BigEndian.Uint16(b[2:4]),
		Timestamp:      binary.BigEndian.Uint32(b[4:8]),
		SSRC:           binary.BigEndian.Uint32(b[8:12]),
	}
	p.HeaderLength = HeaderSize + 4*int(p.CSRCCount)
	if p.HeaderLength > len(b) {
		return Packet{}, ErrTruncatedHeader
	}

	start, end := p.HeaderLength, len(b)
	if p.Extension {
		if start+4 > end {
			return Packet{}, ErrTruncatedHeader
		}
		extWords := int(binary.BigEndian.Uint16(b[start+2 : start+4]))
		start += 4 + 4*extWords
		if start > end {
			return Packet{}, ErrTruncatedHeader
		}
	}
	if p.Padding && end > start {
		pad := int(b[end-1])
		if pad <= end-start {
			end -= pad
		}
	}
	p.Payload = b[start:end]
	return p, nil
}
