package rtp

import "net"

// Event is emitted by a [Decoder] for each noteworthy occurrence on a
// stream. The set of implementations is closed: [PCMEvent], [LossEvent] and
// [ErrorEvent].
type Event interface {
	rtpEvent()
}

// PCMEvent carries the linear PCM decoded from one packet.
type PCMEvent struct {
	PCM        []byte
	Sequence   uint16
	Timestamp  uint32
	SSRC       uint32
	SampleRate int
	Channels   int
	Source     net.Addr
}

// LossEvent reports a gap in the sequence numbers. Lost is computed modulo
// 2^16, so a late or reordered packet shows up as a large gap.
type LossEvent struct {
	Expected uint16
	Received uint16
	Lost     int
	SSRC     uint32
}

// ErrorKind distinguishes parse failures from payload decode failures.
type ErrorKind int

const (
	// ErrorParse means the datagram was not a valid RTP packet.
	ErrorParse ErrorKind = iota + 1

	// ErrorDecode means the payload could not be expanded to PCM.
	ErrorDecode
)

// String returns a human-readable name for the error kind.
func (k ErrorKind) String() string {
	switch k {
	case ErrorParse:
		return "parse"
	case ErrorDecode:
		return "decode"
	default:
		return "unknown"
	}
}

// ErrorEvent reports a packet that was dropped.
type ErrorEvent struct {
	Kind   ErrorKind
	Err    error
	Source net.Addr
}

func (PCMEvent) rtpEvent()   {}
func (LossEvent) rtpEvent()  {}
func (ErrorEvent) rtpEvent() {}
