package audio

import "time"

// Telephony defaults: 16-bit signed little-endian mono PCM at 8 kHz, cut into
// 20 ms frames.
const (
	DefaultSampleRate = 8000
	DefaultFrameSize  = 320
	BytesPerSample    = 2
)

// Frame is a fixed-size unit of linear PCM as delivered by an ingestion path.
// Frames are the atomic unit flowing into a channel pipeline. Data is always
// exactly the configured frame size; short tails are zero-padded before a
// Frame is built.
type Frame struct {
	// Data holds PCM16 little-endian mono samples.
	Data []byte

	// ConnectionID identifies the transport connection the frame arrived on.
	ConnectionID string

	// Identity is the call/channel identity bound to the connection.
	Identity string

	// Protocol names the ingestion path ("framed", "message", "rtp").
	Protocol string

	// Sequence is per connection, starts at 1 and increases by one per frame.
	Sequence uint64

	// CapturedAt is the wall-clock time the frame was completed.
	CapturedAt time.Time

	// SampleRate in Hz.
	SampleRate int
}

// Duration reports how much audio the frame carries.
func (f Frame) Duration() time.Duration {
	return FrameDuration(len(f.Data), f.SampleRate)
}

// FrameDuration converts a PCM16 mono byte count at sampleRate to a duration.
// It returns 0 for a non-positive rate.
func FrameDuration(size, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	samples := size / BytesPerSample
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}
