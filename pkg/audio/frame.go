package audio

import "math"

// Accumulator re-slices an arbitrary byte stream into fixed-size frames,
// carrying any remainder over to the next Push. It is not safe for concurrent
// use; each connection owns its own.
type Accumulator struct {
	size int
	buf  []byte
}

// NewAccumulator returns an Accumulator emitting frames of size bytes.
// A non-positive size falls back to [DefaultFrameSize].
func NewAccumulator(size int) *Accumulator {
	if size <= 0 {
		size = DefaultFrameSize
	}
	return &Accumulator{size: size, buf: make([]byte, 0, size*2)}
}

// Push appends b and returns every complete frame now available. Returned
// frames are fresh copies and never alias b or the internal buffer.
func (a *Accumulator) Push(b []byte) [][]byte {
	a.buf = append(a.buf, b...)
	if len(a.buf) < a.size {
		return nil
	}
	n := len(a.buf) / a.size
	frames := make([][]byte, 0, n)
	for i := range n {
		f := make([]byte, a.size)
		copy(f, a.buf[i*a.size:(i+1)*a.size])
		frames = append(frames, f)
	}
	rest := copy(a.buf, a.buf[n*a.size:])
	a.buf = a.buf[:rest]
	return frames
}

// Pending reports how many bytes are retained for the next frame.
func (a *Accumulator) Pending() int { return len(a.buf) }

// Size returns the frame size in bytes.
func (a *Accumulator) Size() int { return a.size }

// Reset drops any retained remainder.
func (a *Accumulator) Reset() { a.buf = a.buf[:0] }

// Reframe cuts pcm into frames of exactly size bytes. The final frame is
// zero-padded when pcm is not a multiple of size. An empty input yields no
// frames.
func Reframe(pcm []byte, size int) [][]byte {
	if size <= 0 {
		size = DefaultFrameSize
	}
	if len(pcm) == 0 {
		return nil
	}
	frames := make([][]byte, 0, (len(pcm)+size-1)/size)
	for off := 0; off < len(pcm); off += size {
		f := make([]byte, size)
		copy(f, pcm[off:min(off+size, len(pcm))])
		frames = append(frames, f)
	}
	return frames
}

// Silence returns size bytes of digital silence.
func Silence(size int) []byte {
	return make([]byte, size)
}

// RMS returns the root-mean-square amplitude of PCM16 little-endian samples.
func RMS(pcm []byte) float64 {
	n := len(pcm) / BytesPerSample
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		s := float64(int16(pcm[i*2]) | int16(pcm[i*2+1])<<8)
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}
