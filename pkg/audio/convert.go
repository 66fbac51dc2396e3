package audio

import "encoding/binary"

// Every function here works on little-endian int16 PCM. A trailing odd byte
// is ignored.

func sampleAt(pcm []byte, i int) int16 {
	return int16(binary.LittleEndian.Uint16(pcm[2*i:]))
}

func putSample(pcm []byte, i int, s int16) {
	binary.LittleEndian.PutUint16(pcm[2*i:], uint16(s))
}

// Int16sToBytes encodes samples as PCM bytes.
func Int16sToBytes(samples []int16) []byte {
	b := make([]byte, 2*len(samples))
	for i, s := range samples {
		putSample(b, i, s)
	}
	return b
}

// BytesToInt16s decodes PCM bytes into samples.
func BytesToInt16s(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = sampleAt(pcm, i)
	}
	return samples
}

// MonoToStereo writes every mono sample to both channels of an interleaved
// stereo frame. Opus codecs negotiated as stereo expect this layout.
func MonoToStereo(pcm []byte) []byte {
	n := len(pcm) / 2
	out := make([]byte, 4*n)
	for i := range n {
		s := sampleAt(pcm, i)
		putSample(out, 2*i, s)
		putSample(out, 2*i+1, s)
	}
	return out
}

// StereoToMono mixes interleaved stereo frames down to mono by averaging the
// two channels.
func StereoToMono(pcm []byte) []byte {
	n := len(pcm) / 4
	out := make([]byte, 2*n)
	for i := range n {
		l, r := int32(sampleAt(pcm, 2*i)), int32(sampleAt(pcm, 2*i+1))
		putSample(out, i, clamp16((l+r)/2))
	}
	return out
}

// ResampleMono16 converts mono PCM from srcRate to dstRate by linear
// interpolation. Matching rates, non-positive rates and inputs shorter than
// one sample are returned as is.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	n := len(pcm) / 2
	m := int(int64(n) * int64(dstRate) / int64(srcRate))
	if m == 0 {
		return nil
	}

	out := make([]byte, 2*m)
	step := float64(srcRate) / float64(dstRate)
	for i := range m {
		pos := float64(i) * step
		j := int(pos)
		frac := pos - float64(j)
		a := float64(sampleAt(pcm, j))
		b := a
		if j+1 < n {
			b = float64(sampleAt(pcm, j+1))
		}
		putSample(out, i, int16(a+(b-a)*frac))
	}
	return out
}

func clamp16(v int32) int16 {
	switch {
	case v > 32767:
		return 32767
	case v < -32768:
		return -32768
	}
	return int16(v)
}
