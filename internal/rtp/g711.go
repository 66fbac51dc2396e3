package rtp

// G.711 expansion tables, built once from the ITU-T bit layout.
var (
	ulawTable [256]int16
	alawTable [256]int16
)

func init() {
	for i := range 256 {
		ulawTable[i] = decodeULawSample(byte(i))
		alawTable[i] = decodeALawSample(byte(i))
	}
}

const (
	ulawBias = 0x84
	ulawClip = 32635
)

func decodeULawSample(b byte) int16 {
	b = ^b
	sign := int16(1)
	if b&0x80 != 0 {
		sign = -1
	}
	exponent := int16((b >> 4) & 0x07)
	mantissa := int16(b & 0x0F)
	sample := (mantissa<<3 + ulawBias) << exponent
	return sign * (sample - ulawBias)
}

func decodeALawSample(b byte) int16 {
	b ^= 0x55
	sign := int16(1)
	if b&0x80 == 0 {
		sign = -1
	}
	b &= 0x7F
	exponent := int16((b >> 4) & 0x07)
	mantissa := int16(b & 0x0F)
	if exponent == 0 {
		return sign * (mantissa<<4 + 8)
	}
	return sign * ((mantissa<<4 + 0x108) << (exponent - 1))
}

func encodeULawSample(s int16) byte {
	v := int(s)
	sign := 0
	if v < 0 {
		v = -v
		sign = 0x80
	}
	if v > ulawClip {
		v = ulawClip
	}
	v += ulawBias
	exponent := 7
	for mask := 0x4000; v&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := (v >> (exponent + 3)) & 0x0F
	return ^byte(sign | exponent<<4 | mantissa)
}

func encodeALawSample(s int16) byte {
	v := int(s)
	sign := 0x80
	if v < 0 {
		v = -v - 1
		sign = 0
	}
	var out int
	if v < 256 {
		out = v >> 4
	} else {
		exponent := 1
		for t := v >> 8; t > 1; t >>= 1 {
			exponent++
		}
		out = exponent<<4 | (v>>(exponent+3))&0x0F
	}
	return byte(out|sign) ^ 0x55
}

// expandG711 maps each 8-bit code through table into PCM16 little-endian.
func expandG711(payload []byte, table *[256]int16) []byte {
	out := make([]byte, len(payload)*2)
	for i, b := range payload {
		s := table[b]
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// compressG711 encodes PCM16 little-endian samples with enc.
func compressG711(pcm []byte, enc func(int16) byte) []byte {
	out := make([]byte, len(pcm)/2)
	for i := range out {
		out[i] = enc(int16(pcm[i*2]) | int16(pcm[i*2+1])<<8)
	}
	return out
}
