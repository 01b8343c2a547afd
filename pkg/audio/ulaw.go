// Package audio provides the telephony audio primitives shared by the media
// path: G.711 μ-law conversion, RMS energy, stateful sample-rate conversion,
// frame packetization, and edge fades.
//
// All PCM buffers are little-endian 16-bit mono samples unless stated
// otherwise. All functions are safe for concurrent use except [Resampler],
// which carries per-stream state.
package audio

import "math"

// μ-law silence byte. Egress frames are padded with this value.
const UlawSilence = 0xFF

// FrameSize is the egress frame length in bytes: 160 μ-law samples,
// 20 ms at 8 kHz.
const FrameSize = 160

const (
	ulawBias = 0x84
	ulawClip = 32635
)

// segment end points for the μ-law encoder, indexed by exponent.
var ulawSegments = [8]int16{0xFF, 0x1FF, 0x3FF, 0x7FF, 0xFFF, 0x1FFF, 0x3FFF, 0x7FFF}

// PCM16ToUlaw encodes little-endian 16-bit PCM into G.711 μ-law, one output
// byte per input sample. A trailing odd byte is ignored.
func PCM16ToUlaw(pcm []byte) []byte {
	out := make([]byte, len(pcm)/2)
	for i := range out {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = encodeUlaw(s)
	}
	return out
}

// UlawToPCM16 decodes G.711 μ-law into little-endian 16-bit PCM, two output
// bytes per input byte.
func UlawToPCM16(ulaw []byte) []byte {
	out := make([]byte, len(ulaw)*2)
	for i, u := range ulaw {
		s := decodeUlaw(u)
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

func encodeUlaw(sample int16) byte {
	sign := byte(0)
	s := int32(sample)
	if s < 0 {
		s = -s
		sign = 0x80
	}
	if s > ulawClip {
		s = ulawClip
	}
	s += ulawBias

	exp := 7
	for i, end := range ulawSegments {
		if s <= int32(end) {
			exp = i
			break
		}
	}

	mantissa := byte(s>>(uint(exp)+3)) & 0x0F
	return ^(sign | byte(exp)<<4 | mantissa)
}

func decodeUlaw(u byte) int16 {
	u = ^u
	exp := (u >> 4) & 0x07
	mantissa := u & 0x0F
	s := (int32(mantissa)<<3 + ulawBias) << uint(exp)
	if u&0x80 != 0 {
		return int16(ulawBias - s)
	}
	return int16(s - ulawBias)
}

// RMS returns the root-mean-square energy of little-endian 16-bit PCM,
// clamped to [0, 32767]. Empty or odd-length input yields 0.
func RMS(pcm []byte) int {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(pcm[i*2]) | int16(pcm[i*2+1])<<8)
		sum += s * s
	}
	r := int(math.Sqrt(sum / float64(n)))
	if r > 32767 {
		r = 32767
	}
	return r
}
