package audio

// FadeSamples is the edge-fade window applied to the first and last chunk of
// a synthesized utterance: 160 samples, 20 ms at 8 kHz.
const FadeSamples = 160

// FadeIn applies a linear ramp from silence over the first n samples of
// little-endian 16-bit PCM, in place. Shorter buffers are ramped over their
// full length.
func FadeIn(pcm []byte, n int) {
	total := len(pcm) / 2
	if n > total {
		n = total
	}
	if n <= 0 {
		return
	}
	for i := 0; i < n; i++ {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		s = int16(float64(s) * float64(i) / float64(n))
		pcm[i*2] = byte(s)
		pcm[i*2+1] = byte(s >> 8)
	}
}

// FadeOut applies a linear ramp to silence over the last n samples of
// little-endian 16-bit PCM, in place. Shorter buffers are ramped over their
// full length.
func FadeOut(pcm []byte, n int) {
	total := len(pcm) / 2
	if n > total {
		n = total
	}
	if n <= 0 {
		return
	}
	start := total - n
	for i := 0; i < n; i++ {
		idx := (start + i) * 2
		s := int16(pcm[idx]) | int16(pcm[idx+1])<<8
		s = int16(float64(s) * float64(n-i) / float64(n))
		pcm[idx] = byte(s)
		pcm[idx+1] = byte(s >> 8)
	}
}

// Packetize slices μ-law audio into [FrameSize]-byte frames. The final frame
// is right-padded with [UlawSilence] when the input is not a whole number of
// frames. Empty input yields no frames.
func Packetize(ulaw []byte) [][]byte {
	if len(ulaw) == 0 {
		return nil
	}
	frames := make([][]byte, 0, (len(ulaw)+FrameSize-1)/FrameSize)
	for off := 0; off < len(ulaw); off += FrameSize {
		end := off + FrameSize
		if end <= len(ulaw) {
			frames = append(frames, ulaw[off:end])
			continue
		}
		frame := make([]byte, FrameSize)
		n := copy(frame, ulaw[off:])
		for i := n; i < FrameSize; i++ {
			frame[i] = UlawSilence
		}
		frames = append(frames, frame)
	}
	return frames
}
