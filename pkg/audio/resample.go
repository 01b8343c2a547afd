package audio

// Resampler converts 16-bit mono PCM between sample rates using linear
// interpolation while preserving fractional sample position across calls.
// Feeding a stream chunk by chunk produces output bit-identical to converting
// the concatenated stream in one call, provided [Resampler.Flush] is called
// after the final chunk.
//
// A Resampler carries per-stream state and must not be shared between
// goroutines.
type Resampler struct {
	srcRate int
	dstRate int
	ratio   float64

	// pending holds input samples that future output samples may still
	// interpolate against. pendingStart is the absolute index of pending[0].
	pending      []int16
	pendingStart int64

	totalIn int64 // absolute count of input samples consumed
	nextOut int64 // absolute index of the next output sample to emit
}

// NewResampler creates a Resampler converting srcRate to dstRate.
// Rates must be positive.
func NewResampler(srcRate, dstRate int) *Resampler {
	return &Resampler{
		srcRate: srcRate,
		dstRate: dstRate,
		ratio:   float64(srcRate) / float64(dstRate),
	}
}

// Resample converts the next chunk of the stream. The returned buffer holds
// every output sample whose interpolation window is fully covered by the
// input received so far; the remainder is emitted by [Resampler.Flush].
// If the source and destination rates match, pcm is returned unchanged.
func (r *Resampler) Resample(pcm []byte) []byte {
	if r.srcRate == r.dstRate {
		return pcm
	}

	n := len(pcm) / 2
	for i := 0; i < n; i++ {
		r.pending = append(r.pending, int16(pcm[i*2])|int16(pcm[i*2+1])<<8)
	}
	r.totalIn += int64(n)

	var out []byte
	for {
		srcPos := float64(r.nextOut) * r.ratio
		srcIdx := int64(srcPos)
		if srcIdx+1 >= r.totalIn {
			break
		}
		frac := srcPos - float64(srcIdx)
		s0 := r.pending[srcIdx-r.pendingStart]
		s1 := r.pending[srcIdx+1-r.pendingStart]
		out = appendSample(out, int16(float64(s0)*(1-frac)+float64(s1)*frac))
		r.nextOut++
	}

	// Drop input the next output sample can no longer reach.
	if keep := int64(float64(r.nextOut) * r.ratio); keep > r.pendingStart {
		r.pending = r.pending[keep-r.pendingStart:]
		r.pendingStart = keep
	}
	return out
}

// Flush emits the tail of the stream: the output samples whose interpolation
// window extends past the final input sample, clamped to it. The total output
// length across Resample and Flush equals len(input) * dstRate / srcRate.
// After Flush the Resampler must be Reset before reuse.
func (r *Resampler) Flush() []byte {
	if r.srcRate == r.dstRate || r.totalIn == 0 {
		return nil
	}

	totalOut := r.totalIn * int64(r.dstRate) / int64(r.srcRate)
	var out []byte
	for ; r.nextOut < totalOut; r.nextOut++ {
		srcPos := float64(r.nextOut) * r.ratio
		srcIdx := int64(srcPos)
		frac := srcPos - float64(srcIdx)
		s0 := r.pending[srcIdx-r.pendingStart]
		s1 := s0
		if srcIdx+1 < r.totalIn {
			s1 = r.pending[srcIdx+1-r.pendingStart]
		}
		out = appendSample(out, int16(float64(s0)*(1-frac)+float64(s1)*frac))
	}
	return out
}

// Reset clears all carried state so the Resampler can start a new stream.
func (r *Resampler) Reset() {
	r.pending = r.pending[:0]
	r.pendingStart = 0
	r.totalIn = 0
	r.nextOut = 0
}

func appendSample(buf []byte, s int16) []byte {
	return append(buf, byte(s), byte(s>>8))
}
