package call

import (
	"context"
	"log/slog"
	"time"

	"github.com/voxrelay/voxrelay/internal/observe"
	"github.com/voxrelay/voxrelay/pkg/audio"
	"github.com/voxrelay/voxrelay/pkg/provider/tts"
)

// synthesisTimeout bounds one sentence's TTS stream.
const synthesisTimeout = 30 * time.Second

// Sink is the egress worker: it consumes a session's sentence queue,
// synthesizes each sentence, resamples to 8 kHz, applies edge fades, and
// emits 160-byte μ-law frames on the media channel. One Run goroutine exists
// per call; the Sink itself is shared and stateless.
type Sink struct {
	tts          tts.Provider
	defaultVoice string
	logger       *slog.Logger
	metrics      *observe.Metrics
}

// SinkOption configures a [Sink].
type SinkOption func(*Sink)

// WithSinkLogger overrides the sink's logger.
func WithSinkLogger(l *slog.Logger) SinkOption {
	return func(k *Sink) { k.logger = l }
}

// WithSinkMetrics overrides the sink's metrics.
func WithSinkMetrics(m *observe.Metrics) SinkOption {
	return func(k *Sink) { k.metrics = m }
}

// NewSink creates the egress worker. defaultVoice is used when neither the
// call nor the agent selects one.
func NewSink(p tts.Provider, defaultVoice string, opts ...SinkOption) *Sink {
	k := &Sink{
		tts:          p,
		defaultVoice: defaultVoice,
		logger:       slog.Default(),
		metrics:      observe.DefaultMetrics(),
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Run consumes s's sentence queue until the session is destroyed. Errors
// never escape the sink; a failure terminates only the current sentence.
func (k *Sink) Run(s *Session) {
	if rate := k.tts.SampleRate(); rate != 16000 {
		s.resampler = audio.NewResampler(rate, 8000)
	}

	ctx := s.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.interruptCh:
			k.finishInterrupt(s)
		case sentence := <-s.ttsQueue:
			if s.Interrupted() {
				k.finishInterrupt(s)
				continue
			}
			// The agent holds the floor from dequeue, not from the first
			// synthesized byte; the arbiter must not commit a turn into the
			// synthesis startup gap.
			s.SetSpeaking(true)
			k.speak(ctx, s, sentence)
			if s.Interrupted() {
				k.finishInterrupt(s)
				continue
			}
			if s.QueueLen() == 0 {
				s.SetSpeaking(false)
			}
		}
	}
}

// finishInterrupt completes TTS teardown after a barge-in: the queue is
// drained, the resampler forgets the cut-off stream, and the latch is
// released so the caller's next turn can proceed.
func (k *Sink) finishInterrupt(s *Session) {
	s.DrainQueue()
	s.resampler.Reset()
	s.SetSpeaking(false)
	s.ClearInterrupt()
}

// speak synthesizes one sentence and streams it out as μ-law frames. The
// first resampled chunk gets a fade-in; when this is the last queued
// sentence the stream's tail gets a fade-out.
func (k *Sink) speak(ctx context.Context, s *Session, sentence string) {
	sctx, cancel := context.WithTimeout(ctx, synthesisTimeout)
	defer cancel()

	start := time.Now()
	stream, err := k.tts.Synthesize(sctx, sentence, s.Voice(k.defaultVoice))
	if err != nil {
		k.logger.Error("call: tts synthesize", "call_id", s.CallID, "error", err)
		k.metrics.RecordProviderError(ctx, "tts", "synthesize")
		return
	}

	streamID := s.StreamID()

	var (
		held      []byte // last resampled chunk, withheld for the fade-out
		carry     []byte // μ-law remainder below one frame
		first     = true
		firstByte = true
	)
	for chunk := range stream {
		if s.Interrupted() {
			audio.Drain(stream)
			s.resampler.Reset()
			return
		}
		if firstByte {
			k.metrics.TTSFirstByteDuration.Record(ctx, time.Since(start).Seconds())
			firstByte = false
		}
		pcm := s.resampler.Resample(chunk)
		if len(pcm) == 0 {
			continue
		}
		if first {
			audio.FadeIn(pcm, audio.FadeSamples)
			first = false
		}
		if held != nil {
			carry = k.transmit(s, streamID, append(carry, audio.PCM16ToUlaw(held)...))
		}
		held = pcm
	}

	if tail := s.resampler.Flush(); len(tail) > 0 {
		held = append(held, tail...)
	}
	s.resampler.Reset()
	if held == nil && len(carry) == 0 {
		return
	}

	if held != nil && !s.Interrupted() && s.QueueLen() == 0 {
		audio.FadeOut(held, audio.FadeSamples)
	}
	if held != nil {
		carry = append(carry, audio.PCM16ToUlaw(held)...)
	}
	for _, frame := range audio.Packetize(carry) {
		if err := s.SendFrame(streamID, frame); err != nil {
			return
		}
	}
}

// transmit sends every whole frame of ulaw and returns the remainder, which
// rides along to the next chunk so only the utterance's final frame is
// silence-padded.
func (k *Sink) transmit(s *Session, streamID string, ulaw []byte) []byte {
	off := 0
	for off+audio.FrameSize <= len(ulaw) {
		if err := s.SendFrame(streamID, ulaw[off:off+audio.FrameSize]); err != nil {
			return nil
		}
		off += audio.FrameSize
	}
	return ulaw[off:]
}
