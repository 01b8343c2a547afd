// Package tts defines the Provider interface for streaming text-to-speech
// backends.
//
// A TTS provider wraps a speech synthesis service (e.g., Deepgram Aura) and
// presents a uniform streaming interface. The primary entry point is
// Synthesize, which accepts one utterance of text and returns a channel of
// raw PCM audio chunks as they become available — enabling low-latency
// pipelining between sentence-level LLM output and the audio sink.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use. Multiple synthesis
// requests may run in parallel (one per live call).
type Provider interface {
	// Synthesize converts text into speech and returns a channel that emits
	// raw PCM audio byte slices as they are synthesised. The audio format is
	// 16-bit little-endian mono at SampleRate.
	//
	// voice selects the provider-specific voice identifier. An empty string
	// uses the provider default.
	//
	// The returned channel is closed by the implementation when synthesis
	// completes or when ctx is cancelled. The caller must drain the channel
	// to avoid blocking the provider's internal goroutines.
	//
	// Returns a non-nil error only if the stream cannot be started. Errors
	// encountered mid-synthesis are signalled by closing the audio channel
	// early; callers should check ctx.Err() to distinguish cancellation from
	// provider errors.
	Synthesize(ctx context.Context, text string, voice string) (<-chan []byte, error)

	// SampleRate returns the sample rate, in Hz, of the PCM emitted by
	// Synthesize. Constant for the lifetime of the Provider instance.
	SampleRate() int
}
