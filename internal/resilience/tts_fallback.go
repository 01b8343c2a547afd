package resilience

import (
	"context"

	"github.com/voxrelay/voxrelay/pkg/provider/tts"
)

// TTSFallback implements [tts.Provider] with automatic failover across multiple
// TTS backends. Each backend has its own circuit breaker.
//
// All registered backends must produce PCM at the same sample rate; the audio
// sink is configured once per call from SampleRate.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

// Compile-time interface assertion.
var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional TTS provider as a fallback.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// Synthesize streams synthesized audio from the first healthy provider. Only
// the initial request setup is covered by failover; mid-stream errors are the
// caller's responsibility.
func (f *TTSFallback) Synthesize(ctx context.Context, text string, voice string) (<-chan []byte, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) (<-chan []byte, error) {
		return p.Synthesize(ctx, text, voice)
	})
}

// SampleRate returns the sample rate of the first entry (the primary).
// This does not participate in failover because it is static metadata.
func (f *TTSFallback) SampleRate() int {
	if len(f.group.entries) > 0 {
		return f.group.entries[0].value.SampleRate()
	}
	return 0
}
