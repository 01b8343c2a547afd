// Package mock provides test doubles for the tts package interfaces.
//
// Provider records every Synthesize call and emits caller-supplied PCM
// chunks, so pipeline tests can assert on synthesis ordering and content
// without a live TTS backend.
package mock

import (
	"context"
	"sync"

	"github.com/voxrelay/voxrelay/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Provider.Synthesize.
type SynthesizeCall struct {
	// Text is the utterance passed to Synthesize.
	Text string
	// Voice is the voice identifier passed to Synthesize.
	Voice string
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Chunks is the sequence of PCM chunks emitted by every Synthesize call.
	// If nil, a single 320-byte zero chunk is emitted.
	Chunks [][]byte

	// SynthesizeErr, if non-nil, is returned as the error from Synthesize.
	SynthesizeErr error

	// Rate is the value returned by SampleRate. Zero defaults to 16000.
	Rate int

	// SynthesizeCalls records every call to Synthesize in order.
	SynthesizeCalls []SynthesizeCall
}

// Synthesize records the call and returns a channel carrying Chunks.
func (p *Provider) Synthesize(ctx context.Context, text string, voice string) (<-chan []byte, error) {
	p.mu.Lock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Text: text, Voice: voice})
	chunks := p.Chunks
	err := p.SynthesizeErr
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if chunks == nil {
		chunks = [][]byte{make([]byte, 320)}
	}

	ch := make(chan []byte, len(chunks))
	go func() {
		defer close(ch)
		for _, chunk := range chunks {
			cp := make([]byte, len(chunk))
			copy(cp, chunk)
			select {
			case ch <- cp:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// SampleRate returns Rate, defaulting to 16000.
func (p *Provider) SampleRate() int {
	if p.Rate == 0 {
		return 16000
	}
	return p.Rate
}

// CallCount returns the number of Synthesize calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.SynthesizeCalls)
}

// Texts returns the texts of all recorded Synthesize calls in order.
func (p *Provider) Texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.SynthesizeCalls))
	for i, c := range p.SynthesizeCalls {
		out[i] = c.Text
	}
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = nil
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
