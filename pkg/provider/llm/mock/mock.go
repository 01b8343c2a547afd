// Package mock provides test doubles for the llm package interfaces.
//
// Provider records every Generate call and streams caller-supplied chunks,
// so pipeline tests can drive generation deterministically.
package mock

import (
	"context"
	"sync"

	"github.com/voxrelay/voxrelay/pkg/provider/llm"
)

// GenerateCall records a single invocation of Provider.Generate.
type GenerateCall struct {
	// Prompt is the prompt passed to Generate.
	Prompt string
	// Opts are the generation options passed to Generate.
	Opts llm.Options
}

// Provider is a mock implementation of llm.Provider.
type Provider struct {
	mu sync.Mutex

	// Chunks is the sequence emitted by every Generate call. If nil, a
	// single terminal chunk with FinishReason "stop" is emitted.
	Chunks []llm.Chunk

	// GenerateErr, if non-nil, is returned as the error from Generate.
	GenerateErr error

	// Model is the value returned by ModelID. Defaults to "mock-model".
	Model string

	// GenerateCalls records every call to Generate in order.
	GenerateCalls []GenerateCall
}

// Generate records the call and returns a channel carrying Chunks.
func (p *Provider) Generate(ctx context.Context, prompt string, opts llm.Options) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	p.GenerateCalls = append(p.GenerateCalls, GenerateCall{Prompt: prompt, Opts: opts})
	chunks := p.Chunks
	err := p.GenerateErr
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if chunks == nil {
		chunks = []llm.Chunk{{FinishReason: "stop"}}
	}

	ch := make(chan llm.Chunk, len(chunks))
	go func() {
		defer close(ch)
		for _, c := range chunks {
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// ModelID returns Model, defaulting to "mock-model".
func (p *Provider) ModelID() string {
	if p.Model == "" {
		return "mock-model"
	}
	return p.Model
}

// CallCount returns the number of Generate calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.GenerateCalls)
}

// LastPrompt returns the prompt of the most recent Generate call, or "" when
// no call was recorded.
func (p *Provider) LastPrompt() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.GenerateCalls) == 0 {
		return ""
	}
	return p.GenerateCalls[len(p.GenerateCalls)-1].Prompt
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.GenerateCalls = nil
}

// Ensure Provider implements llm.Provider at compile time.
var _ llm.Provider = (*Provider)(nil)
