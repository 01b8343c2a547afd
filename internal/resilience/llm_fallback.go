package resilience

import (
	"context"

	"github.com/voxrelay/voxrelay/pkg/provider/llm"
)

// LLMFallback implements [llm.Provider] with automatic failover across multiple
// LLM backends. Each backend has its own circuit breaker; when the primary fails
// or its breaker is open, the next healthy fallback is tried. The typical setup
// is a local Ollama primary with a hosted model as fallback.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

// Compile-time interface assertion.
var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional LLM provider as a fallback.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Generate starts a token stream against the first healthy provider. Note:
// only the initial connection attempt is covered by failover; once a stream is
// established, mid-stream errors are the caller's responsibility.
//
// A model override in opts is only meaningful for the provider it targets, so
// callers using fallbacks should leave opts.Model empty and let each backend
// use its own configured model.
func (f *LLMFallback) Generate(ctx context.Context, prompt string, opts llm.Options) (<-chan llm.Chunk, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (<-chan llm.Chunk, error) {
		return p.Generate(ctx, prompt, opts)
	})
}

// ModelID returns the model identifier of the first entry (the primary).
// This does not participate in failover because it is static metadata.
func (f *LLMFallback) ModelID() string {
	if len(f.group.entries) > 0 {
		return f.group.entries[0].value.ModelID()
	}
	return ""
}
