// Package llm defines the Provider interface for text-generation backends.
//
// An LLM provider wraps a local or remote model API (e.g., an Ollama server
// or a hosted chat-completions service) and exposes a uniform streaming
// interface for the call runtime to generate spoken responses. The prompt is
// a single pre-composed string — prompt assembly (system instructions, call
// context, retrieved knowledge, history) happens upstream in the dialog
// layer.
//
// Implementors must be safe for concurrent use. Channels returned by
// Generate must be closed by the implementation when the stream ends or when
// the supplied context is cancelled.
package llm

import "context"

// Options carries generation tuning parameters. Zero values select provider
// defaults.
type Options struct {
	// Model overrides the provider's configured model for this request.
	// Empty uses the provider default. Used for per-agent model selection.
	Model string

	// Temperature controls output randomness in [0.0, 2.0]. Lower values
	// produce more deterministic outputs.
	Temperature float64

	// MaxTokens caps the number of tokens the model may generate.
	MaxTokens int

	// TopK limits sampling to the K most likely tokens. Ignored by providers
	// that do not support it.
	TopK int

	// TopP enables nucleus sampling with the given cumulative probability.
	TopP float64

	// RepeatPenalty penalises token repetition. Ignored by providers that do
	// not support it.
	RepeatPenalty float64

	// Stop lists sequences that terminate generation when emitted.
	Stop []string
}

// Chunk is a single token or fragment emitted by a streaming generation.
type Chunk struct {
	// Text is the incremental text content of this chunk. May be empty on
	// the final chunk.
	Text string

	// FinishReason is set on the final chunk and indicates why generation
	// stopped. Common values are "stop" (natural end), "length" (MaxTokens
	// reached), and "error" (mid-stream failure; Text carries the message).
	// Non-final chunks carry "".
	FinishReason string
}

// Provider is the abstraction over any text-generation backend.
//
// Implementations must be safe for concurrent use from multiple goroutines
// and must propagate context cancellation promptly: when ctx is cancelled the
// stream must close as quickly as possible.
type Provider interface {
	// Generate sends prompt to the model and returns a read-only channel that
	// emits Chunk values as they arrive. The channel is closed by the
	// implementation when generation finishes or when ctx is cancelled.
	//
	// Callers must drain the channel to avoid goroutine leaks. Errors that
	// occur after the channel is opened are surfaced as a Chunk with
	// FinishReason "error"; the initial error return is non-nil only for
	// failures that prevent the stream from starting.
	//
	// The returned channel must never be nil when error is nil.
	Generate(ctx context.Context, prompt string, opts Options) (<-chan Chunk, error)

	// ModelID returns the model identifier this provider generates with
	// (e.g., "llama3.1:8b"). Useful for logging and per-agent overrides.
	ModelID() string
}
