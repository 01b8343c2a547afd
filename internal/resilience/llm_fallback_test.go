package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/voxrelay/voxrelay/pkg/provider/llm"
	llmmock "github.com/voxrelay/voxrelay/pkg/provider/llm/mock"
)

func collectText(ch <-chan llm.Chunk) string {
	var out string
	for c := range ch {
		out += c.Text
	}
	return out
}

func TestLLMFallback_Generate_PrimarySuccess(t *testing.T) {
	primary := &llmmock.Provider{
		Chunks: []llm.Chunk{{Text: "hello from primary", FinishReason: "stop"}},
	}
	secondary := &llmmock.Provider{
		Chunks: []llm.Chunk{{Text: "hello from secondary", FinishReason: "stop"}},
	}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	ch, err := fb.Generate(context.Background(), "hi", llm.Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := collectText(ch); got != "hello from primary" {
		t.Fatalf("text = %q, want 'hello from primary'", got)
	}
	if primary.CallCount() != 1 {
		t.Fatalf("primary called %d times, want 1", primary.CallCount())
	}
	if secondary.CallCount() != 0 {
		t.Fatalf("secondary called %d times, want 0", secondary.CallCount())
	}
}

func TestLLMFallback_Generate_Failover(t *testing.T) {
	primary := &llmmock.Provider{
		GenerateErr: errors.New("primary down"),
	}
	secondary := &llmmock.Provider{
		Chunks: []llm.Chunk{{Text: "hello from secondary", FinishReason: "stop"}},
	}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	ch, err := fb.Generate(context.Background(), "hi", llm.Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := collectText(ch); got != "hello from secondary" {
		t.Fatalf("text = %q, want 'hello from secondary'", got)
	}
}

func TestLLMFallback_Generate_AllFail(t *testing.T) {
	primary := &llmmock.Provider{GenerateErr: errors.New("primary down")}
	secondary := &llmmock.Provider{GenerateErr: errors.New("secondary down")}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	_, err := fb.Generate(context.Background(), "hi", llm.Options{})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestLLMFallback_Generate_OpenBreakerSkipsPrimary(t *testing.T) {
	primary := &llmmock.Provider{GenerateErr: errors.New("primary down")}
	secondary := &llmmock.Provider{
		Chunks: []llm.Chunk{{Text: "ok", FinishReason: "stop"}},
	}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1},
	})
	fb.AddFallback("secondary", secondary)

	// First call trips the primary's breaker, second skips it entirely.
	for range 2 {
		ch, err := fb.Generate(context.Background(), "hi", llm.Options{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for range ch {
		}
	}
	if primary.CallCount() != 1 {
		t.Fatalf("primary called %d times, want 1 (breaker open after first failure)", primary.CallCount())
	}
	if secondary.CallCount() != 2 {
		t.Fatalf("secondary called %d times, want 2", secondary.CallCount())
	}
}

func TestLLMFallback_ModelID(t *testing.T) {
	primary := &llmmock.Provider{Model: "llama3.1:8b"}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})

	if got := fb.ModelID(); got != "llama3.1:8b" {
		t.Fatalf("ModelID = %q, want llama3.1:8b", got)
	}
}
