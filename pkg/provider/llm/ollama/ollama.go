// Package ollama provides an LLM provider backed by a local Ollama server.
//
// It speaks Ollama's native /api/generate endpoint rather than the
// chat-completions shim because the call runtime composes one raw prompt
// string per turn and relies on Ollama-specific sampling options (top_k,
// repeat_penalty, stop sequences) that the OpenAI-compatible surface does not
// expose. Responses stream as newline-delimited JSON.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/voxrelay/voxrelay/pkg/provider/llm"
)

// DefaultBaseURL is the default base URL for a locally running Ollama instance.
const DefaultBaseURL = "http://localhost:11434"

// chunkChanBuf is the buffer depth of the returned chunk channel. Generation
// can run ahead of sentence shaping by up to this many fragments before the
// producer blocks.
const chunkChanBuf = 500

// Ensure Provider implements the llm.Provider interface at compile time.
var _ llm.Provider = (*Provider)(nil)

// Provider implements llm.Provider using a local Ollama server.
// It is safe for concurrent use.
type Provider struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// Option is a functional option for Provider.
type Option func(*Provider)

// WithHTTPClient replaces the HTTP client used for requests. Useful for tests
// and custom timeouts. Note that generation requests are long-lived streams;
// a short client timeout will truncate responses.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// New constructs a new Ollama Provider.
//
// baseURL is the base URL of the Ollama server (e.g.,
// "http://localhost:11434"). If empty, DefaultBaseURL is used. model is the
// default Ollama model used for generation (e.g., "llama3.1:8b") and must not
// be empty.
func New(baseURL string, model string, opts ...Option) (*Provider, error) {
	if model == "" {
		return nil, fmt.Errorf("ollama: model must not be empty")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	p := &Provider{
		baseURL:    baseURL,
		model:      model,
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// generateRequest is the JSON request body sent to Ollama's /api/generate.
type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

// generateOptions maps llm.Options onto Ollama's native sampling knobs.
type generateOptions struct {
	Temperature   float64  `json:"temperature,omitempty"`
	NumPredict    int      `json:"num_predict,omitempty"`
	TopK          int      `json:"top_k,omitempty"`
	TopP          float64  `json:"top_p,omitempty"`
	RepeatPenalty float64  `json:"repeat_penalty,omitempty"`
	Stop          []string `json:"stop,omitempty"`
}

// generateResponse is one NDJSON line from the /api/generate stream.
type generateResponse struct {
	Response   string `json:"response"`
	Done       bool   `json:"done"`
	DoneReason string `json:"done_reason"`
}

// Generate implements llm.Provider by streaming tokens from /api/generate.
func (p *Provider) Generate(ctx context.Context, prompt string, opts llm.Options) (<-chan llm.Chunk, error) {
	model := opts.Model
	if model == "" {
		model = p.model
	}

	body, err := json.Marshal(generateRequest{
		Model:  model,
		Prompt: prompt,
		Stream: true,
		Options: generateOptions{
			Temperature:   opts.Temperature,
			NumPredict:    opts.MaxTokens,
			TopK:          opts.TopK,
			TopP:          opts.TopP,
			RepeatPenalty: opts.RepeatPenalty,
			Stop:          opts.Stop,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("ollama: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ollama: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama: POST /api/generate: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("ollama: POST /api/generate returned status %d", resp.StatusCode)
	}

	ch := make(chan llm.Chunk, chunkChanBuf)

	go func() {
		defer close(ch)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := scanner.Bytes()
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}

			var gr generateResponse
			if err := json.Unmarshal(line, &gr); err != nil {
				continue
			}

			out := llm.Chunk{Text: gr.Response}
			if gr.Done {
				out.FinishReason = gr.DoneReason
				if out.FinishReason == "" {
					out.FinishReason = "stop"
				}
			}

			select {
			case ch <- out:
			case <-ctx.Done():
				return
			}

			if gr.Done {
				return
			}
		}

		if err := scanner.Err(); err != nil {
			select {
			case ch <- llm.Chunk{FinishReason: "error", Text: err.Error()}:
			case <-ctx.Done():
			}
		}
	}()

	return ch, nil
}

// ModelID implements llm.Provider by returning the default model name.
func (p *Provider) ModelID() string {
	return p.model
}
