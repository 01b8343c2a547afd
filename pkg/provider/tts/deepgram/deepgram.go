// Package deepgram provides a Deepgram Aura-backed TTS provider using the
// Deepgram speak REST API. It implements the tts.Provider interface.
//
// Synthesis is performed via POST /v1/speak with a JSON body; the response
// body is a raw PCM stream (linear16) that is re-chunked onto the returned
// audio channel as it arrives, so playback can begin before the full
// utterance has been synthesised.
package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/voxrelay/voxrelay/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

const (
	defaultBaseURL    = "https://api.deepgram.com"
	speakEndpoint     = "/v1/speak"
	defaultVoice      = "aura-2-thalia-en"
	defaultSampleRate = 16000
	defaultTimeout    = 30 * time.Second

	// pcmChunkSize is the size of each PCM chunk emitted on the audio
	// channel: 100 ms of 16-bit mono audio at 16 kHz.
	pcmChunkSize = 3200

	// audioChanBuf is the buffer depth of the returned audio channel.
	audioChanBuf = 64
)

// Option is a functional option for configuring a Deepgram TTS Provider.
type Option func(*Provider)

// WithVoice sets the default Aura voice model (e.g., "aura-2-thalia-en").
func WithVoice(voice string) Option {
	return func(p *Provider) {
		p.voice = voice
	}
}

// WithBaseURL overrides the Deepgram API base URL. Useful for tests.
func WithBaseURL(baseURL string) Option {
	return func(p *Provider) {
		p.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// Provider implements tts.Provider backed by the Deepgram speak API.
// It is safe for concurrent use; multiple Synthesize calls may run in
// parallel.
type Provider struct {
	apiKey     string
	baseURL    string
	voice      string
	sampleRate int
	httpClient *http.Client
}

// New creates a new Deepgram TTS Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram tts: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		voice:      defaultVoice,
		sampleRate: defaultSampleRate,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// speakRequest is the JSON body sent to POST /v1/speak.
type speakRequest struct {
	Text string `json:"text"`
}

// Synthesize implements tts.Provider. It issues one speak request and streams
// the PCM response body onto the returned channel in pcmChunkSize pieces.
func (p *Provider) Synthesize(ctx context.Context, text string, voice string) (<-chan []byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("deepgram tts: text must not be empty")
	}
	if voice == "" {
		voice = p.voice
	}

	body, err := json.Marshal(speakRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("deepgram tts: marshal request: %w", err)
	}

	q := url.Values{}
	q.Set("model", voice)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(p.sampleRate))
	q.Set("container", "none")

	reqURL := p.baseURL + speakEndpoint + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("deepgram tts: create request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("deepgram tts: POST %s: %w", speakEndpoint, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("deepgram tts: POST %s returned status %d", speakEndpoint, resp.StatusCode)
	}

	audioCh := make(chan []byte, audioChanBuf)

	go func() {
		defer close(audioCh)
		defer resp.Body.Close()

		buf := make([]byte, pcmChunkSize)
		filled := 0
		for {
			n, err := resp.Body.Read(buf[filled:])
			filled += n
			if filled == len(buf) || (err != nil && filled > 0) {
				chunk := make([]byte, filled)
				copy(chunk, buf[:filled])
				filled = 0
				select {
				case audioCh <- chunk:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				// io.EOF ends the stream normally; any other error closes
				// the channel early and aborts the current utterance.
				return
			}
		}
	}()

	return audioCh, nil
}

// SampleRate implements tts.Provider.
func (p *Provider) SampleRate() int {
	return p.sampleRate
}
