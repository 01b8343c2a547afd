// Package deepgram provides a Deepgram-backed STT provider using the Deepgram
// streaming WebSocket API. It implements the stt.Provider interface.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/coder/websocket"

	"github.com/voxrelay/voxrelay/pkg/provider/stt"
	"github.com/voxrelay/voxrelay/pkg/types"
)

const (
	deepgramEndpoint     = "wss://api.deepgram.com/v1/listen"
	defaultModel         = "nova-2"
	defaultFallbackModel = "nova-2-general"
	defaultLanguage      = "en-US"
	defaultSampleRate    = 8000
)

// Compile-time interface assertions.
var (
	_ stt.Provider = (*Provider)(nil)
	_ stt.Session  = (*session)(nil)
)

var (
	errSessionClosed = errors.New("deepgram: session is closed")
	errStreamFailed  = errors.New("deepgram: stream socket failed")
)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-2").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithFallbackModel sets the model retried when the primary model is rejected
// at stream establishment. An empty string disables the retry.
func WithFallbackModel(model string) Option {
	return func(p *Provider) {
		p.fallbackModel = model
	}
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en-US").
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithSampleRate sets the provider-level default audio sample rate in Hz.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		p.sampleRate = rate
	}
}

// Provider implements stt.Provider backed by the Deepgram streaming API.
type Provider struct {
	apiKey        string
	model         string
	fallbackModel string
	language      string
	sampleRate    int
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:        apiKey,
		model:         defaultModel,
		fallbackModel: defaultFallbackModel,
		language:      defaultLanguage,
		sampleRate:    defaultSampleRate,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream opens a streaming transcription session with Deepgram. When the
// dial with the configured model fails and a fallback model is set, the dial
// is retried once with the fallback before giving up.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.Session, error) {
	conn, err := p.dial(ctx, p.model, cfg)
	if err != nil && p.fallbackModel != "" && p.fallbackModel != p.model {
		slog.Warn("deepgram: primary model dial failed, retrying with fallback",
			"model", p.model, "fallback", p.fallbackModel, "error", err)
		conn, err = p.dial(ctx, p.fallbackModel, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}

	sess := &session{
		conn:   conn,
		events: make(chan stt.Event, 64),
		audio:  make(chan []byte, 256),
		done:   make(chan struct{}),
		failed: make(chan struct{}),
	}

	sess.wg.Add(2)
	go sess.readLoop(ctx)
	go sess.writeLoop(ctx)

	return sess, nil
}

// dial connects to the Deepgram streaming endpoint with the given model.
func (p *Provider) dial(ctx context.Context, model string, cfg stt.StreamConfig) (*websocket.Conn, error) {
	wsURL, err := p.buildURL(model, cfg)
	if err != nil {
		return nil, fmt.Errorf("build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	return conn, err
}

// buildURL constructs the Deepgram streaming endpoint URL for the given config.
func (p *Provider) buildURL(model string, cfg stt.StreamConfig) (string, error) {
	u, err := url.Parse(deepgramEndpoint)
	if err != nil {
		return "", err
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	sr := cfg.SampleRate
	if sr == 0 {
		sr = p.sampleRate
	}

	q := u.Query()
	q.Set("model", model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	q.Set("sample_rate", strconv.Itoa(sr))
	if cfg.Encoding != "" {
		q.Set("encoding", cfg.Encoding)
	}
	if cfg.Channels > 0 {
		q.Set("channels", strconv.Itoa(cfg.Channels))
	}
	if cfg.InterimResults {
		q.Set("interim_results", "true")
	}
	if cfg.VADEvents {
		q.Set("vad_events", "true")
	}
	if cfg.EndpointingMs > 0 {
		q.Set("endpointing", strconv.Itoa(cfg.EndpointingMs))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- session ----

// deepgramResponse is the JSON structure returned by Deepgram over the
// streaming socket. Type discriminates Results / SpeechStarted / UtteranceEnd.
type deepgramResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// socketConn is the subset of [*websocket.Conn] the session uses. Narrowed so
// tests can stand in a broken socket.
type socketConn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// session is a live Deepgram streaming session. It implements stt.Session.
type session struct {
	conn   socketConn
	events chan stt.Event
	audio  chan []byte

	done     chan struct{}
	failed   chan struct{}
	failOnce sync.Once
	once     sync.Once
	wg       sync.WaitGroup
}

// fail marks the socket dead so SendAudio stops accepting frames instead of
// backing up behind a buffer nobody drains.
func (s *session) fail() {
	s.failOnce.Do(func() { close(s.failed) })
}

// SendAudio queues an audio chunk for delivery to Deepgram. Once the socket
// has failed mid-call it returns an error without blocking; the caller logs
// and drops the frame while the rest of the call pipeline keeps running.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errSessionClosed
	case <-s.failed:
		return errStreamFailed
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.failed:
		return errStreamFailed
	case <-s.done:
		return errSessionClosed
	}
}

// Events returns the session's ordered event stream.
func (s *session) Events() <-chan stt.Event { return s.events }

// Close terminates the session cleanly.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		// Send a close message to Deepgram to flush pending audio.
		_ = s.conn.Write(context.Background(), websocket.MessageText, []byte(`{"type":"CloseStream"}`))
		s.wg.Wait()
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}

// writeLoop reads from the audio channel and sends binary messages to
// Deepgram. A write error latches the failure channel and stops the loop.
func (s *session) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case chunk, ok := <-s.audio:
			if !ok {
				return
			}
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				s.fail()
				return
			}
		case <-s.done:
			// Drain the audio channel before exiting.
			for {
				select {
				case chunk, ok := <-s.audio:
					if !ok {
						return
					}
					_ = s.conn.Write(ctx, websocket.MessageBinary, chunk)
				default:
					return
				}
			}
		}
	}
}

// readLoop receives JSON messages from Deepgram and dispatches them to the
// event channel. It emits a final EventClosed before closing the channel.
func (s *session) readLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.events)

	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			closeEvt := stt.Event{Kind: stt.EventClosed}
			select {
			case <-s.done:
				// Normal close — no error to report.
			default:
				s.fail()
				closeEvt.Err = err
			}
			select {
			case s.events <- closeEvt:
			default:
			}
			return
		}

		evt, ok := parseDeepgramMessage(msg)
		if !ok {
			continue
		}

		select {
		case s.events <- evt:
		case <-s.done:
		}
	}
}

// parseDeepgramMessage parses a raw Deepgram WebSocket message into an Event.
// Returns (Event, true) on success, or (zero, false) if the message should be
// ignored.
func parseDeepgramMessage(data []byte) (stt.Event, bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return stt.Event{}, false
	}

	switch resp.Type {
	case "SpeechStarted":
		return stt.Event{Kind: stt.EventSpeechStarted}, true
	case "UtteranceEnd":
		return stt.Event{Kind: stt.EventUtteranceEnd}, true
	case "Results":
		if len(resp.Channel.Alternatives) == 0 {
			return stt.Event{}, false
		}
		alt := resp.Channel.Alternatives[0]
		return stt.Event{
			Kind: stt.EventTranscript,
			Transcript: types.Transcript{
				Text:       alt.Transcript,
				IsFinal:    resp.IsFinal,
				Confidence: alt.Confidence,
			},
		}, true
	default:
		return stt.Event{}, false
	}
}
