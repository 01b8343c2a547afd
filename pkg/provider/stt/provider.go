// Package stt defines the Provider interface for streaming speech-to-text
// backends.
//
// An STT provider wraps a real-time transcription service (e.g., Deepgram)
// and exposes a uniform streaming interface. The central abstraction is
// Session: once opened, a session accepts raw audio chunks and emits a single
// ordered stream of Event values — interim and final transcripts plus the
// provider's voice-activity signals (speech started, utterance end).
//
// Exactly one goroutine should consume Events; all call-state mutations
// derived from the event stream happen on that reader. Implementations must
// be safe for concurrent use.
package stt

import (
	"context"

	"github.com/voxrelay/voxrelay/pkg/types"
)

// EventKind discriminates the variants of an [Event].
type EventKind int

const (
	// EventTranscript carries an interim or final transcript.
	EventTranscript EventKind = iota

	// EventSpeechStarted signals that the provider's VAD detected the start
	// of speech.
	EventSpeechStarted

	// EventUtteranceEnd signals that the provider's endpointing decided the
	// current utterance is over.
	EventUtteranceEnd

	// EventClosed is the last event on the stream. Err is non-nil when the
	// session ended abnormally.
	EventClosed
)

// Event is one element of a session's ordered event stream.
type Event struct {
	Kind EventKind

	// Transcript is populated when Kind is EventTranscript.
	Transcript types.Transcript

	// Err is populated when Kind is EventClosed and the session ended with a
	// transport or provider error. A clean close carries a nil Err.
	Err error
}

// StreamConfig describes the audio format and recognition behaviour for a new
// STT session. All fields must be compatible with what the underlying provider
// supports.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz (8000 for telephony μ-law).
	SampleRate int

	// Encoding names the wire codec of the audio chunks (e.g., "mulaw",
	// "linear16"). An empty string lets the provider assume its default.
	Encoding string

	// Channels is the number of audio channels. 1 = mono.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "en-US").
	// An empty string uses the provider default.
	Language string

	// InterimResults requests low-latency partial transcripts in addition to
	// finals.
	InterimResults bool

	// VADEvents requests speech-started notifications from the provider.
	VADEvents bool

	// EndpointingMs is the provider-side silence window, in milliseconds,
	// after which an utterance-end event is emitted. Zero uses the provider
	// default.
	EndpointingMs int
}

// Session represents an open STT streaming session.
//
// Callers must call Close when the session is no longer needed; failing to do
// so may leak goroutines and network connections inside the provider
// implementation. All methods are safe for concurrent use, but the Events
// channel is intended for a single consumer.
type Session interface {
	// SendAudio delivers a chunk of raw audio bytes to the provider for
	// transcription. The chunk must match the Encoding and SampleRate agreed
	// in StreamConfig. Calling SendAudio after Close returns an error.
	SendAudio(chunk []byte) error

	// Events returns the session's ordered event stream. The channel is
	// closed after an EventClosed is delivered.
	Events() <-chan Event

	// Close terminates the session, flushes any pending audio, and releases
	// all associated resources. Calling Close more than once is safe and
	// returns nil.
	Close() error
}

// Provider is the abstraction over any streaming STT backend.
//
// Implementations must be safe for concurrent use. Multiple sessions may be
// open simultaneously (one per live call).
type Provider interface {
	// StartStream opens a new streaming transcription session with the given
	// audio format and recognition configuration. The returned Session is
	// ready to accept audio immediately.
	//
	// Returns an error if the provider cannot establish the session (e.g.,
	// authentication failure, unsupported configuration, or ctx already
	// cancelled). The caller owns the Session and must call Close when done.
	StartStream(ctx context.Context, cfg StreamConfig) (Session, error)
}
