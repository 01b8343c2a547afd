// Package types defines the shared types used across all VoxRelay packages.
//
// These types form the lingua franca between providers, the call pipeline,
// the store, and the HTTP surface. They are intentionally minimal — each
// package defines its own domain types, but cross-cutting data structures
// live here to avoid circular imports.
package types

import "time"

// Transcript represents a speech-to-text result from an ASR provider.
// Both partial (interim) and final transcripts use this type.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// IsFinal indicates whether this is a final (authoritative) or partial
	// (interim) transcript.
	IsFinal bool

	// Confidence is the overall confidence score (0.0–1.0). May be zero if
	// the provider does not report confidence.
	Confidence float64
}

// CallPhase tracks how far a call has progressed. Phases advance
// monotonically with the turn count and feed the prompt's call-context block.
type CallPhase string

const (
	PhaseCallStart CallPhase = "CALL_START"
	PhaseDiscovery CallPhase = "DISCOVERY"
	PhaseActive    CallPhase = "ACTIVE"
)

// Intent is the coarse classification of a committed user utterance.
type Intent string

const (
	IntentQuestion Intent = "QUESTION"
	IntentGoodbye  Intent = "GOODBYE"
)

// Turn is one completed exchange: the user's utterance and the agent's
// response to it.
type Turn struct {
	User      string
	Assistant string
	Timestamp time.Time
}

// AgentConfig is the per-agent behavior profile. It is loaded once when a
// call starts and is immutable for the call's lifetime.
type AgentConfig struct {
	// ID is the agent's unique identifier.
	ID string

	// Name is the human-readable agent name.
	Name string

	// SystemPrompt is the instruction block prepended to every LLM prompt.
	SystemPrompt string

	// Greeting is spoken when the call connects. Placeholders of the form
	// {{name}} are substituted from the call's dynamic variables.
	Greeting string

	// Voice is the TTS voice identifier. Empty selects the process default.
	Voice string

	// LLMModel overrides the configured generation model when non-empty.
	LLMModel string

	// Language is the BCP-47 tag passed to the ASR (e.g. "en-US").
	Language string

	// SilenceThresholdSec is the silence window, in seconds, after which a
	// final transcript commits a turn. Zero selects the process default.
	SilenceThresholdSec float64

	// InterruptEnabled gates the barge-in detector for this agent's calls.
	InterruptEnabled bool

	// Metadata carries free-form key/value annotations.
	Metadata map[string]string
}

// CallContext identifies a live call and its conversational position. It is
// handed to tools, webhooks, and the prompt composer.
type CallContext struct {
	CallID           string            `json:"call_id"`
	AgentID          string            `json:"agent_id"`
	PhoneNumber      string            `json:"phone_number,omitempty"`
	Phase            CallPhase         `json:"phase"`
	LastIntent       Intent            `json:"last_intent,omitempty"`
	DynamicVariables map[string]string `json:"dynamic_variables,omitempty"`
}
