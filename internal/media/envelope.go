// Package media implements the telephony media-stream gateway: the
// bidirectional WebSocket carrying framed JSON events with base64 μ-law
// audio. It bridges the carrier's stream into the per-call pipeline — STT
// feed, barge-in analysis, turn arbitration — and carries synthesized frames
// back out.
package media

// Gateway event names, shared by ingress and egress.
const (
	eventConnected = "connected"
	eventStart     = "start"
	eventMedia     = "media"
	eventMark      = "mark"
	eventStop      = "stop"
	eventClear     = "clear"
	eventHeartbeat = "heartbeat"
)

// envelope is one framed JSON message on the media WebSocket. Which payload
// field is populated depends on Event.
type envelope struct {
	Event     string        `json:"event"`
	StreamSID string        `json:"streamSid,omitempty"`
	Start     *startPayload `json:"start,omitempty"`
	Media     *mediaPayload `json:"media,omitempty"`
	Mark      *markPayload  `json:"mark,omitempty"`
}

// startPayload announces a new media stream and carries the call identity.
type startPayload struct {
	StreamSID        string            `json:"streamSid"`
	CallSID          string            `json:"callSid"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

// mediaPayload carries one base64-encoded μ-law audio frame.
type mediaPayload struct {
	Payload string `json:"payload"`
}

// markPayload acknowledges a previously sent mark.
type markPayload struct {
	Name string `json:"name"`
}
