package store

import (
	"strings"

	"github.com/google/uuid"
)

// newID returns a prefixed random identifier such as "agent_3f2a9c1e04b7d655".
// The 16 hex characters (64 bits) keep ids short enough for logs and URLs
// while leaving collisions out of practical reach.
func newID(prefix string) string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return prefix + "_" + hex[:16]
}

// NewAgentID returns a fresh agent identifier.
func NewAgentID() string { return newID("agent") }

// NewConversationID returns a fresh conversation identifier.
func NewConversationID() string { return newID("conv") }

// NewDocumentID returns a fresh knowledge-base document identifier.
func NewDocumentID() string { return newID("doc") }

// NewPhoneID returns a fresh phone number binding identifier.
func NewPhoneID() string { return newID("phone") }

// NewWebhookID returns a fresh webhook subscription identifier.
func NewWebhookID() string { return newID("wh") }

// NewToolID returns a fresh agent tool identifier.
func NewToolID() string { return newID("tool") }
