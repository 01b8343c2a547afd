// Package webhook delivers fire-and-forget event notifications to
// subscribed external endpoints.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/voxrelay/voxrelay/internal/store"
)

// Event names a notifiable moment in a call's life.
type Event string

const (
	EventCallStarted     Event = "call.started"
	EventCallEnded       Event = "call.ended"
	EventCallTransferred Event = "call.transferred"
	EventToolCalled      Event = "tool.called"
	EventTranscriptFinal Event = "transcript.final"
)

// Events lists every known event name. Subscriptions with an empty event
// list receive all of them.
var Events = []Event{
	EventCallStarted,
	EventCallEnded,
	EventCallTransferred,
	EventToolCalled,
	EventTranscriptFinal,
}

// ValidEvent reports whether name is a known event.
func ValidEvent(name string) bool {
	for _, e := range Events {
		if string(e) == name {
			return true
		}
	}
	return false
}

// deliveryTimeout bounds one notification POST.
const deliveryTimeout = 10 * time.Second

// Subscriptions is the slice of [store.Store] the notifier needs.
type Subscriptions interface {
	ListWebhooks(ctx context.Context, agentID string) ([]store.WebhookConfig, error)
}

// payload is the JSON body delivered to subscribers.
type payload struct {
	Event     Event          `json:"event"`
	CallID    string         `json:"call_id"`
	AgentID   string         `json:"agent_id"`
	Timestamp string         `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Notifier posts call events to matching subscribers. Deliveries run in the
// background and never block or fail the call pipeline; failures are logged
// and dropped. Safe for concurrent use.
type Notifier struct {
	subs   Subscriptions
	client *http.Client
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NotifierOption configures a [Notifier].
type NotifierOption func(*Notifier)

// WithHTTPClient overrides the delivery HTTP client.
func WithHTTPClient(c *http.Client) NotifierOption {
	return func(n *Notifier) { n.client = c }
}

// WithLogger overrides the notifier's logger.
func WithLogger(l *slog.Logger) NotifierOption {
	return func(n *Notifier) { n.logger = l }
}

// NewNotifier creates a Notifier reading subscriptions from subs.
func NewNotifier(subs Subscriptions, opts ...NotifierOption) *Notifier {
	n := &Notifier{
		subs:   subs,
		client: &http.Client{Timeout: deliveryTimeout},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Notify delivers event to every enabled subscription scoped to agentID (or
// globally) whose event list includes it. Delivery happens on background
// goroutines; Notify itself only performs the subscription lookup.
func (n *Notifier) Notify(ctx context.Context, event Event, callID, agentID string, data map[string]any) {
	hooks, err := n.subs.ListWebhooks(ctx, agentID)
	if err != nil {
		n.logger.Error("webhook: list subscriptions", "event", event, "error", err)
		return
	}

	body := payload{
		Event:     event,
		CallID:    callID,
		AgentID:   agentID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      data,
	}

	for _, hook := range hooks {
		if !subscribed(hook, event) {
			continue
		}
		n.wg.Add(1)
		go func(url string) {
			defer n.wg.Done()
			n.deliver(url, body)
		}(hook.URL)
	}
}

// Wait blocks until all in-flight deliveries finish. Called on shutdown.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

// deliver POSTs one notification. Failures are logged, never returned.
func (n *Notifier) deliver(url string, body payload) {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		n.logger.Error("webhook: invalid url", "url", url)
		return
	}

	raw, err := json.Marshal(body)
	if err != nil {
		n.logger.Error("webhook: marshal payload", "event", body.Event, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		n.logger.Error("webhook: build request", "url", url, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Error("webhook: delivery failed", "event", body.Event, "url", url, "error", err)
		return
	}
	resp.Body.Close()

	n.logger.Info("webhook: delivered", "event", body.Event, "url", url, "status", resp.StatusCode)
}

// subscribed reports whether hook wants event. An empty event list means
// everything.
func subscribed(hook store.WebhookConfig, event Event) bool {
	if len(hook.Events) == 0 {
		return true
	}
	for _, e := range hook.Events {
		if e == string(event) {
			return true
		}
	}
	return false
}
