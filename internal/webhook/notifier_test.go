package webhook_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/voxrelay/voxrelay/internal/store"
	"github.com/voxrelay/voxrelay/internal/webhook"
)

// fakeSubs serves a fixed subscription list.
type fakeSubs struct {
	hooks []store.WebhookConfig
	err   error
}

func (f *fakeSubs) ListWebhooks(_ context.Context, _ string) ([]store.WebhookConfig, error) {
	return f.hooks, f.err
}

// capture records webhook deliveries arriving at a test server.
type capture struct {
	mu     sync.Mutex
	bodies []map[string]any
}

func (c *capture) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		c.mu.Lock()
		c.bodies = append(c.bodies, body)
		c.mu.Unlock()
	}
}

func (c *capture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.bodies)
}

func TestNotify_DeliversToSubscribers(t *testing.T) {
	t.Parallel()

	cap := &capture{}
	ts := httptest.NewServer(cap.handler())
	defer ts.Close()

	subs := &fakeSubs{hooks: []store.WebhookConfig{
		{ID: "wh_1", URL: ts.URL, Events: []string{"call.started", "call.ended"}},
	}}
	n := webhook.NewNotifier(subs)

	n.Notify(context.Background(), webhook.EventCallStarted, "CA123", "agent_a1",
		map[string]any{"phone_number": "+15550001111"})
	n.Wait()

	if cap.count() != 1 {
		t.Fatalf("deliveries = %d, want 1", cap.count())
	}
	body := cap.bodies[0]
	if body["event"] != "call.started" {
		t.Errorf("event = %v", body["event"])
	}
	if body["call_id"] != "CA123" || body["agent_id"] != "agent_a1" {
		t.Errorf("ids = %v / %v", body["call_id"], body["agent_id"])
	}
	if _, ok := body["timestamp"]; !ok {
		t.Error("missing timestamp")
	}
	data, _ := body["data"].(map[string]any)
	if data["phone_number"] != "+15550001111" {
		t.Errorf("data = %v", body["data"])
	}
}

func TestNotify_FiltersByEvent(t *testing.T) {
	t.Parallel()

	cap := &capture{}
	ts := httptest.NewServer(cap.handler())
	defer ts.Close()

	subs := &fakeSubs{hooks: []store.WebhookConfig{
		{ID: "wh_1", URL: ts.URL, Events: []string{"tool.called"}},
	}}
	n := webhook.NewNotifier(subs)

	n.Notify(context.Background(), webhook.EventCallEnded, "CA123", "agent_a1", nil)
	n.Wait()

	if cap.count() != 0 {
		t.Errorf("deliveries = %d, want 0 for unsubscribed event", cap.count())
	}
}

func TestNotify_EmptyEventListMeansAll(t *testing.T) {
	t.Parallel()

	cap := &capture{}
	ts := httptest.NewServer(cap.handler())
	defer ts.Close()

	subs := &fakeSubs{hooks: []store.WebhookConfig{{ID: "wh_1", URL: ts.URL}}}
	n := webhook.NewNotifier(subs)

	n.Notify(context.Background(), webhook.EventTranscriptFinal, "CA123", "agent_a1", nil)
	n.Wait()

	if cap.count() != 1 {
		t.Errorf("deliveries = %d, want 1", cap.count())
	}
}

func TestNotify_SubscriptionLookupFailure(t *testing.T) {
	t.Parallel()

	n := webhook.NewNotifier(&fakeSubs{err: errors.New("db down")})
	// Must not panic or block.
	n.Notify(context.Background(), webhook.EventCallStarted, "CA123", "agent_a1", nil)
	n.Wait()
}

func TestNotify_InvalidURLSkipped(t *testing.T) {
	t.Parallel()

	subs := &fakeSubs{hooks: []store.WebhookConfig{{ID: "wh_1", URL: "ftp://nope"}}}
	n := webhook.NewNotifier(subs)
	n.Notify(context.Background(), webhook.EventCallStarted, "CA123", "agent_a1", nil)
	n.Wait()
}

func TestValidEvent(t *testing.T) {
	t.Parallel()

	for _, e := range webhook.Events {
		if !webhook.ValidEvent(string(e)) {
			t.Errorf("ValidEvent(%q) = false", e)
		}
	}
	if webhook.ValidEvent("call.exploded") {
		t.Error("ValidEvent accepted unknown event")
	}
}
