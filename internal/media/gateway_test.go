package media

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/voxrelay/voxrelay/internal/call"
	"github.com/voxrelay/voxrelay/internal/store"
	"github.com/voxrelay/voxrelay/internal/tool"
	"github.com/voxrelay/voxrelay/internal/webhook"
	"github.com/voxrelay/voxrelay/pkg/provider/llm"
	llmmock "github.com/voxrelay/voxrelay/pkg/provider/llm/mock"
	"github.com/voxrelay/voxrelay/pkg/provider/stt"
	sttmock "github.com/voxrelay/voxrelay/pkg/provider/stt/mock"
	ttsmock "github.com/voxrelay/voxrelay/pkg/provider/tts/mock"
	telmock "github.com/voxrelay/voxrelay/pkg/telephony/mock"
	"github.com/voxrelay/voxrelay/pkg/types"
)

// --- fakes ---

type completedCall struct {
	id         string
	transcript string
	reason     string
	duration   float64
}

type fakeStore struct {
	mu        sync.Mutex
	agents    map[string]types.AgentConfig
	convs     map[string]store.Conversation
	created   []store.Conversation
	started   []string
	completed []completedCall
}

func newFakeStore(agents ...types.AgentConfig) *fakeStore {
	s := &fakeStore{
		agents: make(map[string]types.AgentConfig),
		convs:  make(map[string]store.Conversation),
	}
	for _, a := range agents {
		s.agents[a.ID] = a
	}
	return s
}

func (s *fakeStore) GetAgent(_ context.Context, id string) (types.AgentConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok {
		return types.AgentConfig{}, fmt.Errorf("agent %q: %w", id, store.ErrNotFound)
	}
	return a, nil
}

func (s *fakeStore) GetConversation(_ context.Context, id string) (store.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[id]
	if !ok {
		return store.Conversation{}, fmt.Errorf("conversation %q: %w", id, store.ErrNotFound)
	}
	return c, nil
}

func (s *fakeStore) CreateConversation(_ context.Context, c store.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convs[c.ID] = c
	s.created = append(s.created, c)
	return nil
}

func (s *fakeStore) MarkConversationStarted(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = append(s.started, id)
	return nil
}

func (s *fakeStore) CompleteConversation(_ context.Context, id, transcript string, durationSecs float64, endedReason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = append(s.completed, completedCall{
		id: id, transcript: transcript, reason: endedReason, duration: durationSecs,
	})
	return nil
}

func (s *fakeStore) completedCalls() []completedCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]completedCall, len(s.completed))
	copy(out, s.completed)
	return out
}

func (s *fakeStore) createdCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.created)
}

type notified struct {
	event webhook.Event
	data  map[string]any
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []notified
}

func (n *fakeNotifier) Notify(_ context.Context, event webhook.Event, _, _ string, data map[string]any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, notified{event: event, data: data})
}

func (n *fakeNotifier) saw(event webhook.Event) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, e := range n.events {
		if e.event == event {
			return true
		}
	}
	return false
}

func (n *fakeNotifier) dataFor(event webhook.Event) map[string]any {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, e := range n.events {
		if e.event == event {
			return e.data
		}
	}
	return nil
}

type stubDirectory struct{}

func (stubDirectory) GetAgentTool(context.Context, string, string) (store.AgentTool, error) {
	return store.AgentTool{}, store.ErrNotFound
}

// --- harness ---

type harness struct {
	gw       *Gateway
	store    *fakeStore
	sttSess  *sttmock.Session
	sttProv  *sttmock.Provider
	tts      *ttsmock.Provider
	llm      *llmmock.Provider
	notifier *fakeNotifier
	manager  *call.Manager
	srv      *httptest.Server
}

func testAgent() types.AgentConfig {
	return types.AgentConfig{
		ID:                  "agent_a1",
		Name:                "Mila",
		SystemPrompt:        "You are Mila, a helpful receptionist.",
		Greeting:            "Hello {{name}}, this is Mila.",
		Language:            "en-US",
		SilenceThresholdSec: 0.05,
		InterruptEnabled:    true,
	}
}

func newHarness(t *testing.T, agent types.AgentConfig, llmChunks []llm.Chunk) *harness {
	t.Helper()

	h := &harness{
		sttSess:  &sttmock.Session{EventsCh: make(chan stt.Event, 16)},
		tts:      &ttsmock.Provider{},
		llm:      &llmmock.Provider{Chunks: llmChunks},
		notifier: &fakeNotifier{},
		store:    newFakeStore(agent),
		manager:  call.NewManager(),
	}
	h.sttProv = &sttmock.Provider{Session: h.sttSess}

	executor := tool.NewExecutor(&telmock.Controller{}, stubDirectory{},
		map[string]string{"sales": "+15550001001"},
		tool.WithGracePeriods(0, 0),
	)
	pipe := Pipeline{
		Manager:  h.manager,
		Arbiter:  call.NewArbiter(call.ArbiterConfig{}),
		Detector: call.NewDetector(call.DetectorConfig{Enabled: true}),
		Sink:     call.NewSink(h.tts, "aura-2-thalia-en"),
		Runtime:  call.NewRuntime(h.llm, nil, executor, h.notifier),
	}
	h.gw = NewGateway(h.store, h.sttProv, pipe, WithGatewayNotifier(h.notifier))

	h.srv = httptest.NewServer(h.gw)
	t.Cleanup(h.srv.Close)
	t.Cleanup(h.manager.Shutdown)
	return h
}

func (h *harness) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(h.srv.URL, "http")
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial media socket: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func sendEvent(t *testing.T, conn *websocket.Conn, env envelope) {
	t.Helper()
	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal %s event: %v", env.Event, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, raw); err != nil {
		t.Fatalf("write %s event: %v", env.Event, err)
	}
}

func startEvent(callSID, streamSID string, params map[string]string) envelope {
	return envelope{
		Event:     eventStart,
		StreamSID: streamSID,
		Start: &startPayload{
			StreamSID:        streamSID,
			CallSID:          callSID,
			CustomParameters: params,
		},
	}
}

func silenceFrame() []byte {
	return bytes.Repeat([]byte{0xFF}, 160)
}

func mediaEvent(frame []byte) envelope {
	return envelope{
		Event: eventMedia,
		Media: &mediaPayload{Payload: base64.StdEncoding.EncodeToString(frame)},
	}
}

// readUntil consumes events until one with the wanted name arrives.
func readUntil(t *testing.T, conn *websocket.Conn, event string) envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		_, raw, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("waiting for %s event: %v", event, err)
		}
		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("unmarshal server event: %v", err)
		}
		if env.Event == event {
			return env
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// --- tests ---

func TestGateway_StartSpeaksGreeting(t *testing.T) {
	h := newHarness(t, testAgent(), nil)
	conn := h.dial(t)

	sendEvent(t, conn, envelope{Event: eventConnected})
	sendEvent(t, conn, startEvent("CA1", "MZ1", map[string]string{
		"agent_id": "agent_a1",
		"name":     "Ada",
	}))

	env := readUntil(t, conn, eventMedia)
	if env.StreamSID != "MZ1" {
		t.Errorf("media stream sid = %q, want MZ1", env.StreamSID)
	}
	frame, err := base64.StdEncoding.DecodeString(env.Media.Payload)
	if err != nil {
		t.Fatalf("decode media payload: %v", err)
	}
	if len(frame) != 160 {
		t.Errorf("frame length = %d, want 160", len(frame))
	}

	waitFor(t, "greeting synthesis", func() bool { return h.tts.CallCount() == 1 })
	if got := h.tts.Texts()[0]; got != "Hello Ada, this is Mila." {
		t.Errorf("greeting = %q", got)
	}

	waitFor(t, "call.started webhook", func() bool { return h.notifier.saw(webhook.EventCallStarted) })

	h.store.mu.Lock()
	created, started := len(h.store.created), len(h.store.started)
	h.store.mu.Unlock()
	if created != 1 {
		t.Errorf("created conversations = %d, want 1", created)
	}
	if started != 1 {
		t.Errorf("conversations marked started = %d, want 1", started)
	}

	cfg := h.sttProv.LastConfig()
	want := stt.StreamConfig{
		SampleRate:     8000,
		Encoding:       "mulaw",
		Channels:       1,
		Language:       "en-US",
		InterimResults: true,
		VADEvents:      true,
		EndpointingMs:  50,
	}
	if cfg != want {
		t.Errorf("stt stream config = %+v, want %+v", cfg, want)
	}
}

func TestGateway_MediaFedToSTT(t *testing.T) {
	h := newHarness(t, testAgent(), nil)
	conn := h.dial(t)

	sendEvent(t, conn, startEvent("CA1", "MZ1", map[string]string{"agent_id": "agent_a1"}))
	readUntil(t, conn, eventMedia) // greeting out of the way

	frame := silenceFrame()
	sendEvent(t, conn, mediaEvent(frame))

	waitFor(t, "frame forwarded to stt", func() bool { return h.sttSess.SendAudioCallCount() == 1 })
	got := h.sttSess.SentAudio()[0]
	if !bytes.Equal(got, frame) {
		t.Error("forwarded frame does not match sent audio")
	}
}

func TestGateway_FullTurn(t *testing.T) {
	h := newHarness(t, testAgent(), []llm.Chunk{
		{Text: "We open at nine."},
		{FinishReason: "stop"},
	})
	conn := h.dial(t)

	sendEvent(t, conn, startEvent("CA1", "MZ1", map[string]string{"agent_id": "agent_a1"}))
	readUntil(t, conn, eventMedia)

	h.sttSess.EventsCh <- stt.Event{
		Kind:       stt.EventTranscript,
		Transcript: types.Transcript{Text: "what are your opening hours", IsFinal: true},
	}

	// Silence frames carry the clock past the agent's threshold and drive the
	// arbiter's commit check.
	deadline := time.Now().Add(5 * time.Second)
	for h.tts.CallCount() < 2 && time.Now().Before(deadline) {
		sendEvent(t, conn, mediaEvent(silenceFrame()))
		time.Sleep(20 * time.Millisecond)
	}
	if h.tts.CallCount() < 2 {
		t.Fatal("response was never synthesized")
	}
	if got := h.tts.Texts()[1]; got != "We open at nine." {
		t.Errorf("spoken response = %q", got)
	}
	if prompt := h.llm.LastPrompt(); !strings.Contains(prompt, "what are your opening hours") {
		t.Errorf("prompt missing utterance:\n%s", prompt)
	}

	waitFor(t, "transcript.final webhook", func() bool { return h.notifier.saw(webhook.EventTranscriptFinal) })

	sendEvent(t, conn, envelope{Event: eventStop, StreamSID: "MZ1"})
	waitFor(t, "conversation completed", func() bool { return len(h.store.completedCalls()) == 1 })

	done := h.store.completedCalls()[0]
	if done.id != "CA1" {
		t.Errorf("completed id = %q", done.id)
	}
	if done.reason != "completed" {
		t.Errorf("ended reason = %q, want completed", done.reason)
	}
	if !strings.Contains(done.transcript, "User: what are your opening hours") ||
		!strings.Contains(done.transcript, "Assistant: We open at nine.") {
		t.Errorf("transcript missing turn:\n%s", done.transcript)
	}

	waitFor(t, "call.ended webhook", func() bool { return h.notifier.saw(webhook.EventCallEnded) })
	waitFor(t, "session destroyed", func() bool { return h.manager.Len() == 0 })
}

func TestGateway_DisconnectRecordsDisconnect(t *testing.T) {
	h := newHarness(t, testAgent(), nil)
	conn := h.dial(t)

	sendEvent(t, conn, startEvent("CA1", "MZ1", map[string]string{"agent_id": "agent_a1"}))
	readUntil(t, conn, eventMedia)

	conn.CloseNow()

	waitFor(t, "conversation completed", func() bool { return len(h.store.completedCalls()) == 1 })
	if got := h.store.completedCalls()[0].reason; got != "disconnect" {
		t.Errorf("ended reason = %q, want disconnect", got)
	}
	waitFor(t, "session destroyed", func() bool { return h.manager.Len() == 0 })
	if h.sttSess.CloseCount() == 0 {
		t.Error("stt session was not closed")
	}
}

func TestGateway_RejectsUnknownCallWithoutAgent(t *testing.T) {
	h := newHarness(t, testAgent(), nil)
	conn := h.dial(t)

	sendEvent(t, conn, startEvent("CA404", "MZ1", nil))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, _, err := conn.Read(ctx); err == nil {
		t.Fatal("expected the server to close the connection")
	}
	if h.manager.Len() != 0 {
		t.Errorf("live sessions = %d, want 0", h.manager.Len())
	}
	if h.store.createdCount() != 0 {
		t.Error("conversation was created for a rejected stream")
	}
}

func TestGateway_ExistingConversationResolvesAgent(t *testing.T) {
	h := newHarness(t, testAgent(), nil)
	h.store.convs["CA9"] = store.Conversation{
		ID:               "CA9",
		AgentID:          "agent_a1",
		PhoneNumber:      "+15550009999",
		Direction:        store.DirectionOutbound,
		DynamicVariables: map[string]string{"name": "Bo"},
	}

	conn := h.dial(t)
	sendEvent(t, conn, startEvent("CA9", "MZ9", nil))
	readUntil(t, conn, eventMedia)

	waitFor(t, "greeting synthesis", func() bool { return h.tts.CallCount() == 1 })
	if got := h.tts.Texts()[0]; got != "Hello Bo, this is Mila." {
		t.Errorf("greeting = %q", got)
	}
	if h.store.createdCount() != 0 {
		t.Error("existing conversation was re-created")
	}

	waitFor(t, "call.started webhook", func() bool { return h.notifier.saw(webhook.EventCallStarted) })
	data := h.notifier.dataFor(webhook.EventCallStarted)
	if data["phone_number"] != "+15550009999" {
		t.Errorf("call.started phone_number = %v", data["phone_number"])
	}
}

func TestFormatTranscript(t *testing.T) {
	got := formatTranscript([]types.Turn{
		{User: "[Call Started]", Assistant: "Hello."},
		{User: "hi there"},
		{Assistant: "How can I help?"},
	})
	want := "User: [Call Started]\nAssistant: Hello.\nUser: hi there\nAssistant: How can I help?"
	if got != want {
		t.Errorf("transcript = %q, want %q", got, want)
	}
}
