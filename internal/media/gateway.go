package media

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/voxrelay/voxrelay/internal/call"
	"github.com/voxrelay/voxrelay/internal/dialog"
	"github.com/voxrelay/voxrelay/internal/observe"
	"github.com/voxrelay/voxrelay/internal/store"
	"github.com/voxrelay/voxrelay/internal/webhook"
	"github.com/voxrelay/voxrelay/pkg/provider/stt"
	"github.com/voxrelay/voxrelay/pkg/types"
)

const (
	// heartbeatInterval paces keep-alive events on an otherwise idle media
	// socket.
	heartbeatInterval = 5 * time.Second

	// greetingDelay lets the carrier's jitter buffer settle before the
	// greeting audio starts.
	greetingDelay = 100 * time.Millisecond

	// finalizeTimeout bounds the persistence work after a call ends.
	finalizeTimeout = 10 * time.Second

	// defaultEndpointing is the ASR-side silence window when the agent has no
	// silence threshold configured.
	defaultEndpointing = 800 * time.Millisecond
)

// CallStore is the slice of [store.Store] the gateway needs to resolve and
// persist calls.
type CallStore interface {
	GetAgent(ctx context.Context, id string) (types.AgentConfig, error)
	GetConversation(ctx context.Context, id string) (store.Conversation, error)
	CreateConversation(ctx context.Context, c store.Conversation) error
	MarkConversationStarted(ctx context.Context, id string) error
	CompleteConversation(ctx context.Context, id, transcript string, durationSecs float64, endedReason string) error
}

// Pipeline bundles the per-call processing collaborators the gateway drives.
type Pipeline struct {
	Manager  *call.Manager
	Arbiter  *call.Arbiter
	Detector *call.Detector
	Sink     *call.Sink
	Runtime  *call.Runtime
}

// Gateway accepts media-stream WebSocket connections and runs one call
// pipeline per connection: ingress audio fans out to the STT session and the
// barge-in detector, the arbiter's commit check runs on every frame, and the
// sink worker carries synthesized audio back. Safe for concurrent use.
type Gateway struct {
	store    CallStore
	asr      stt.Provider
	pipe     Pipeline
	notifier call.EventNotifier
	logger   *slog.Logger
	metrics  *observe.Metrics

	endpointing time.Duration
}

// GatewayOption configures a [Gateway].
type GatewayOption func(*Gateway)

// WithGatewayLogger overrides the gateway's logger.
func WithGatewayLogger(l *slog.Logger) GatewayOption {
	return func(g *Gateway) { g.logger = l }
}

// WithGatewayMetrics overrides the gateway's metrics.
func WithGatewayMetrics(m *observe.Metrics) GatewayOption {
	return func(g *Gateway) { g.metrics = m }
}

// WithGatewayNotifier enables call-event webhooks.
func WithGatewayNotifier(n call.EventNotifier) GatewayOption {
	return func(g *Gateway) { g.notifier = n }
}

// WithEndpointing overrides the default ASR silence window.
func WithEndpointing(d time.Duration) GatewayOption {
	return func(g *Gateway) {
		if d > 0 {
			g.endpointing = d
		}
	}
}

// NewGateway wires the media entry point.
func NewGateway(st CallStore, asr stt.Provider, pipe Pipeline, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		store:       st,
		asr:         asr,
		pipe:        pipe,
		logger:      slog.Default(),
		metrics:     observe.DefaultMetrics(),
		endpointing: defaultEndpointing,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// stream is the per-connection state, owned by the read loop. committing
// guards the single in-flight turn task per call.
type stream struct {
	conn       *websocket.Conn
	sess       *call.Session
	sttSess    stt.Session
	committing atomic.Bool
}

// ServeHTTP upgrades the request to a media-stream WebSocket and runs the
// call until the stream stops or the connection drops.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		g.logger.Error("media: websocket accept", "error", err)
		return
	}
	defer conn.CloseNow()

	if clean := g.run(r.Context(), conn); clean {
		conn.Close(websocket.StatusNormalClosure, "stream stopped")
	}
}

// run is the connection read loop. It returns true when the stream ended
// with a stop event rather than a transport failure.
func (g *Gateway) run(ctx context.Context, conn *websocket.Conn) (clean bool) {
	st := &stream{conn: conn}
	defer func() {
		reason := "disconnect"
		if clean {
			reason = "completed"
		}
		g.finalize(st, reason)
	}()

	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if st.sess != nil {
				g.logger.Warn("media: stream read", "call_id", st.sess.CallID, "error", err)
			}
			return false
		}

		var env envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			g.logger.Warn("media: malformed event", "error", err)
			continue
		}

		switch env.Event {
		case eventConnected, eventMark, eventHeartbeat:
			// Protocol chatter; nothing to do.
		case eventStart:
			if err := g.handleStart(ctx, st, env); err != nil {
				g.logger.Error("media: stream start rejected", "error", err)
				return false
			}
		case eventMedia:
			g.handleMedia(ctx, st, env)
		case eventStop:
			return true
		default:
			g.logger.Debug("media: unknown event", "event", env.Event)
		}
	}
}

// handleStart resolves the call's agent, creates the session, opens the STT
// stream, and launches the per-call workers.
func (g *Gateway) handleStart(ctx context.Context, st *stream, env envelope) error {
	if env.Start == nil {
		return errors.New("media: start event without payload")
	}
	if st.sess != nil {
		return fmt.Errorf("media: duplicate start for call %s", st.sess.CallID)
	}
	callID := env.Start.CallSID
	if callID == "" {
		return errors.New("media: start event without call sid")
	}

	conv, agentID, err := g.resolveConversation(ctx, callID, env.Start.CustomParameters)
	if err != nil {
		return err
	}
	agent, err := g.store.GetAgent(ctx, agentID)
	if err != nil {
		return fmt.Errorf("media: load agent %s: %w", agentID, err)
	}
	if err := g.store.MarkConversationStarted(ctx, callID); err != nil {
		g.logger.Warn("media: mark conversation started", "call_id", callID, "error", err)
	}

	vars := make(map[string]string, len(conv.DynamicVariables)+len(env.Start.CustomParameters))
	for k, v := range conv.DynamicVariables {
		vars[k] = v
	}
	for k, v := range env.Start.CustomParameters {
		vars[k] = v
	}

	sender := newWSSender(st.conn, env.Start.StreamSID)
	sess, err := g.pipe.Manager.Create(callID, sender, agent,
		call.WithDynamicVariables(vars),
		call.WithPhoneNumber(conv.PhoneNumber),
	)
	if err != nil {
		return fmt.Errorf("media: register call %s: %w", callID, err)
	}
	sess.SetStreamID(env.Start.StreamSID)

	sttSess, err := g.asr.StartStream(sess.Context(), stt.StreamConfig{
		SampleRate:     8000,
		Encoding:       "mulaw",
		Channels:       1,
		Language:       agent.Language,
		InterimResults: true,
		VADEvents:      true,
		EndpointingMs:  g.endpointingMs(agent),
	})
	if err != nil {
		g.pipe.Manager.Destroy(callID)
		g.metrics.RecordProviderError(ctx, "stt", "start_stream")
		return fmt.Errorf("media: open stt stream for %s: %w", callID, err)
	}
	sess.SetSTTHandle(sttSess)

	st.sess = sess
	st.sttSess = sttSess

	g.metrics.ActiveCalls.Add(ctx, 1)
	g.logger.Info("media: stream started",
		"call_id", callID, "stream_sid", env.Start.StreamSID, "agent_id", agent.ID)

	go g.readSTT(sess, sttSess)
	go g.pipe.Sink.Run(sess)
	go g.heartbeat(sess, sender)
	go g.greet(sess)

	return nil
}

// resolveConversation finds (or, for streams that bypassed the answer
// webhook, creates) the call record and returns it with the agent id to run.
func (g *Gateway) resolveConversation(ctx context.Context, callID string, params map[string]string) (store.Conversation, string, error) {
	conv, err := g.store.GetConversation(ctx, callID)
	switch {
	case err == nil:
		agentID := conv.AgentID
		if v := params["agent_id"]; v != "" {
			agentID = v
		}
		return conv, agentID, nil

	case errors.Is(err, store.ErrNotFound):
		agentID := params["agent_id"]
		if agentID == "" {
			return store.Conversation{}, "", fmt.Errorf("media: unknown call %s and no agent_id parameter", callID)
		}
		conv = store.Conversation{
			ID:               callID,
			AgentID:          agentID,
			PhoneNumber:      params["from"],
			Direction:        store.DirectionInbound,
			DynamicVariables: params,
		}
		if cerr := g.store.CreateConversation(ctx, conv); cerr != nil {
			return store.Conversation{}, "", fmt.Errorf("media: record call %s: %w", callID, cerr)
		}
		return conv, agentID, nil

	default:
		return store.Conversation{}, "", fmt.Errorf("media: lookup call %s: %w", callID, err)
	}
}

func (g *Gateway) endpointingMs(agent types.AgentConfig) int {
	if agent.SilenceThresholdSec > 0 {
		return int(agent.SilenceThresholdSec * 1000)
	}
	return int(g.endpointing.Milliseconds())
}

// handleMedia feeds one ingress frame through the pipeline: the ASR, the
// barge-in detector, and the turn arbiter's commit check.
func (g *Gateway) handleMedia(ctx context.Context, st *stream, env envelope) {
	if st.sess == nil || env.Media == nil {
		return
	}
	frame, err := base64.StdEncoding.DecodeString(env.Media.Payload)
	if err != nil {
		g.logger.Warn("media: undecodable frame", "call_id", st.sess.CallID, "error", err)
		return
	}

	if err := st.sttSess.SendAudio(frame); err != nil {
		g.logger.Warn("media: stt send", "call_id", st.sess.CallID, "error", err)
	}

	if g.pipe.Detector.Process(st.sess, frame) {
		g.metrics.RecordInterrupt(ctx, st.sess.Agent().ID)
		g.logger.Info("media: caller barge-in", "call_id", st.sess.CallID)
	}

	if g.pipe.Arbiter.Ready(st.sess) {
		g.tryCommit(st)
	}
}

// tryCommit launches the turn task, at most one per call at a time. The
// arbiter re-verifies readiness inside Commit, so losing the race is safe.
func (g *Gateway) tryCommit(st *stream) {
	if !st.committing.CompareAndSwap(false, true) {
		return
	}
	sess := st.sess
	go func() {
		defer st.committing.Store(false)
		ctx := sess.Context()
		utterance, ok := g.pipe.Arbiter.Commit(ctx, sess)
		if !ok {
			return
		}
		g.pipe.Runtime.HandleTurn(ctx, sess, utterance)
	}()
}

// readSTT is the single consumer of the call's ASR event stream.
func (g *Gateway) readSTT(sess *call.Session, sttSess stt.Session) {
	ctx := sess.Context()
	var utteranceEndAt time.Time

	for ev := range sttSess.Events() {
		if ev.Kind == stt.EventClosed {
			if ev.Err != nil {
				g.logger.Warn("media: stt stream closed", "call_id", sess.CallID, "error", ev.Err)
				g.metrics.RecordProviderError(ctx, "stt", "stream")
			}
			return
		}

		sess.ApplySTTEvent(ev)

		switch ev.Kind {
		case stt.EventUtteranceEnd:
			utteranceEndAt = time.Now()
		case stt.EventTranscript:
			if !ev.Transcript.IsFinal {
				continue
			}
			if !utteranceEndAt.IsZero() {
				g.metrics.STTFinalDuration.Record(ctx, time.Since(utteranceEndAt).Seconds())
				utteranceEndAt = time.Time{}
			}
			if g.notifier != nil {
				g.notifier.Notify(ctx, webhook.EventTranscriptFinal, sess.CallID, sess.Agent().ID, map[string]any{
					"text":       ev.Transcript.Text,
					"confidence": ev.Transcript.Confidence,
				})
			}
		}
	}
}

// heartbeat keeps the media socket alive until the session ends.
func (g *Gateway) heartbeat(sess *call.Session, sender *wsSender) {
	t := time.NewTicker(heartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-sess.Context().Done():
			return
		case <-t.C:
			if err := sender.Heartbeat(); err != nil {
				return
			}
		}
	}
}

// greet speaks the agent's opening line shortly after the stream connects
// and announces the call to webhook subscribers.
func (g *Gateway) greet(sess *call.Session) {
	ctx := sess.Context()
	t := time.NewTimer(greetingDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return
	case <-t.C:
	}

	agent := sess.Agent()
	greeting := dialog.RenderGreeting(agent.Greeting, sess.DynamicVariables())
	sess.AppendTurn("[Call Started]", greeting)
	if err := sess.EnqueueSentence(ctx, greeting, heartbeatInterval); err != nil {
		g.logger.Warn("media: queue greeting", "call_id", sess.CallID, "error", err)
	}

	if g.notifier != nil {
		cc := sess.CallContext()
		g.notifier.Notify(ctx, webhook.EventCallStarted, cc.CallID, cc.AgentID, map[string]any{
			"phone_number": cc.PhoneNumber,
		})
	}
}

// finalize persists the finished call and tears the session down. reason is
// the transport-level outcome; a reason recorded on the session (tool
// hang-up, transfer, goodbye) takes precedence.
func (g *Gateway) finalize(st *stream, reason string) {
	if st.sess == nil {
		return
	}
	sess := st.sess

	if r := sess.EndReason(); r != "" {
		reason = r
	}
	transcript := formatTranscript(sess.History())
	duration := time.Since(sess.StartedAt()).Seconds()
	agentID := sess.Agent().ID

	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	if err := g.store.CompleteConversation(ctx, sess.CallID, transcript, duration, reason); err != nil {
		g.logger.Error("media: complete conversation", "call_id", sess.CallID, "error", err)
	}
	if g.notifier != nil {
		g.notifier.Notify(ctx, webhook.EventCallEnded, sess.CallID, agentID, map[string]any{
			"duration_secs": duration,
			"ended_reason":  reason,
		})
	}

	if err := g.pipe.Manager.Destroy(sess.CallID); err != nil {
		g.logger.Warn("media: destroy session", "call_id", sess.CallID, "error", err)
	}
	g.metrics.ActiveCalls.Add(ctx, -1)
	g.logger.Info("media: call finished",
		"call_id", sess.CallID, "reason", reason, "duration_secs", duration)
}

// formatTranscript renders the rolling history as the persisted transcript.
func formatTranscript(history []types.Turn) string {
	var b strings.Builder
	for _, turn := range history {
		if turn.User != "" {
			b.WriteString("User: ")
			b.WriteString(turn.User)
			b.WriteByte('\n')
		}
		if turn.Assistant != "" {
			b.WriteString("Assistant: ")
			b.WriteString(turn.Assistant)
			b.WriteByte('\n')
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
