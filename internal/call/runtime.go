package call

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/voxrelay/voxrelay/internal/dialog"
	"github.com/voxrelay/voxrelay/internal/observe"
	"github.com/voxrelay/voxrelay/internal/tool"
	"github.com/voxrelay/voxrelay/internal/webhook"
	"github.com/voxrelay/voxrelay/pkg/audio"
	"github.com/voxrelay/voxrelay/pkg/provider/llm"
	"github.com/voxrelay/voxrelay/pkg/types"
)

// Spoken fallback and confirmation phrases.
const (
	// fallbackUtterance is spoken when generation fails entirely.
	fallbackUtterance = "I'm having trouble responding right now. Could you repeat that?"

	// cancelledUtterance acknowledges a declined pending action.
	cancelledUtterance = "Understood, cancelled. How else can I help?"

	// confirmUtterance re-prompts an ambiguous short answer to a pending
	// action.
	confirmUtterance = "Could you please confirm yes or no?"
)

const (
	// queuePutTimeout bounds how long a generated sentence waits for queue
	// space before the turn gives up.
	queuePutTimeout = 2 * time.Second

	// playbackWait bounds how long a call-terminating tool waits for the
	// queued speech to finish playing.
	playbackWait = 30 * time.Second

	// playbackPoll is the drain-check interval during playbackWait.
	playbackPoll = 100 * time.Millisecond

	// ambiguousWordLimit: an undecided reply to a pending action longer than
	// this many words is treated as a new question instead of a re-prompt.
	ambiguousWordLimit = 5
)

// defaultLLMOptions is the deterministic-leaning sampling profile for spoken
// responses.
var defaultLLMOptions = llm.Options{
	Temperature:   0.2,
	MaxTokens:     1200,
	TopK:          40,
	TopP:          0.9,
	RepeatPenalty: 1.2,
	Stop:          []string{"\nUser:", "\nAssistant:", "User:"},
}

// ContextRetriever supplies knowledge-base context for a query. Implemented
// by [kb.Retriever].
type ContextRetriever interface {
	Retrieve(ctx context.Context, agentID, query string) (string, error)
}

// EventNotifier fans call events out to webhook subscribers. Implemented by
// [webhook.Notifier].
type EventNotifier interface {
	Notify(ctx context.Context, event webhook.Event, callID, agentID string, data map[string]any)
}

// Runtime turns a committed utterance into a spoken response: intent
// classification, pending-action resolution, retrieval-augmented prompting,
// streaming generation with sentence-level TTS hand-off, and tool dispatch.
// It holds the process-wide collaborators; all per-call state lives on the
// Session.
type Runtime struct {
	llm       llm.Provider
	retriever ContextRetriever
	executor  *tool.Executor
	notifier  EventNotifier
	logger    *slog.Logger
	metrics   *observe.Metrics

	maxSentences int
	llmOptions   llm.Options
	playbackWait time.Duration
	playbackPoll time.Duration
}

// RuntimeOption configures a [Runtime].
type RuntimeOption func(*Runtime)

// WithRuntimeLogger overrides the runtime's logger.
func WithRuntimeLogger(l *slog.Logger) RuntimeOption {
	return func(r *Runtime) { r.logger = l }
}

// WithRuntimeMetrics overrides the runtime's metrics.
func WithRuntimeMetrics(m *observe.Metrics) RuntimeOption {
	return func(r *Runtime) { r.metrics = m }
}

// WithMaxSentences caps the sentences spoken per turn.
func WithMaxSentences(n int) RuntimeOption {
	return func(r *Runtime) {
		if n > 0 {
			r.maxSentences = n
		}
	}
}

// WithLLMOptions replaces the default sampling profile.
func WithLLMOptions(opts llm.Options) RuntimeOption {
	return func(r *Runtime) { r.llmOptions = opts }
}

// NewRuntime wires the turn-processing core. retriever and notifier may be
// nil, disabling knowledge-base context and event webhooks respectively.
func NewRuntime(gen llm.Provider, retriever ContextRetriever, executor *tool.Executor, notifier EventNotifier, opts ...RuntimeOption) *Runtime {
	r := &Runtime{
		llm:          gen,
		retriever:    retriever,
		executor:     executor,
		notifier:     notifier,
		logger:       slog.Default(),
		metrics:      observe.DefaultMetrics(),
		maxSentences: dialog.MaxSentences,
		llmOptions:   defaultLLMOptions,
		playbackWait: playbackWait,
		playbackPoll: playbackPoll,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HandleTurn processes one committed utterance end to end. The caller (the
// arbiter's commit path) has already set the session's responding flag; it
// is cleared here on every exit path.
func (r *Runtime) HandleTurn(ctx context.Context, s *Session, utterance string) {
	start := time.Now()
	defer s.SetResponding(false)

	call := s.CallContext()
	r.logger.Info("call: turn committed",
		"call_id", call.CallID, "agent_id", call.AgentID, "utterance", utterance)

	if dialog.DetectIntent(utterance) == types.IntentGoodbye {
		r.handleGoodbye(ctx, s, utterance)
		return
	}
	s.SetLastIntent(types.IntentQuestion)
	s.AdvancePhase()

	if pending := s.PendingAction(); pending != nil {
		if done := r.resolvePending(ctx, s, pending, utterance); done {
			return
		}
		// Undecided long reply: the pending action is dropped and the
		// utterance flows into generation as a fresh question.
	}

	r.generate(ctx, s, utterance)

	r.metrics.RecordTurn(ctx, call.AgentID)
	r.metrics.TurnDuration.Record(ctx, time.Since(start).Seconds())
}

// handleGoodbye speaks the farewell and ends the call.
func (r *Runtime) handleGoodbye(ctx context.Context, s *Session, utterance string) {
	s.SetLastIntent(types.IntentGoodbye)
	s.AppendTurn(utterance, dialog.Farewell)
	if err := s.EnqueueSentence(ctx, dialog.Farewell, queuePutTimeout); err != nil {
		r.logger.Warn("call: queue farewell", "call_id", s.CallID, "error", err)
	}
	r.waitForPlayback(ctx, s)

	action := tool.NewAction(tool.Invocation{
		Kind:   tool.KindEndCall,
		Params: map[string]string{"reason": "user_goodbye"},
	})
	r.dispatch(ctx, s, action)
}

// resolvePending applies a yes/no/ambiguous reading of the utterance to the
// parked tool action. Returns true when the turn is fully handled here;
// false means the pending action was discarded and the utterance should be
// answered normally.
func (r *Runtime) resolvePending(ctx context.Context, s *Session, pending *tool.Action, utterance string) bool {
	decision, decided := dialog.DetectConfirmation(utterance)
	switch {
	case decided && decision == dialog.ConfirmYes:
		s.ClearPendingAction()
		s.AppendTurn(utterance, "Confirmed.")
		r.dispatch(ctx, s, pending)
		return true

	case decided && decision == dialog.ConfirmNo:
		s.ClearPendingAction()
		s.AppendTurn(utterance, cancelledUtterance)
		if err := s.EnqueueSentence(ctx, cancelledUtterance, queuePutTimeout); err != nil {
			r.logger.Warn("call: queue cancellation", "call_id", s.CallID, "error", err)
		}
		return true

	case wordCount(utterance) <= ambiguousWordLimit:
		if err := s.EnqueueSentence(ctx, confirmUtterance, queuePutTimeout); err != nil {
			r.logger.Warn("call: queue confirmation prompt", "call_id", s.CallID, "error", err)
		}
		return true

	default:
		s.ClearPendingAction()
		return false
	}
}

// generate runs retrieval, streams the LLM response through the sentence
// shaper into the TTS queue, and dispatches any tool marker found in the
// full response.
func (r *Runtime) generate(ctx context.Context, s *Session, utterance string) {
	call := s.CallContext()
	agent := s.Agent()

	var kbContext string
	if r.retriever != nil {
		var err error
		kbContext, err = r.retriever.Retrieve(ctx, call.AgentID, utterance)
		if err != nil {
			r.logger.Warn("call: retrieval failed", "call_id", call.CallID, "error", err)
		}
	}

	prompt := dialog.ComposePrompt(dialog.PromptInput{
		SystemPrompt: agent.SystemPrompt,
		Call:         call,
		Context:      kbContext,
		History:      s.History(),
		Utterance:    utterance,
		Now:          time.Now(),
	})

	opts := r.llmOptions
	if agent.LLMModel != "" {
		opts.Model = agent.LLMModel
	}

	gctx, cancel := context.WithCancel(ctx)
	defer cancel()

	genStart := time.Now()
	stream, err := r.llm.Generate(gctx, prompt, opts)
	if err != nil {
		r.logger.Error("call: llm generate", "call_id", call.CallID, "error", err)
		r.metrics.RecordProviderError(ctx, "llm", "generate")
		r.speakFallback(ctx, s, utterance)
		return
	}

	seq := s.InterruptSeq()
	shaper := dialog.NewShaper(r.maxSentences)
	var full strings.Builder
	firstToken := true

	for chunk := range stream {
		if s.Interrupted() || s.InterruptSeq() != seq {
			cancel()
			audio.Drain(stream)
			r.logger.Info("call: generation interrupted", "call_id", call.CallID)
			return
		}
		if chunk.FinishReason == "error" {
			r.logger.Error("call: llm stream error", "call_id", call.CallID, "detail", chunk.Text)
			r.metrics.RecordProviderError(ctx, "llm", "stream")
			break
		}
		if firstToken && chunk.Text != "" {
			r.metrics.LLMFirstTokenDuration.Record(ctx, time.Since(genStart).Seconds())
			firstToken = false
		}
		full.WriteString(chunk.Text)

		sentence, complete := shaper.Feed(chunk.Text)
		if complete {
			if !r.enqueueSpoken(ctx, s, sentence) {
				cancel()
				audio.Drain(stream)
				return
			}
		}
		if shaper.Done() {
			cancel()
			audio.Drain(stream)
			break
		}
	}

	if s.Interrupted() || s.InterruptSeq() != seq {
		return
	}
	if tail := shaper.Flush(); tail != "" {
		r.enqueueSpoken(ctx, s, tail)
	}

	raw := strings.TrimSpace(full.String())
	if raw == "" {
		r.speakFallback(ctx, s, utterance)
		return
	}

	clean, invocation, perr := tool.Parse(raw)
	if perr != nil {
		r.logger.Warn("call: tool marker rejected", "call_id", call.CallID, "error", perr)
	}
	s.AppendTurn(utterance, clean)

	if invocation == nil {
		return
	}
	action := tool.NewAction(*invocation)
	if action.Status == tool.StatusAwaitingConfirmation {
		s.SetPendingAction(action)
		return
	}
	r.waitForPlayback(ctx, s)
	r.dispatch(ctx, s, action)
}

// enqueueSpoken strips tool markers from a shaped sentence and queues it for
// synthesis. Returns false when the turn should be abandoned.
func (r *Runtime) enqueueSpoken(ctx context.Context, s *Session, sentence string) bool {
	out := strings.TrimSpace(tool.StripMarkers(sentence))
	if out == "" {
		return true
	}
	if err := s.EnqueueSentence(ctx, out, queuePutTimeout); err != nil {
		r.logger.Warn("call: sentence dropped", "call_id", s.CallID, "error", err)
		return false
	}
	return true
}

// speakFallback records and speaks the apology sentence for a failed turn.
func (r *Runtime) speakFallback(ctx context.Context, s *Session, utterance string) {
	s.AppendTurn(utterance, fallbackUtterance)
	if err := s.EnqueueSentence(ctx, fallbackUtterance, queuePutTimeout); err != nil {
		r.logger.Warn("call: queue fallback", "call_id", s.CallID, "error", err)
	}
}

// dispatch executes a tool action, notifies tool.called subscribers, and
// folds the outcome back into the conversation.
func (r *Runtime) dispatch(ctx context.Context, s *Session, action *tool.Action) {
	call := s.CallContext()
	label := toolLabel(action.Invocation)

	if r.notifier != nil {
		r.notifier.Notify(ctx, webhook.EventToolCalled, call.CallID, call.AgentID, map[string]any{
			"tool":       label,
			"department": action.Invocation.Department,
		})
	}

	start := time.Now()
	result, err := r.executor.Execute(ctx, action, call, tool.Hooks{Interrupt: s.Interrupt})
	r.metrics.ToolExecutionDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		r.metrics.RecordToolCall(ctx, label, "failed")
		r.logger.Error("call: tool execution", "call_id", call.CallID, "tool", label, "error", err)
		// Surfaced to the model on the next turn through history.
		s.AppendTurn("", "[Tool "+label+" failed: "+err.Error()+"]")
		return
	}
	r.metrics.RecordToolCall(ctx, label, "completed")

	if result.EndedCall {
		reason := action.Invocation.Params["reason"]
		if reason == "" {
			reason = "agent_ended"
		}
		s.SetEndReason(reason)
	}
	if result.Transferred {
		s.SetEndReason("transferred")
	}
	if result.Transferred && r.notifier != nil {
		r.notifier.Notify(ctx, webhook.EventCallTransferred, call.CallID, call.AgentID, map[string]any{
			"department": result.Department,
		})
	}

	// A webhook tool's response is spoken back to the caller.
	if spoken := strings.TrimSpace(dialog.CleanMarkdown(result.Response)); spoken != "" {
		s.AppendTurn("", spoken)
		if err := s.EnqueueSentence(ctx, spoken, queuePutTimeout); err != nil {
			r.logger.Warn("call: queue tool response", "call_id", s.CallID, "error", err)
		}
	}
}

// waitForPlayback blocks until the queued speech has finished playing, the
// interrupt latch fires, or the wait budget runs out. Call-terminating tools
// use it so their spoken lead-in is heard.
func (r *Runtime) waitForPlayback(ctx context.Context, s *Session) {
	if r.playbackWait <= 0 {
		return
	}
	deadline := time.Now().Add(r.playbackWait)
	t := time.NewTicker(r.playbackPoll)
	defer t.Stop()
	for time.Now().Before(deadline) {
		if s.Idle() || s.Interrupted() {
			return
		}
		select {
		case <-t.C:
		case <-ctx.Done():
			return
		case <-s.ctx.Done():
			return
		}
	}
}

func toolLabel(inv tool.Invocation) string {
	if inv.Name != "" {
		return inv.Name
	}
	return string(inv.Kind)
}

func wordCount(text string) int {
	return len(strings.Fields(text))
}
