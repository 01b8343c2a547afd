// Package call implements the per-call voice pipeline: session state, the
// barge-in detector, the turn arbiter, the response runtime, and the TTS
// sink worker. One Session exists per live call; a Manager owns them by id.
package call

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/voxrelay/voxrelay/internal/tool"
	"github.com/voxrelay/voxrelay/pkg/audio"
	"github.com/voxrelay/voxrelay/pkg/provider/stt"
	"github.com/voxrelay/voxrelay/pkg/types"
)

// DefaultQueueCapacity bounds the per-call sentence queue feeding the TTS
// sink.
const DefaultQueueCapacity = 50

// historyLimit caps the rolling conversation history; older turns are
// evicted FIFO.
const historyLimit = 10

// clearRepeatDelay is the gap between the two "clear" control frames sent on
// interrupt. The repeat covers gateways that drop the first frame while
// switching buffers.
const clearRepeatDelay = 10 * time.Millisecond

var (
	// ErrInterrupted is returned by SendFrame while an interrupt latch is set.
	ErrInterrupted = errors.New("call: interrupted")

	// ErrStreamMismatch is returned by SendFrame when the frame targets a
	// stream id the session no longer carries.
	ErrStreamMismatch = errors.New("call: stream id mismatch")

	// ErrQueueTimeout is returned by EnqueueSentence when the sentence queue
	// stays full past the put timeout.
	ErrQueueTimeout = errors.New("call: sentence queue full")

	// ErrSessionClosed is returned by operations on a destroyed session.
	ErrSessionClosed = errors.New("call: session closed")
)

// MediaSender delivers egress audio and control frames to the telephony
// gateway for one call. Implementations must be safe for concurrent use.
type MediaSender interface {
	// SendAudio transmits one μ-law audio frame.
	SendAudio(frame []byte) error

	// Clear instructs the gateway to flush its playout buffer.
	Clear() error
}

// Session is the per-call state object. All mutable fields are guarded by a
// single mutex; methods may be called from the media reader, the STT reader,
// the sink worker, and turn tasks concurrently.
type Session struct {
	CallID string

	ctx    context.Context
	cancel context.CancelFunc

	mu sync.Mutex

	streamID      string
	agent         types.AgentConfig
	phone         string
	vars          map[string]string
	voiceOverride string

	history    []types.Turn
	phase      types.CallPhase
	lastIntent types.Intent

	// STT turn state. Written by the STT reader, read and cleared by the
	// arbiter or the interrupt path.
	sttBuffer       string
	sttIsFinal      bool
	lastInterimText string
	lastInterim     time.Time
	lastSpeech      time.Time

	speechDetected   bool
	speechDetectedAt time.Time

	agentSpeaking bool
	isResponding  bool
	interrupted   bool
	interruptSeq  uint64

	// Barge-in state.
	baseline        float64
	background      []int
	speechEnergy    []int
	energySpeechAt  time.Time
	lastInterruptAt time.Time

	pending *tool.Action

	ttsQueue    chan string
	interruptCh chan struct{}

	resampler *audio.Resampler
	media     MediaSender
	sttHandle stt.Session

	clock func() time.Time

	startedAt time.Time
	endReason string
	closed    bool
	closeOnce sync.Once
	closers   []func() error
}

// SessionOption configures a [Session].
type SessionOption func(*Session)

// WithQueueCapacity overrides the sentence queue capacity.
func WithQueueCapacity(n int) SessionOption {
	return func(s *Session) {
		if n > 0 {
			s.ttsQueue = make(chan string, n)
		}
	}
}

// WithClock overrides the session's time source. Used by tests.
func WithClock(now func() time.Time) SessionOption {
	return func(s *Session) { s.clock = now }
}

// WithDynamicVariables seeds the call's dynamic variables (from the
// gateway's custom parameters).
func WithDynamicVariables(vars map[string]string) SessionOption {
	return func(s *Session) { s.vars = vars }
}

// WithPhoneNumber records the caller's number for persistence and webhooks.
func WithPhoneNumber(number string) SessionOption {
	return func(s *Session) { s.phone = number }
}

// WithVoiceOverride forces a TTS voice for this call, taking precedence over
// the agent's configured voice.
func WithVoiceOverride(voice string) SessionOption {
	return func(s *Session) { s.voiceOverride = voice }
}

// NewSession creates the state object for one live call. The session is not
// usable for egress until [Session.SetStreamID] is called.
func NewSession(callID string, media MediaSender, agent types.AgentConfig, opts ...SessionOption) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		CallID:      callID,
		ctx:         ctx,
		cancel:      cancel,
		agent:       agent,
		phase:       types.PhaseCallStart,
		ttsQueue:    make(chan string, DefaultQueueCapacity),
		interruptCh: make(chan struct{}, 1),
		resampler:   audio.NewResampler(16000, 8000),
		media:       media,
		clock:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.startedAt = s.clock()
	return s
}

// Context is cancelled when the session is destroyed. Workers bound to the
// call run under it.
func (s *Session) Context() context.Context { return s.ctx }

// Agent returns the immutable agent profile loaded for this call.
func (s *Session) Agent() types.AgentConfig {
	return s.agent
}

// SetStreamID records the gateway stream id from the start event.
func (s *Session) SetStreamID(id string) {
	s.mu.Lock()
	s.streamID = id
	s.mu.Unlock()
}

// StreamID returns the current gateway stream id.
func (s *Session) StreamID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamID
}

// SetSTTHandle registers the open STT session so interrupt and teardown can
// reach it.
func (s *Session) SetSTTHandle(h stt.Session) {
	s.mu.Lock()
	s.sttHandle = h
	s.mu.Unlock()
}

// DynamicVariables returns a copy of the call's dynamic variables.
func (s *Session) DynamicVariables() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.vars))
	for k, v := range s.vars {
		out[k] = v
	}
	return out
}

// Voice resolves the TTS voice for this call: call override, then agent
// config, then def.
func (s *Session) Voice(def string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.voiceOverride != "" {
		return s.voiceOverride
	}
	if s.agent.Voice != "" {
		return s.agent.Voice
	}
	return def
}

// CallContext snapshots the call's identity and conversational position for
// tools, webhooks, and the prompt composer.
func (s *Session) CallContext() types.CallContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	vars := make(map[string]string, len(s.vars))
	for k, v := range s.vars {
		vars[k] = v
	}
	return types.CallContext{
		CallID:           s.CallID,
		AgentID:          s.agent.ID,
		PhoneNumber:      s.phone,
		Phase:            s.phase,
		LastIntent:       s.lastIntent,
		DynamicVariables: vars,
	}
}

// StartedAt returns when the session was created.
func (s *Session) StartedAt() time.Time { return s.startedAt }

// SetEndReason records why the call ended (e.g. "user_goodbye"). The first
// recorded reason wins.
func (s *Session) SetEndReason(reason string) {
	s.mu.Lock()
	if s.endReason == "" {
		s.endReason = reason
	}
	s.mu.Unlock()
}

// EndReason returns the recorded end reason, or "".
func (s *Session) EndReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endReason
}

// --- conversation history ---

// AppendTurn records one completed exchange, evicting the oldest entry once
// the history exceeds its cap.
func (s *Session) AppendTurn(user, assistant string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, types.Turn{User: user, Assistant: assistant, Timestamp: s.clock()})
	if len(s.history) > historyLimit {
		s.history = s.history[len(s.history)-historyLimit:]
	}
}

// History returns a copy of the rolling conversation history.
func (s *Session) History() []types.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Turn, len(s.history))
	copy(out, s.history)
	return out
}

// AdvancePhase moves the call phase forward with the turn count:
// CALL_START becomes DISCOVERY on the first turn, DISCOVERY becomes ACTIVE
// once at least two turns exist.
func (s *Session) AdvancePhase() {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.phase == types.PhaseCallStart:
		s.phase = types.PhaseDiscovery
	case s.phase == types.PhaseDiscovery && len(s.history) >= 2:
		s.phase = types.PhaseActive
	}
}

// Phase returns the current call phase.
func (s *Session) Phase() types.CallPhase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// SetLastIntent records the classification of the most recent utterance.
func (s *Session) SetLastIntent(i types.Intent) {
	s.mu.Lock()
	s.lastIntent = i
	s.mu.Unlock()
}

// --- pending tool action ---

// SetPendingAction parks a confirmation-gated tool invocation until the next
// utterance resolves it.
func (s *Session) SetPendingAction(a *tool.Action) {
	s.mu.Lock()
	s.pending = a
	s.mu.Unlock()
}

// PendingAction returns the parked invocation, or nil.
func (s *Session) PendingAction() *tool.Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// ClearPendingAction discards the parked invocation.
func (s *Session) ClearPendingAction() {
	s.mu.Lock()
	s.pending = nil
	s.mu.Unlock()
}

// --- STT event application ---

// ApplySTTEvent folds one ASR event into the turn state. Must be called only
// from the single STT reader goroutine so writes stay linear.
func (s *Session) ApplySTTEvent(ev stt.Event) {
	now := s.clock()
	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev.Kind {
	case stt.EventTranscript:
		text := strings.TrimSpace(ev.Transcript.Text)
		if text == "" {
			return
		}
		s.lastSpeech = now
		if ev.Transcript.IsFinal {
			s.applyFinal(text)
			return
		}
		s.lastInterim = now
		// An interim replaces the working buffer only while no finalized
		// text is held, and only when it extends the previous interim (or
		// grows the buffer). A shorter mid-turn interim never shrinks it.
		if !s.sttIsFinal &&
			(strings.HasPrefix(text, s.lastInterimText) || len(text) > len(s.sttBuffer)) {
			s.sttBuffer = text
		}
		s.lastInterimText = text

	case stt.EventSpeechStarted:
		s.speechDetected = true
		s.speechDetectedAt = now

	case stt.EventUtteranceEnd:
		if now.Sub(s.lastInterim) > 200*time.Millisecond {
			s.speechDetected = false
			s.lastSpeech = now
		}
	}
}

// applyFinal folds a final transcript into the buffer: a continuation
// (prior final held, no terminal punctuation, non-trivial new piece) is
// concatenated; anything else replaces the interim working text.
func (s *Session) applyFinal(text string) {
	if s.sttIsFinal && s.sttBuffer != "" && !endsTerminal(s.sttBuffer) && len(text) > 3 {
		s.sttBuffer = s.sttBuffer + " " + text
	} else {
		s.sttBuffer = text
	}
	s.sttIsFinal = true
	s.lastInterimText = ""
}

func endsTerminal(text string) bool {
	t := strings.TrimRight(text, " ")
	if t == "" {
		return false
	}
	switch t[len(t)-1] {
	case '.', '?', '!':
		return true
	}
	return false
}

// resetSTTLocked clears the turn buffer and speech flags. Caller holds mu.
func (s *Session) resetSTTLocked(now time.Time) {
	s.sttBuffer = ""
	s.sttIsFinal = false
	s.lastInterimText = ""
	s.speechDetected = false
	s.speechEnergy = s.speechEnergy[:0]
	s.energySpeechAt = time.Time{}
	s.lastSpeech = now
}

// --- speaking / responding flags ---

// SetSpeaking flips the agent-speaking flag; the sink owns it.
func (s *Session) SetSpeaking(v bool) {
	s.mu.Lock()
	s.agentSpeaking = v
	s.mu.Unlock()
}

// Speaking reports whether the sink is currently emitting frames.
func (s *Session) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agentSpeaking
}

// SetResponding flips the turn-in-progress flag; the runtime owns it.
func (s *Session) SetResponding(v bool) {
	s.mu.Lock()
	s.isResponding = v
	s.mu.Unlock()
}

// Responding reports whether a turn task is generating a response.
func (s *Session) Responding() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isResponding
}

// Idle reports that nothing is queued or playing: the drain condition after
// a spoken response, before a call-terminating tool runs.
func (s *Session) Idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ttsQueue) == 0 && !s.agentSpeaking
}

// --- interrupt latch ---

// Interrupt cuts agent audio: it latches the interrupt flag, clears the
// gateway playout buffer (twice, for reliability), drains the sentence
// queue, and resets the STT turn state so the caller's next words begin a
// fresh turn. Idempotent; safe from any goroutine.
func (s *Session) Interrupt() {
	s.mu.Lock()
	if s.interrupted || s.closed {
		s.mu.Unlock()
		return
	}
	s.interrupted = true
	s.interruptSeq++
	s.agentSpeaking = false
	s.isResponding = false
	media := s.media
	s.mu.Unlock()

	if err := media.Clear(); err == nil {
		time.Sleep(clearRepeatDelay)
		_ = media.Clear()
	}
	s.DrainQueue()

	now := s.clock()
	s.mu.Lock()
	s.resetSTTLocked(now)
	s.mu.Unlock()

	// Wake the sink if it is blocked on an empty queue so it can
	// acknowledge and clear the latch.
	select {
	case s.interruptCh <- struct{}{}:
	default:
	}
}

// Interrupted reports whether the interrupt latch is set.
func (s *Session) Interrupted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interrupted
}

// InterruptSeq returns a counter incremented on every interrupt. Turn tasks
// snapshot it at start and abandon work when it moves.
func (s *Session) InterruptSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interruptSeq
}

// ClearInterrupt releases the latch once TTS teardown has completed. The
// sink calls this after it has stopped streaming and drained the queue.
func (s *Session) ClearInterrupt() {
	s.mu.Lock()
	s.interrupted = false
	s.mu.Unlock()
}

// --- egress ---

// EnqueueSentence queues one sentence for synthesis, waiting at most timeout
// for queue space. Returns ErrInterrupted when the latch is set.
func (s *Session) EnqueueSentence(ctx context.Context, text string, timeout time.Duration) error {
	if s.Interrupted() {
		return ErrInterrupted
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case s.ttsQueue <- text:
		return nil
	case <-t.C:
		return ErrQueueTimeout
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return ErrSessionClosed
	}
}

// QueueLen returns the number of sentences waiting for synthesis.
func (s *Session) QueueLen() int { return len(s.ttsQueue) }

// DrainQueue discards all queued sentences.
func (s *Session) DrainQueue() {
	for {
		select {
		case <-s.ttsQueue:
		default:
			return
		}
	}
}

// SendFrame transmits one μ-law frame on the media channel. The send is
// refused while an interrupt is latched or when streamID no longer matches
// the session's current stream.
func (s *Session) SendFrame(streamID string, frame []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.interrupted {
		s.mu.Unlock()
		return ErrInterrupted
	}
	if streamID != s.streamID {
		s.mu.Unlock()
		return ErrStreamMismatch
	}
	media := s.media
	s.mu.Unlock()
	return media.SendAudio(frame)
}

// --- lifecycle ---

// OnClose registers a teardown function. Closers run in reverse registration
// order when the session is destroyed.
func (s *Session) OnClose(fn func() error) {
	s.mu.Lock()
	s.closers = append(s.closers, fn)
	s.mu.Unlock()
}

// Close tears the session down: cancels the worker context, drains the
// sentence queue, finishes the STT connection, and runs registered closers
// in reverse order. Safe to call more than once.
func (s *Session) Close() error {
	var errs []error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		handle := s.sttHandle
		closers := s.closers
		s.mu.Unlock()

		s.cancel()
		s.DrainQueue()
		if handle != nil {
			if err := handle.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}
