package call

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Turn-taking defaults.
const (
	// DefaultSilenceThreshold is the silence window after a final
	// transcript before the turn commits.
	DefaultSilenceThreshold = 800 * time.Millisecond

	// DefaultVADTimeout bounds how long a speech-detected flag may block
	// commits when the ASR never follows up with an utterance end.
	DefaultVADTimeout = 2 * time.Second

	// DefaultInterimMinLength is the minimum interim transcript length (in
	// characters) to respond off in interim mode.
	DefaultInterimMinLength = 5
)

const (
	// interimSilenceThreshold replaces the silence window when responding
	// off an interim transcript.
	interimSilenceThreshold = 50 * time.Millisecond

	// interimSettle is how long the interim stream must be quiet before a
	// commit is considered: the caller has stopped adding words.
	interimSettle = 500 * time.Millisecond

	// commitDelay is the pause before the final recheck, to catch speech
	// that resumed just as the thresholds were met.
	commitDelay = 50 * time.Millisecond

	// recheckInterimGap fails the post-delay recheck when a fresh interim
	// arrived this recently.
	recheckInterimGap = 300 * time.Millisecond

	// minUtteranceLen is the minimum committed utterance length in bytes.
	minUtteranceLen = 3
)

// ArbiterConfig tunes when a user utterance is complete enough to answer.
// Zero values select the defaults above.
type ArbiterConfig struct {
	// SilenceThreshold is the default post-final silence window. A per-agent
	// SilenceThresholdSec overrides it.
	SilenceThreshold time.Duration

	// InterimMode lets turns commit off interim transcripts once they reach
	// InterimMinLength, trading accuracy for latency.
	InterimMode bool

	// InterimMinLength is the minimum interim length for InterimMode.
	InterimMinLength int

	// VADTimeout bounds how long a speech-detected flag may block commits.
	VADTimeout time.Duration
}

// withDefaults fills zero fields with the package defaults.
func (cfg ArbiterConfig) withDefaults() ArbiterConfig {
	if cfg.SilenceThreshold <= 0 {
		cfg.SilenceThreshold = DefaultSilenceThreshold
	}
	if cfg.InterimMinLength <= 0 {
		cfg.InterimMinLength = DefaultInterimMinLength
	}
	if cfg.VADTimeout <= 0 {
		cfg.VADTimeout = DefaultVADTimeout
	}
	return cfg
}

// Arbiter decides when the accumulated transcript constitutes a committed
// turn. It is shared by all calls; per-call timing state lives on the
// Session.
type Arbiter struct {
	mu    sync.RWMutex
	cfg   ArbiterConfig
	clock func() time.Time
}

// NewArbiter builds an Arbiter, filling zero config fields with defaults.
func NewArbiter(cfg ArbiterConfig) *Arbiter {
	return &Arbiter{cfg: cfg.withDefaults(), clock: time.Now}
}

// SetConfig swaps the turn-taking tuning, for config hot reload. In-flight
// readiness checks keep the snapshot they started with.
func (a *Arbiter) SetConfig(cfg ArbiterConfig) {
	a.mu.Lock()
	a.cfg = cfg.withDefaults()
	a.mu.Unlock()
}

func (a *Arbiter) config() ArbiterConfig {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg
}

// Ready reports whether the session's current transcript satisfies every
// commit condition. It is a pure check: no session state changes, so the
// buffer stays intact for a later Commit to take atomically.
func (a *Arbiter) Ready(s *Session) bool {
	cfg := a.config()
	now := a.clock()
	s.mu.Lock()
	defer s.mu.Unlock()
	return readyLocked(s, now, cfg)
}

func readyLocked(s *Session, now time.Time, cfg ArbiterConfig) bool {
	if s.isResponding || s.interrupted || s.closed {
		return false
	}

	// The agent holds the floor while audio is playing or sentences wait in
	// the queue. Only the barge-in detector may take it back.
	if s.agentSpeaking || len(s.ttsQueue) > 0 {
		return false
	}

	// A speech-detected flag blocks commits until the ASR closes it out or
	// the timeout lapses (the flag went stale without an utterance end).
	if s.speechDetected && now.Sub(s.speechDetectedAt) < cfg.VADTimeout {
		return false
	}

	if !s.lastInterim.IsZero() && now.Sub(s.lastInterim) < interimSettle {
		return false
	}

	buf := strings.TrimSpace(s.sttBuffer)
	if len(buf) < minUtteranceLen {
		return false
	}
	if !s.sttIsFinal && (!cfg.InterimMode || len(buf) < cfg.InterimMinLength) {
		return false
	}

	if s.lastSpeech.IsZero() {
		return false
	}
	return now.Sub(s.lastSpeech) >= silenceThreshold(s, cfg)
}

// silenceThreshold resolves the applicable silence window: the short interim
// window when committing off an interim transcript, otherwise the agent's
// configured threshold (or the process default).
func silenceThreshold(s *Session, cfg ArbiterConfig) time.Duration {
	if !s.sttIsFinal {
		return interimSilenceThreshold
	}
	if s.agent.SilenceThresholdSec > 0 {
		return time.Duration(s.agent.SilenceThresholdSec * float64(time.Second))
	}
	return cfg.SilenceThreshold
}

// Commit attempts to take the current utterance as a turn. After the
// readiness check it pauses briefly and rechecks silence, so speech that
// resumed at the last instant keeps the turn open. On success the buffer is
// cleared, the responding flag is set, and the utterance is returned.
func (a *Arbiter) Commit(ctx context.Context, s *Session) (string, bool) {
	if !a.Ready(s) {
		return "", false
	}

	t := time.NewTimer(commitDelay)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
		return "", false
	case <-s.ctx.Done():
		return "", false
	}

	cfg := a.config()
	now := a.clock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if !readyLocked(s, now, cfg) {
		return "", false
	}
	if !s.lastInterim.IsZero() && now.Sub(s.lastInterim) < recheckInterimGap {
		return "", false
	}

	utterance := strings.TrimSpace(s.sttBuffer)
	s.sttBuffer = ""
	s.sttIsFinal = false
	s.lastInterimText = ""
	s.isResponding = true
	return utterance, true
}
