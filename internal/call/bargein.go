package call

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/voxrelay/voxrelay/pkg/audio"
)

// Barge-in tuning defaults.
const (
	// DefaultMinEnergy is the absolute RMS floor below which ingress audio
	// is never treated as caller speech.
	DefaultMinEnergy = 500

	// DefaultBaselineFactor scales the adaptive noise baseline into the
	// dynamic interrupt threshold.
	DefaultBaselineFactor = 2.0

	// DefaultMinSpeech is how long speech energy must be sustained before it
	// counts as an interruption.
	DefaultMinSpeech = 100 * time.Millisecond

	// DefaultDebounce is the minimum gap between two interruptions.
	DefaultDebounce = 300 * time.Millisecond
)

// backgroundCeiling caps which frames feed the noise baseline: anything
// louder than max(2·baseline, backgroundCeiling) is presumed speech, not
// background.
const backgroundCeiling = 600

const (
	backgroundRing   = 30 // retained low-energy samples
	backgroundWindow = 20 // samples the baseline update medians over
	speechEnergyRing = 10 // retained loud samples during agent speech
	minLoudSamples   = 2  // loud samples before the speech timer starts
)

// DetectorConfig tunes barge-in detection. Zero values select the defaults
// above.
type DetectorConfig struct {
	// Enabled toggles interrupt handling process-wide. The per-agent
	// InterruptEnabled flag additionally gates each call.
	Enabled bool

	// MinEnergy is the absolute RMS energy floor.
	MinEnergy int

	// BaselineFactor scales the adaptive baseline to form the threshold.
	BaselineFactor float64

	// MinSpeech is the sustained-speech duration before an interrupt fires.
	MinSpeech time.Duration

	// Debounce is the minimum gap between interrupts.
	Debounce time.Duration

	// RequireText demands a non-empty interim transcript in addition to the
	// energy signal. Slower but immune to background noise.
	RequireText bool
}

// withDefaults fills zero fields with the package defaults.
func (cfg DetectorConfig) withDefaults() DetectorConfig {
	if cfg.MinEnergy <= 0 {
		cfg.MinEnergy = DefaultMinEnergy
	}
	if cfg.BaselineFactor <= 0 {
		cfg.BaselineFactor = DefaultBaselineFactor
	}
	if cfg.MinSpeech <= 0 {
		cfg.MinSpeech = DefaultMinSpeech
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	return cfg
}

// Detector evaluates ingress audio energy against an adaptive noise
// baseline and fires the session's interrupt when the caller talks over the
// agent. The rolling energy state lives on the Session so it is torn down
// with the call.
type Detector struct {
	mu    sync.RWMutex
	cfg   DetectorConfig
	clock func() time.Time
}

// NewDetector builds a Detector, filling zero config fields with defaults.
func NewDetector(cfg DetectorConfig) *Detector {
	return &Detector{cfg: cfg.withDefaults(), clock: time.Now}
}

// SetConfig swaps the barge-in tuning, for config hot reload. Frames already
// in flight keep the snapshot they started with.
func (d *Detector) SetConfig(cfg DetectorConfig) {
	d.mu.Lock()
	d.cfg = cfg.withDefaults()
	d.mu.Unlock()
}

func (d *Detector) config() DetectorConfig {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg
}

// Process evaluates one ingress μ-law frame. While the agent is silent the
// frame feeds the adaptive baseline; while the agent is speaking it is
// tested against the interrupt threshold. Returns true when an interrupt
// fired.
func (d *Detector) Process(s *Session, frame []byte) bool {
	cfg := d.config()
	energy := audio.RMS(audio.UlawToPCM16(frame))
	now := d.clock()

	s.mu.Lock()

	if !s.agentSpeaking {
		d.updateBaselineLocked(s, energy)
		s.mu.Unlock()
		return false
	}

	if !cfg.Enabled || !s.agent.InterruptEnabled || s.interrupted {
		s.mu.Unlock()
		return false
	}

	threshold := math.Max(s.baseline*cfg.BaselineFactor, float64(cfg.MinEnergy))
	if float64(energy) <= threshold {
		// Energy dropped: the run of loud frames is over.
		s.speechEnergy = s.speechEnergy[:0]
		s.energySpeechAt = time.Time{}
		s.mu.Unlock()
		return false
	}

	s.speechEnergy = append(s.speechEnergy, energy)
	if len(s.speechEnergy) > speechEnergyRing {
		s.speechEnergy = s.speechEnergy[len(s.speechEnergy)-speechEnergyRing:]
	}
	if len(s.speechEnergy) >= minLoudSamples && s.energySpeechAt.IsZero() {
		s.energySpeechAt = now
	}

	fire := !s.energySpeechAt.IsZero() &&
		now.Sub(s.energySpeechAt) >= cfg.MinSpeech &&
		(s.lastInterruptAt.IsZero() || now.Sub(s.lastInterruptAt) >= cfg.Debounce)
	if fire && cfg.RequireText && strings.TrimSpace(s.lastInterimText) == "" {
		fire = false
	}
	if !fire {
		s.mu.Unlock()
		return false
	}

	s.lastInterruptAt = now
	s.mu.Unlock()

	s.Interrupt()
	return true
}

// updateBaselineLocked folds a quiet frame into the noise estimate. The
// baseline moves by a smoothed fraction of the window median, so one loud
// outlier cannot drag it. Caller holds s.mu.
func (d *Detector) updateBaselineLocked(s *Session, energy int) {
	if float64(energy) >= math.Max(2*s.baseline, backgroundCeiling) {
		return
	}
	s.background = append(s.background, energy)
	if len(s.background) > backgroundRing {
		s.background = s.background[len(s.background)-backgroundRing:]
	}
	if len(s.background) < backgroundWindow {
		return
	}
	window := s.background[len(s.background)-backgroundWindow:]
	s.baseline = 0.7*s.baseline + 0.3*median(window)
}

// Baseline returns the session's current noise estimate. Exposed for
// diagnostics.
func (d *Detector) Baseline(s *Session) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseline
}

func median(values []int) float64 {
	sorted := make([]int, len(values))
	copy(sorted, values)
	sort.Ints(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return float64(sorted[n/2])
	}
	return float64(sorted[n/2-1]+sorted[n/2]) / 2
}
