package dialog

import (
	"regexp"
	"strings"
)

// MaxSentences caps how many sentences one response may hand to TTS. Long
// generations past the cap are cut off; callers should stop consuming the
// token stream once [Shaper.Done] reports true.
const MaxSentences = 10

// strayTagRE matches a remainder that is nothing but a bracketed tag
// fragment, e.g. a tool marker the per-token strip left dangling. Such
// remainders are not speakable.
var strayTagRE = regexp.MustCompile(`^\s*\[\w+:[^\]]*\]\s*$`)

// Shaper accumulates streamed LLM tokens and emits complete, TTS-ready
// sentences. A sentence completes when the buffer ends with terminal
// punctuation ('.', '?', '!'); each emitted sentence has markdown stripped
// via [CleanMarkdown]. Not safe for concurrent use; one Shaper serves one
// generation.
type Shaper struct {
	buf   strings.Builder
	count int
	max   int
}

// NewShaper returns a Shaper capped at maxSentences; zero or negative
// selects [MaxSentences].
func NewShaper(maxSentences int) *Shaper {
	if maxSentences <= 0 {
		maxSentences = MaxSentences
	}
	return &Shaper{max: maxSentences}
}

// Feed appends one token and returns a completed sentence, if any. The
// second return is false while the sentence is still forming or when the
// completed buffer cleans down to nothing.
func (s *Shaper) Feed(token string) (string, bool) {
	if s.Done() {
		return "", false
	}
	s.buf.WriteString(token)

	text := s.buf.String()
	trimmed := strings.TrimRight(text, " \t\r\n")
	if trimmed == "" || !isTerminal(trimmed[len(trimmed)-1]) {
		return "", false
	}

	s.buf.Reset()
	sentence := CleanMarkdown(strings.TrimSpace(text))
	if sentence == "" {
		return "", false
	}
	s.count++
	return sentence, true
}

// Flush returns the cleaned trailing remainder that never reached terminal
// punctuation, or "" when there is nothing speakable left.
func (s *Shaper) Flush() string {
	rest := strings.TrimSpace(s.buf.String())
	s.buf.Reset()
	if rest == "" || strayTagRE.MatchString(rest) {
		return ""
	}
	return CleanMarkdown(rest)
}

// Count reports how many sentences have been emitted.
func (s *Shaper) Count() int { return s.count }

// Done reports whether the sentence cap has been reached.
func (s *Shaper) Done() bool { return s.count >= s.max }

func isTerminal(b byte) bool {
	return b == '.' || b == '?' || b == '!'
}
