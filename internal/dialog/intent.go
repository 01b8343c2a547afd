package dialog

import (
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/voxrelay/voxrelay/pkg/types"
)

// Farewell is spoken before hanging up when the user says goodbye.
const Farewell = "Thanks for your time. Have a great day."

// goodbyePhrases end the call when they appear anywhere in a committed
// utterance.
var goodbyePhrases = []string{
	"bye", "goodbye", "end the call", "that's all", "talk later",
}

// DetectIntent classifies a committed user utterance. Only GOODBYE is
// detected explicitly; everything else is a QUESTION handled by generation.
func DetectIntent(text string) types.Intent {
	t := strings.ToLower(strings.TrimSpace(text))
	for _, phrase := range goodbyePhrases {
		if strings.Contains(t, phrase) {
			return types.IntentGoodbye
		}
	}
	return types.IntentQuestion
}

// Confirmation is the user's answer to a pending action proposal.
type Confirmation string

const (
	ConfirmYes Confirmation = "yes"
	ConfirmNo  Confirmation = "no"
)

var yesPhrases = []string{
	"yes", "yeah", "yep", "yup", "sure", "okay", "ok", "please",
	"go ahead", "do it", "that's fine", "sounds good",
	"yes please", "yeah please", "sure thing", "absolutely",
	"correct", "right", "affirmative", "proceed", "transfer me",
	"let's do it", "fine", "alright", "all right",
}

var noPhrases = []string{
	"no", "nope", "nah", "not yet", "not now", "maybe later",
	"don't", "wait", "hold on", "cancel", "never mind",
	"not right now", "i'll think about it", "let me think",
	"not really", "not interested",
}

// Single words whose phonetic shape alone is unambiguous enough to accept
// when ASR garbles the spelling ("yess", "shure", "noo").
var (
	phoneticYes = []string{"yes", "yeah", "sure", "okay", "correct", "absolutely"}
	phoneticNo  = []string{"no", "nope", "cancel", "wait"}
)

// DetectConfirmation decides whether a user utterance confirms or rejects a
// pending action. The second return is false when the utterance is neither —
// the caller then treats it as a new question and drops the pending action.
//
// Matching is substring-based over the lowercased utterance, with a negation
// guard so "not okay" or "no thanks" never counts as yes. When no phrase
// matches, single-word utterances get one more chance through Double
// Metaphone so common ASR misspellings still resolve.
func DetectConfirmation(text string) (Confirmation, bool) {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" {
		return "", false
	}

	negated := strings.Contains(t, "not ") || strings.HasPrefix(t, "no ")
	for _, phrase := range yesPhrases {
		if strings.Contains(t, phrase) && !negated {
			return ConfirmYes, true
		}
	}
	for _, phrase := range noPhrases {
		if strings.Contains(t, phrase) {
			return ConfirmNo, true
		}
	}

	if !strings.ContainsRune(t, ' ') {
		if phoneticMatch(t, phoneticYes) {
			return ConfirmYes, true
		}
		if phoneticMatch(t, phoneticNo) {
			return ConfirmNo, true
		}
	}
	return "", false
}

// phoneticMatch reports whether word sounds like any of the candidates under
// Double Metaphone.
func phoneticMatch(word string, candidates []string) bool {
	p1, p2 := matchr.DoubleMetaphone(word)
	if p1 == "" && p2 == "" {
		return false
	}
	for _, c := range candidates {
		c1, c2 := matchr.DoubleMetaphone(c)
		if (p1 != "" && (p1 == c1 || p1 == c2)) || (p2 != "" && (p2 == c1 || p2 == c2)) {
			return true
		}
	}
	return false
}
