package dialog_test

import (
	"testing"

	"github.com/voxrelay/voxrelay/internal/dialog"
	"github.com/voxrelay/voxrelay/pkg/types"
)

func TestDetectIntent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text string
		want types.Intent
	}{
		{"bye", types.IntentGoodbye},
		{"Goodbye!", types.IntentGoodbye},
		{"okay that's all thanks", types.IntentGoodbye},
		{"I'll talk later", types.IntentGoodbye},
		{"please end the call", types.IntentGoodbye},
		{"what are your opening hours", types.IntentQuestion},
		{"", types.IntentQuestion},
		{"can I buy something", types.IntentQuestion},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			if got := dialog.DetectIntent(tt.text); got != tt.want {
				t.Errorf("DetectIntent(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestDetectConfirmation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text    string
		want    dialog.Confirmation
		decided bool
	}{
		{"yes", dialog.ConfirmYes, true},
		{"yes please", dialog.ConfirmYes, true},
		{"Sure, go ahead", dialog.ConfirmYes, true},
		{"absolutely", dialog.ConfirmYes, true},
		{"transfer me", dialog.ConfirmYes, true},
		{"no", dialog.ConfirmNo, true},
		{"nope", dialog.ConfirmNo, true},
		{"not right now", dialog.ConfirmNo, true},
		{"hold on", dialog.ConfirmNo, true},
		{"cancel that", dialog.ConfirmNo, true},
		// Negation guard: a yes word inside a negated utterance is not a yes.
		{"not okay", dialog.ConfirmNo, true},
		{"no thanks", dialog.ConfirmNo, true},
		// Neither: caller treats as a fresh question.
		{"what time is it", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, decided := dialog.DetectConfirmation(tt.text)
			if decided != tt.decided {
				t.Fatalf("DetectConfirmation(%q) decided = %v, want %v", tt.text, decided, tt.decided)
			}
			if decided && got != tt.want {
				t.Errorf("DetectConfirmation(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestDetectConfirmation_PhoneticTolerance(t *testing.T) {
	t.Parallel()

	// ASR misspellings of single words should still resolve by sound even
	// when no configured phrase matches as a substring.
	if got, decided := dialog.DetectConfirmation("yas"); !decided || got != dialog.ConfirmYes {
		t.Errorf("DetectConfirmation(yas) = %q/%v, want yes", got, decided)
	}
	if got, decided := dialog.DetectConfirmation("kancel"); !decided || got != dialog.ConfirmNo {
		t.Errorf("DetectConfirmation(kancel) = %q/%v, want no", got, decided)
	}

	// Multi-word utterances never take the phonetic path.
	if _, decided := dialog.DetectConfirmation("yas indeed friend"); decided {
		t.Error("multi-word phonetic utterance should be undecided")
	}
}
