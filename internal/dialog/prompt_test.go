package dialog_test

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/voxrelay/voxrelay/internal/dialog"
	"github.com/voxrelay/voxrelay/pkg/types"
)

func TestComposePrompt_AgentPrompt(t *testing.T) {
	t.Parallel()

	in := dialog.PromptInput{
		SystemPrompt: "You are the reception agent for Acme Dental.",
		Call: types.CallContext{
			CallID:     "CA123",
			Phase:      types.PhaseActive,
			LastIntent: types.IntentQuestion,
			DynamicVariables: map[string]string{
				"name":  "Alice",
				"plan":  "premium",
				"empty": "  ",
			},
		},
		Context:   "Opening hours are 9 to 5.",
		History:   []types.Turn{{User: "hi", Assistant: "hello"}},
		Utterance: "when do you open?",
		Now:       time.Date(2026, 8, 25, 15, 0, 0, 0, time.UTC),
	}

	prompt := dialog.ComposePrompt(in)

	for _, want := range []string{
		"You are the reception agent for Acme Dental.",
		"LIVE PHONE CALL",
		"Current call phase: ACTIVE",
		"Detected user intent: QUESTION",
		"Today is Tuesday, August 25, 2026.",
		"- **name**: Alice",
		"- **plan**: premium",
		"Opening hours are 9 to 5.",
		"User: hi\nAssistant: hello",
		"## User's Current Question:\nwhen do you open?",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q\n%s", want, prompt)
		}
	}
	if strings.Contains(prompt, "empty") {
		t.Error("blank dynamic variables should be omitted")
	}
}

func TestComposePrompt_NoContextPlaceholder(t *testing.T) {
	t.Parallel()

	prompt := dialog.ComposePrompt(dialog.PromptInput{
		SystemPrompt: "Agent prompt.",
		Utterance:    "hello?",
	})
	if !strings.Contains(prompt, "No specific context found.") {
		t.Error("missing empty-context placeholder")
	}
}

func TestComposePrompt_DefaultPersona(t *testing.T) {
	t.Parallel()

	prompt := dialog.ComposePrompt(dialog.PromptInput{Utterance: "hi there"})

	for _, want := range []string{
		"friendly voice assistant",
		"PHONE PERSONALITY",
		"No specific context.",
		"This is the start of the call.",
		"hi there",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("default prompt missing %q", want)
		}
	}
}

func TestComposePrompt_HistoryWindow(t *testing.T) {
	t.Parallel()

	var history []types.Turn
	for i := 0; i < 10; i++ {
		history = append(history, types.Turn{
			User:      fmt.Sprintf("question %d", i),
			Assistant: fmt.Sprintf("answer %d", i),
		})
	}

	prompt := dialog.ComposePrompt(dialog.PromptInput{
		SystemPrompt: "Agent.",
		History:      history,
		Utterance:    "next",
	})

	if strings.Contains(prompt, "question 3") {
		t.Error("turn outside the window leaked into the prompt")
	}
	if !strings.Contains(prompt, "question 4") || !strings.Contains(prompt, "question 9") {
		t.Error("recent turns missing from the prompt")
	}
}

func TestRenderGreeting(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		greeting string
		vars     map[string]string
		want     string
	}{
		{
			name:     "substitution",
			greeting: "Hi {{name}}, welcome to {{company}}!",
			vars:     map[string]string{"name": "Alice", "company": "Acme"},
			want:     "Hi Alice, welcome to Acme!",
		},
		{
			name:     "unknown placeholder kept",
			greeting: "Hi {{name}}!",
			vars:     nil,
			want:     "Hi {{name}}!",
		},
		{
			name:     "empty falls back",
			greeting: "   ",
			vars:     map[string]string{"name": "Alice"},
			want:     dialog.DefaultGreeting,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := dialog.RenderGreeting(tt.greeting, tt.vars); got != tt.want {
				t.Errorf("RenderGreeting = %q, want %q", got, tt.want)
			}
		})
	}
}
