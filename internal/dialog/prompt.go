package dialog

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/voxrelay/voxrelay/pkg/types"
)

// DefaultGreeting is spoken when an agent has no greeting configured.
const DefaultGreeting = "Hello! How can I help you today?"

// historyWindow caps how many recent turns the prompt carries.
const historyWindow = 6

// nyLocation is the timezone used for the prompt's current-date line so the
// agent quotes business hours and dates consistently regardless of where the
// process runs.
var nyLocation = func() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.UTC
	}
	return loc
}()

// PromptInput carries everything the composer needs for one generation.
type PromptInput struct {
	// SystemPrompt is the agent's instruction block. Empty selects the
	// built-in receptionist persona.
	SystemPrompt string

	// Call identifies the live call; its phase, last intent, and dynamic
	// variables feed the context block.
	Call types.CallContext

	// Context is the retrieved knowledge-base text, one chunk per line.
	Context string

	// History is the conversation so far; only the most recent turns are
	// included.
	History []types.Turn

	// Utterance is the user's committed question.
	Utterance string

	// Now overrides the clock; zero means time.Now. Tests use it.
	Now time.Time
}

// ComposePrompt renders the full generation prompt: system instructions, the
// live-call context block, today's date, dynamic variables, retrieved
// knowledge, recent history, and the user's question.
func ComposePrompt(in PromptInput) string {
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	date := now.In(nyLocation).Format("Monday, January 2, 2006")

	context := strings.TrimSpace(in.Context)
	history := formatHistory(in.History)

	if in.SystemPrompt == "" {
		return composeDefaultPrompt(in, date, context, history)
	}

	var b strings.Builder
	b.WriteString(in.SystemPrompt)
	b.WriteString("\n\n## CALL CONTEXT (VERY IMPORTANT)\n")
	b.WriteString("You are on a LIVE PHONE CALL with a real person.\n")
	b.WriteString("- DO NOT include stage directions or markdown\n")
	b.WriteString("- Speak briefly and naturally\n")
	fmt.Fprintf(&b, "Current call phase: %s\n", in.Call.Phase)
	fmt.Fprintf(&b, "Detected user intent: %s\n", in.Call.LastIntent)

	fmt.Fprintf(&b, "\n## Current Date (America/New_York):\nToday is %s.\n", date)

	if vars := formatDynamicVars(in.Call.DynamicVariables); vars != "" {
		b.WriteString("\n## Lead/Customer Information:\n")
		b.WriteString(vars)
		b.WriteString("\n")
	}

	b.WriteString("\n## Knowledge Base Context:\n")
	if context != "" {
		b.WriteString(context)
	} else {
		b.WriteString("No specific context found.")
	}
	b.WriteString("\n")

	b.WriteString("\n## Current conversation history:\n")
	b.WriteString(history)
	b.WriteString("\n")

	b.WriteString("\n## User's Current Question:\n")
	b.WriteString(in.Utterance)
	return b.String()
}

// composeDefaultPrompt is the fallback persona for calls without an agent
// system prompt.
func composeDefaultPrompt(in PromptInput, date, context, history string) string {
	if context == "" {
		context = "No specific context."
	}
	if history == "" {
		history = "This is the start of the call."
	}
	return fmt.Sprintf(`You are a friendly voice assistant.
## Current Date:
Today is %s.

## PHONE PERSONALITY:
- You're on a LIVE phone call
- Keep responses BRIEF (1-2 sentences max)
- Sound conversational, not scripted

## Knowledge Base:
%s

## Previous Conversation:
%s

## What they just said:
%s

Respond naturally and briefly:`, date, context, history, in.Utterance)
}

// formatHistory renders the last turns as alternating User/Assistant lines.
func formatHistory(history []types.Turn) string {
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	lines := make([]string, 0, len(history))
	for _, turn := range history {
		lines = append(lines, fmt.Sprintf("User: %s\nAssistant: %s", turn.User, turn.Assistant))
	}
	return strings.Join(lines, "\n")
}

// formatDynamicVars renders non-empty variables as a bullet list. Returns ""
// when nothing is set.
func formatDynamicVars(vars map[string]string) string {
	if len(vars) == 0 {
		return ""
	}
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	// Deterministic ordering keeps prompts reproducible across turns.
	sort.Strings(keys)
	var lines []string
	for _, k := range keys {
		if strings.TrimSpace(vars[k]) == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("- **%s**: %s", k, vars[k]))
	}
	return strings.Join(lines, "\n")
}

// RenderGreeting substitutes {{var}} placeholders in the greeting from the
// call's dynamic variables. Unknown placeholders are left untouched. An empty
// greeting falls back to [DefaultGreeting].
func RenderGreeting(greeting string, vars map[string]string) string {
	if strings.TrimSpace(greeting) == "" {
		return DefaultGreeting
	}
	for k, v := range vars {
		greeting = strings.ReplaceAll(greeting, "{{"+k+"}}", v)
	}
	return greeting
}
