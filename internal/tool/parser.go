// Package tool detects, validates, and executes the actions an LLM response
// can request: hanging up, transferring to a human department, or calling a
// custom webhook-backed tool. Actions move through a small state machine so
// destructive ones (transfer) wait for the caller's spoken confirmation.
package tool

import (
	"fmt"
	"regexp"
	"strings"
)

// Kind discriminates the built-in actions from custom webhook tools.
type Kind string

const (
	KindEndCall  Kind = "end_call"
	KindTransfer Kind = "transfer"
	KindWebhook  Kind = "webhook"
)

// ValidDepartments are the transfer targets an LLM may name. Anything else
// is rejected at parse time.
var ValidDepartments = []string{"sales", "support", "technical"}

// DefaultDepartment is used when a transfer marker omits the department.
const DefaultDepartment = "sales"

// Invocation is one parsed tool request.
type Invocation struct {
	// Kind selects the action.
	Kind Kind

	// Name is the custom tool's name; set only for KindWebhook.
	Name string

	// Department is the transfer target; set only for KindTransfer.
	Department string

	// Params carries positional parameters for webhook tools ("param1",
	// "param2", …) and the hangup reason for KindEndCall.
	Params map[string]string

	// RequiresConfirmation marks actions proposed with [CONFIRM_TOOL:…];
	// they wait for a spoken yes before executing.
	RequiresConfirmation bool
}

var (
	toolRE    = regexp.MustCompile(`\[TOOL:([^\]]+)\]`)
	confirmRE = regexp.MustCompile(`\[CONFIRM_TOOL:([^\]]+)\]`)
	markerRE  = regexp.MustCompile(`\[(?:TOOL|CONFIRM_TOOL):[^\]]+\]`)
)

// StripMarkers removes tool markers from text. The pipeline applies it to
// every streamed token so markers are never spoken.
func StripMarkers(text string) string {
	return markerRE.ReplaceAllString(text, "")
}

// Parse scans a complete LLM response for a tool marker. It returns the
// response with all markers removed and, when a valid marker was found, the
// parsed invocation.
//
// [CONFIRM_TOOL:…] takes precedence over [TOOL:…] and only supports
// transfers. A marker naming an invalid department yields no invocation.
func Parse(text string) (string, *Invocation, error) {
	clean := strings.TrimSpace(StripMarkers(text))

	if m := confirmRE.FindStringSubmatch(text); m != nil {
		inv, err := parseMarker(m[1], true)
		if err != nil {
			return clean, nil, err
		}
		// Only transfers are confirmable; other confirm markers are noise.
		if inv != nil && inv.Kind != KindTransfer {
			return clean, nil, nil
		}
		return clean, inv, nil
	}

	if m := toolRE.FindStringSubmatch(text); m != nil {
		inv, err := parseMarker(m[1], false)
		return clean, inv, err
	}

	return clean, nil, nil
}

// parseMarker interprets the colon-separated marker body.
func parseMarker(body string, confirm bool) (*Invocation, error) {
	parts := strings.Split(body, ":")
	name := strings.TrimSpace(parts[0])

	switch name {
	case "end_call":
		return &Invocation{
			Kind:   KindEndCall,
			Params: map[string]string{"reason": "user_requested"},
		}, nil

	case "transfer":
		department := DefaultDepartment
		if len(parts) > 1 {
			department = strings.TrimSpace(parts[1])
		}
		if !validDepartment(department) {
			return nil, fmt.Errorf("tool: invalid transfer department %q", department)
		}
		return &Invocation{
			Kind:                 KindTransfer,
			Department:           department,
			RequiresConfirmation: confirm,
		}, nil

	default:
		if name == "" {
			return nil, nil
		}
		params := map[string]string{}
		for i, part := range parts[1:] {
			params[fmt.Sprintf("param%d", i+1)] = strings.TrimSpace(part)
		}
		return &Invocation{
			Kind:                 KindWebhook,
			Name:                 name,
			Params:               params,
			RequiresConfirmation: confirm,
		}, nil
	}
}

func validDepartment(d string) bool {
	for _, v := range ValidDepartments {
		if d == v {
			return true
		}
	}
	return false
}
