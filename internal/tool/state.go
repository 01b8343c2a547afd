package tool

import "fmt"

// Status tracks an action through its lifecycle:
//
//	proposed → awaiting_confirmation → executing → completed | failed
//
// Actions that need no confirmation skip straight from proposed to
// executing.
type Status string

const (
	StatusProposed             Status = "proposed"
	StatusAwaitingConfirmation Status = "awaiting_confirmation"
	StatusExecuting            Status = "executing"
	StatusCompleted            Status = "completed"
	StatusFailed               Status = "failed"
)

// Action is an invocation plus its lifecycle status. One Action lives on a
// call session at a time; a new proposal replaces an abandoned one.
type Action struct {
	Invocation Invocation
	Status     Status
}

// NewAction wraps a parsed invocation. Actions requiring confirmation start
// in awaiting_confirmation, everything else in proposed.
func NewAction(inv Invocation) *Action {
	status := StatusProposed
	if inv.RequiresConfirmation {
		status = StatusAwaitingConfirmation
	}
	return &Action{Invocation: inv, Status: status}
}

// transition moves the action to next, enforcing the legal edges.
func (a *Action) transition(next Status) error {
	ok := false
	switch a.Status {
	case StatusProposed:
		ok = next == StatusAwaitingConfirmation || next == StatusExecuting
	case StatusAwaitingConfirmation:
		ok = next == StatusExecuting || next == StatusFailed
	case StatusExecuting:
		ok = next == StatusCompleted || next == StatusFailed
	}
	if !ok {
		return fmt.Errorf("tool: illegal transition %s → %s", a.Status, next)
	}
	a.Status = next
	return nil
}
