// Package mock provides a test double for the telephony.Controller interface.
package mock

import (
	"context"
	"sync"

	"github.com/voxrelay/voxrelay/pkg/telephony"
)

// RedirectCall records a single invocation of RedirectCall.
type RedirectCall struct {
	// CallSID is the call that was redirected.
	CallSID string
	// Instructions is the instruction document passed to RedirectCall.
	Instructions string
}

// CreateCall records a single invocation of CreateCall.
type CreateCall struct {
	// Params are the outbound call parameters.
	Params telephony.CreateCallParams
}

// Controller is a mock implementation of telephony.Controller.
type Controller struct {
	mu sync.Mutex

	// CompleteErr, if non-nil, is returned from CompleteCall.
	CompleteErr error

	// RedirectErr, if non-nil, is returned from RedirectCall.
	RedirectErr error

	// CreateSID is the call SID returned from CreateCall. Defaults to
	// "CA-mock".
	CreateSID string

	// CreateErr, if non-nil, is returned from CreateCall.
	CreateErr error

	// CompletedSIDs records the call SIDs passed to CompleteCall in order.
	CompletedSIDs []string

	// RedirectCalls records every call to RedirectCall in order.
	RedirectCalls []RedirectCall

	// CreateCalls records every call to CreateCall in order.
	CreateCalls []CreateCall
}

// CompleteCall records the call and returns CompleteErr.
func (c *Controller) CompleteCall(ctx context.Context, callSID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CompletedSIDs = append(c.CompletedSIDs, callSID)
	return c.CompleteErr
}

// RedirectCall records the call and returns RedirectErr.
func (c *Controller) RedirectCall(ctx context.Context, callSID string, instructions string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.RedirectCalls = append(c.RedirectCalls, RedirectCall{CallSID: callSID, Instructions: instructions})
	return c.RedirectErr
}

// CreateCall records the call and returns CreateSID, CreateErr.
func (c *Controller) CreateCall(ctx context.Context, params telephony.CreateCallParams) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CreateCalls = append(c.CreateCalls, CreateCall{Params: params})
	if c.CreateErr != nil {
		return "", c.CreateErr
	}
	if c.CreateSID == "" {
		return "CA-mock", nil
	}
	return c.CreateSID, nil
}

// Reset clears all recorded calls. Thread-safe.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CompletedSIDs = nil
	c.RedirectCalls = nil
	c.CreateCalls = nil
}

// Ensure Controller implements telephony.Controller at compile time.
var _ telephony.Controller = (*Controller)(nil)
