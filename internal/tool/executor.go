package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/voxrelay/voxrelay/internal/store"
	"github.com/voxrelay/voxrelay/pkg/telephony"
	"github.com/voxrelay/voxrelay/pkg/types"
)

// Grace periods before the irreversible telephony operations fire, so the
// agent's closing or hand-off sentence finishes playing first.
const (
	endCallGrace  = 1500 * time.Millisecond
	transferGrace = 3 * time.Second
)

// webhookTimeout bounds a custom tool's webhook round trip.
const webhookTimeout = 10 * time.Second

// Directory resolves custom tools to their webhook endpoints. *store.Store
// implements it.
type Directory interface {
	GetAgentTool(ctx context.Context, agentID, name string) (store.AgentTool, error)
}

// Hooks are callbacks into the live call session. The executor invokes them
// at the points where playback must yield to a telephony action.
type Hooks struct {
	// Interrupt stops in-flight playback: latch the interrupt flag, drain
	// the TTS queue, and clear the gateway's audio buffer. Called before a
	// transfer redirect. May be nil.
	Interrupt func()
}

// Result is the outcome of one executed action, shaped for webhook
// notifications and (for webhook tools) for speaking back to the caller.
type Result struct {
	Success bool `json:"success"`

	// Message is a short human-readable outcome description.
	Message string `json:"message,omitempty"`

	// Response is the text a webhook tool wants spoken to the caller.
	Response string `json:"response,omitempty"`

	// Data is the webhook tool's structured payload.
	Data map[string]any `json:"data,omitempty"`

	// EndedCall and Transferred tell the session loop what happened to the
	// underlying call.
	EndedCall   bool   `json:"ended_call,omitempty"`
	Transferred bool   `json:"transferred,omitempty"`
	Department  string `json:"department,omitempty"`
}

// Executor runs parsed invocations against the telephony control plane and
// custom tool webhooks. Safe for concurrent use.
type Executor struct {
	controller telephony.Controller
	directory  Directory
	client     *http.Client
	logger     *slog.Logger

	depMu       sync.RWMutex
	departments map[string]string

	// test seams
	endCallGrace  time.Duration
	transferGrace time.Duration
}

// ExecutorOption configures an [Executor].
type ExecutorOption func(*Executor)

// WithHTTPClient overrides the HTTP client used for webhook tools.
func WithHTTPClient(c *http.Client) ExecutorOption {
	return func(e *Executor) { e.client = c }
}

// WithLogger overrides the executor's logger.
func WithLogger(l *slog.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = l }
}

// WithGracePeriods overrides the pre-action delays. Tests use this to avoid
// real sleeps.
func WithGracePeriods(endCall, transfer time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.endCallGrace = endCall
		e.transferGrace = transfer
	}
}

// NewExecutor creates an Executor. departments maps department names to the
// phone numbers transfers dial; missing departments fall back to
// [DefaultDepartment]'s entry.
func NewExecutor(controller telephony.Controller, directory Directory, departments map[string]string, opts ...ExecutorOption) *Executor {
	e := &Executor{
		controller:    controller,
		directory:     directory,
		departments:   departments,
		client:        &http.Client{Timeout: webhookTimeout},
		logger:        slog.Default(),
		endCallGrace:  endCallGrace,
		transferGrace: transferGrace,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetDepartments swaps the department transfer map, for config hot reload.
// Transfers already in flight keep the number they resolved.
func (e *Executor) SetDepartments(departments map[string]string) {
	e.depMu.Lock()
	e.departments = departments
	e.depMu.Unlock()
}

// departmentNumber resolves a department to its transfer number, falling back
// to [DefaultDepartment]'s entry. Empty when neither is configured.
func (e *Executor) departmentNumber(department string) string {
	e.depMu.RLock()
	defer e.depMu.RUnlock()
	number, ok := e.departments[department]
	if !ok {
		number = e.departments[DefaultDepartment]
	}
	return number
}

// Execute runs the action. The action must be in proposed or
// awaiting_confirmation state; Execute drives it to completed or failed.
func (e *Executor) Execute(ctx context.Context, action *Action, call types.CallContext, hooks Hooks) (Result, error) {
	if err := action.transition(StatusExecuting); err != nil {
		return Result{}, err
	}

	var (
		result Result
		err    error
	)
	switch action.Invocation.Kind {
	case KindEndCall:
		result, err = e.endCall(ctx, call, action.Invocation.Params["reason"])
	case KindTransfer:
		result, err = e.transfer(ctx, call, action.Invocation.Department, hooks)
	case KindWebhook:
		result, err = e.callWebhookTool(ctx, call, action.Invocation)
	default:
		err = fmt.Errorf("tool: unknown kind %q", action.Invocation.Kind)
	}

	if err != nil {
		action.Status = StatusFailed
		return Result{Success: false, Message: err.Error()}, err
	}
	action.Status = StatusCompleted
	return result, nil
}

// endCall completes the call via the control plane after a short grace so
// the farewell finishes playing.
func (e *Executor) endCall(ctx context.Context, call types.CallContext, reason string) (Result, error) {
	if reason == "" {
		reason = "user_requested"
	}
	e.logger.Info("ending call", "call_id", call.CallID, "reason", reason)

	if err := sleepCtx(ctx, e.endCallGrace); err != nil {
		return Result{}, err
	}
	if err := e.controller.CompleteCall(ctx, call.CallID); err != nil {
		return Result{}, fmt.Errorf("tool: end call: %w", err)
	}
	return Result{
		Success:   true,
		Message:   "Call ended: " + reason,
		EndedCall: true,
	}, nil
}

// transfer redirects the call to a human department. Playback is
// interrupted right before the redirect so the hand-off message is the last
// thing the caller hears.
func (e *Executor) transfer(ctx context.Context, call types.CallContext, department string, hooks Hooks) (Result, error) {
	number := e.departmentNumber(department)
	if number == "" {
		return Result{}, fmt.Errorf("tool: no number configured for department %q", department)
	}
	e.logger.Info("transferring call", "call_id", call.CallID, "department", department)

	if err := sleepCtx(ctx, e.transferGrace); err != nil {
		return Result{}, err
	}
	if hooks.Interrupt != nil {
		hooks.Interrupt()
	}

	if err := e.controller.RedirectCall(ctx, call.CallID, telephony.DialTwiML(number)); err != nil {
		return Result{}, fmt.Errorf("tool: transfer: %w", err)
	}
	return Result{
		Success:     true,
		Message:     "Transferred to " + department,
		Transferred: true,
		Department:  department,
	}, nil
}

// webhookToolPayload is the request body POSTed to a custom tool endpoint.
type webhookToolPayload struct {
	ToolName    string            `json:"tool_name"`
	Parameters  map[string]string `json:"parameters"`
	CallContext types.CallContext `json:"call_context"`
	Timestamp   string            `json:"timestamp"`
}

// webhookToolResponse is the shape a custom tool endpoint may answer with.
type webhookToolResponse struct {
	Response string         `json:"response"`
	Message  string         `json:"message"`
	Data     map[string]any `json:"data"`
}

// callWebhookTool resolves the tool in the agent's directory and POSTs the
// invocation to its webhook.
func (e *Executor) callWebhookTool(ctx context.Context, call types.CallContext, inv Invocation) (Result, error) {
	t, err := e.directory.GetAgentTool(ctx, call.AgentID, inv.Name)
	if err != nil {
		return Result{}, fmt.Errorf("tool: %w", err)
	}
	if t.WebhookURL == "" {
		return Result{}, fmt.Errorf("tool: %q has no webhook url", inv.Name)
	}

	payload := webhookToolPayload{
		ToolName:    inv.Name,
		Parameters:  inv.Params,
		CallContext: call,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, fmt.Errorf("tool: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("tool: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("tool: call %q: %w", inv.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("tool: %q returned status %d", inv.Name, resp.StatusCode)
	}

	var wr webhookToolResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&wr); err != nil {
		return Result{}, fmt.Errorf("tool: decode %q response: %w", inv.Name, err)
	}

	return Result{
		Success:  true,
		Message:  wr.Message,
		Response: wr.Response,
		Data:     wr.Data,
	}, nil
}

// sleepCtx sleeps for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
