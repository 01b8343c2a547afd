// Package twilio implements the telephony.Controller interface against the
// Twilio REST API (2010-04-01). Requests are form-encoded and authenticated
// with HTTP basic auth using the account SID and auth token.
package twilio

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/voxrelay/voxrelay/pkg/telephony"
)

// DefaultBaseURL is the Twilio REST API endpoint.
const DefaultBaseURL = "https://api.twilio.com"

// defaultTimeout bounds every control-plane request. Call control operations
// are small POSTs; anything slower than this indicates a carrier outage and
// the call flow should fail fast.
const defaultTimeout = 15 * time.Second

// Ensure Controller implements the telephony.Controller interface.
var _ telephony.Controller = (*Controller)(nil)

// Controller is a Twilio-backed implementation of telephony.Controller.
// It is safe for concurrent use.
type Controller struct {
	baseURL    string
	accountSID string
	authToken  string
	httpClient *http.Client
}

// Option is a functional option for Controller.
type Option func(*Controller)

// WithBaseURL overrides the Twilio API base URL. Useful for tests.
func WithBaseURL(u string) Option {
	return func(c *Controller) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient replaces the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Controller) {
		c.httpClient = hc
	}
}

// New constructs a Twilio Controller for the given account credentials.
func New(accountSID, authToken string, opts ...Option) (*Controller, error) {
	if accountSID == "" {
		return nil, fmt.Errorf("twilio: accountSID must not be empty")
	}
	if authToken == "" {
		return nil, fmt.Errorf("twilio: authToken must not be empty")
	}

	c := &Controller{
		baseURL:    DefaultBaseURL,
		accountSID: accountSID,
		authToken:  authToken,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// CompleteCall implements telephony.Controller by updating the call resource
// with Status=completed, which hangs up the live call.
func (c *Controller) CompleteCall(ctx context.Context, callSID string) error {
	if callSID == "" {
		return fmt.Errorf("twilio: complete call: callSID must not be empty")
	}
	form := url.Values{}
	form.Set("Status", "completed")

	if _, err := c.postForm(ctx, c.callURL(callSID), form); err != nil {
		return fmt.Errorf("twilio: complete call %s: %w", callSID, err)
	}
	return nil
}

// RedirectCall implements telephony.Controller by updating the call resource
// with a new TwiML document. Twilio stops the current media stream and
// executes the new instructions immediately.
func (c *Controller) RedirectCall(ctx context.Context, callSID string, instructions string) error {
	if callSID == "" {
		return fmt.Errorf("twilio: redirect call: callSID must not be empty")
	}
	if instructions == "" {
		return fmt.Errorf("twilio: redirect call: instructions must not be empty")
	}
	form := url.Values{}
	form.Set("Twiml", instructions)

	if _, err := c.postForm(ctx, c.callURL(callSID), form); err != nil {
		return fmt.Errorf("twilio: redirect call %s: %w", callSID, err)
	}
	return nil
}

// createCallResponse is the subset of Twilio's call resource we read back.
type createCallResponse struct {
	SID string `json:"sid"`
}

// CreateCall implements telephony.Controller by POSTing a new call resource.
func (c *Controller) CreateCall(ctx context.Context, params telephony.CreateCallParams) (string, error) {
	if params.To == "" || params.From == "" {
		return "", fmt.Errorf("twilio: create call: To and From must not be empty")
	}
	if params.AnswerURL == "" {
		return "", fmt.Errorf("twilio: create call: AnswerURL must not be empty")
	}

	form := url.Values{}
	form.Set("To", params.To)
	form.Set("From", params.From)
	form.Set("Url", params.AnswerURL)
	form.Set("Method", http.MethodPost)
	if params.StatusCallbackURL != "" {
		form.Set("StatusCallback", params.StatusCallbackURL)
		form.Set("StatusCallbackMethod", http.MethodPost)
		for _, ev := range []string{"initiated", "ringing", "answered", "completed"} {
			form.Add("StatusCallbackEvent", ev)
		}
	}

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls.json", c.baseURL, c.accountSID)
	body, err := c.postForm(ctx, endpoint, form)
	if err != nil {
		return "", fmt.Errorf("twilio: create call to %s: %w", params.To, err)
	}

	var resp createCallResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("twilio: create call: decode response: %w", err)
	}
	if resp.SID == "" {
		return "", fmt.Errorf("twilio: create call: response missing call sid")
	}
	return resp.SID, nil
}

// callURL returns the resource URL for an individual call.
func (c *Controller) callURL(callSID string) string {
	return fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls/%s.json", c.baseURL, c.accountSID, callSID)
}

// postForm sends an authenticated form-encoded POST and returns the response
// body. Any status outside 2xx is an error carrying the response text.
func (c *Controller) postForm(ctx context.Context, endpoint string, form url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.accountSID, c.authToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}
