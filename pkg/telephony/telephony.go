// Package telephony defines the control-plane interface to the telephony
// carrier that terminates phone calls and bridges their audio onto the media
// WebSocket.
//
// The media plane (bidirectional audio frames) is handled elsewhere; this
// package only covers the REST-style operations a live call needs: hanging
// up, redirecting to new call instructions (e.g., dialing a transfer target),
// and placing outbound calls.
package telephony

import "context"

// CreateCallParams are the parameters for placing an outbound call.
type CreateCallParams struct {
	// To is the destination phone number in E.164 format.
	To string
	// From is the caller ID, a number owned on the carrier account.
	From string
	// AnswerURL is fetched by the carrier when the callee answers; it must
	// return call instructions that connect the media stream.
	AnswerURL string
	// StatusCallbackURL, if non-empty, receives lifecycle status updates
	// (initiated, ringing, answered, completed).
	StatusCallbackURL string
}

// Controller is the abstraction over a telephony carrier's call control API.
//
// Implementations must be safe for concurrent use.
type Controller interface {
	// CompleteCall hangs up the identified in-progress call.
	CompleteCall(ctx context.Context, callSID string) error

	// RedirectCall replaces the call's current instructions with the given
	// instruction document (e.g., TwiML dialing a transfer number). The
	// media stream attached to the call is torn down by the carrier.
	RedirectCall(ctx context.Context, callSID string, instructions string) error

	// CreateCall places an outbound call and returns the carrier-assigned
	// call SID.
	CreateCall(ctx context.Context, params CreateCallParams) (string, error)
}

// DialTwiML returns an instruction document that dials the given number,
// for use with Controller.RedirectCall during a warm transfer.
func DialTwiML(number string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<Response>
    <Dial>` + number + `</Dial>
</Response>`
}
