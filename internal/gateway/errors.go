package gateway

import (
	"fmt"
)

// Cause tells transport failures apart from carrier rejections.
type Cause string

const (
	CauseTransport Cause = "transport"
	CauseCarrier   Cause = "carrier"
	CauseAuth      Cause = "auth"
)

// SendError is returned when a message could not be handed to the carrier.
// Body carries the raw carrier response, when there was one.
type SendError struct {
	Cause      Cause
	StatusCode int
	Message    string
	Body       string
	Err        error
}

func (e *SendError) Error() string {
	switch {
	case e.Message != "":
		return fmt.Sprintf("sms send failed (%s): %s", e.Cause, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("sms send failed (%s): %v", e.Cause, e.Err)
	default:
		return fmt.Sprintf("sms send failed (%s)", e.Cause)
	}
}

func (e *SendError) Unwrap() error { return e.Err }

// ReceiveError reports an inbound payload that cannot be understood. The
// webhook event should be dropped, not retried.
type ReceiveError struct {
	Reason  string
	Payload map[string]any
	Body    string
	Err     error
}

func (e *ReceiveError) Error() string {
	return "sms receive failed: " + e.Reason
}

func (e *ReceiveError) Unwrap() error { return e.Err }

// BatchError locates the message that aborted SendBatch.
type BatchError struct {
	Index int
	Err   error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch aborted at message %d: %v", e.Index, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }
