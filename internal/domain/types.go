package domain

import (
	"errors"
	"strings"
)

// ErrValidation matches every *ValidationError via errors.Is.
var ErrValidation = errors.New("validation failed")

// ValidationError reports a malformed message or bad constructor argument.
// It is the caller's bug and never worth retrying.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return "validation failed: " + e.Field + ": " + e.Reason
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func Required(field string) *ValidationError {
	return &ValidationError{Field: field, Reason: "is required"}
}

// Message is an outbound or inbound SMS. ID stays empty until the carrier
// assigns one.
type Message struct {
	To   string `json:"to"`
	From string `json:"from,omitempty"`
	Text string `json:"text"`
	ID   string `json:"id,omitempty"`
}

func (m *Message) Validate() error {
	if m == nil {
		return &ValidationError{Reason: "message is nil"}
	}
	if strings.TrimSpace(m.To) == "" {
		return Required("to")
	}
	if strings.TrimSpace(m.Text) == "" {
		return Required("text")
	}
	return nil
}

type SendSMSRequest struct {
	To   string `json:"to"`
	From string `json:"from,omitempty"`
	Text string `json:"text"`
}

type SendSMSResponse struct {
	MessageID string `json:"messageId,omitempty"`
	To        string `json:"to"`
	From      string `json:"from"`
}

type SendBatchRequest struct {
	Messages []SendSMSRequest `json:"messages"`
}

type SendBatchResponse struct {
	Sent []SendSMSResponse `json:"sent"`
}
