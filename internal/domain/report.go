package domain

import "strings"

type DeliveryStatus string

const (
	StatusQueued    DeliveryStatus = "queued"
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusFailed    DeliveryStatus = "failed"
	StatusUnknown   DeliveryStatus = "unknown"
)

// ParseStatus maps a carrier status string onto the normalized set.
// Anything unrecognized is StatusUnknown.
func ParseStatus(raw string) DeliveryStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "queued", "pending", "accepted", "buffered", "scheduled":
		return StatusQueued
	case "sent", "submitted", "sending":
		return StatusSent
	case "delivered", "delivrd":
		return StatusDelivered
	case "failed", "undelivered", "undeliv", "rejected", "rejectd", "expired", "error":
		return StatusFailed
	default:
		return StatusUnknown
	}
}

// Rank orders statuses along the delivery lifecycle. A report whose rank is
// lower than the stored one arrived out of order.
func (s DeliveryStatus) Rank() int {
	switch s {
	case StatusQueued:
		return 1
	case StatusSent:
		return 2
	case StatusDelivered, StatusFailed:
		return 3
	default:
		return 0
	}
}

// Final reports whether no further status transitions are expected.
func (s DeliveryStatus) Final() bool {
	return s == StatusDelivered || s == StatusFailed
}

// DeliveryReport is a carrier status update for a previously sent message.
// RawStatus keeps the carrier's own wording for diagnostics.
type DeliveryReport struct {
	MessageID string         `json:"messageId"`
	Status    DeliveryStatus `json:"status"`
	RawStatus string         `json:"rawStatus,omitempty"`
}

func NewDeliveryReport(messageID, rawStatus string) (DeliveryReport, error) {
	messageID = strings.TrimSpace(messageID)
	rawStatus = strings.TrimSpace(rawStatus)
	if messageID == "" {
		return DeliveryReport{}, Required("message_id")
	}
	if rawStatus == "" {
		return DeliveryReport{}, Required("status")
	}
	return DeliveryReport{
		MessageID: messageID,
		Status:    ParseStatus(rawStatus),
		RawStatus: rawStatus,
	}, nil
}
