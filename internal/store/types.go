package store

import "time"

type InboundMessage struct {
	EventID      string
	CarrierMsgID string
	Protocol     string
	To           string
	From         string
	Text         string
	Payload      any
	ReceivedAt   time.Time
}

type DeliveryReport struct {
	EventID      string
	CarrierMsgID string
	Status       string
	RawStatus    string
	Payload      any
	ReceivedAt   time.Time
}

type MessageStatus struct {
	CarrierMsgID string
	Status       string
	RawStatus    string
	UpdatedAt    time.Time
}

// ReportResult says what InsertDeliveryReport did.
type ReportResult struct {
	// Duplicate is set when the event id was already archived.
	Duplicate bool
	// Applied is set when message_status now reflects the report.
	Applied bool
}
