package gateway

import (
	"fmt"
	"strings"

	"smsgw/internal/carrier"
	"smsgw/internal/domain"
)

// DecodeWebhook turns a raw webhook body into a payload mapping.
func DecodeWebhook(body []byte) (map[string]any, error) {
	data, err := carrier.DecodePayload(body)
	if err != nil {
		return nil, &ReceiveError{Reason: "payload is not a JSON object", Body: string(body), Err: err}
	}
	return data, nil
}

// ReceiveMessage parses an inbound message using the active protocol's
// field names. Missing fields are an error; no placeholder values are
// substituted.
func (g *Gateway) ReceiveMessage(data map[string]any) (domain.Message, error) {
	keys := g.protocol.MessageKeys()
	var m domain.Message
	var err error

	if m.To, err = requireString(data, keys.To); err != nil {
		return domain.Message{}, err
	}
	if m.From, err = requireString(data, keys.From); err != nil {
		return domain.Message{}, err
	}
	if m.Text, err = requireString(data, keys.Text); err != nil {
		return domain.Message{}, err
	}
	if m.ID, err = requireString(data, keys.ID); err != nil {
		return domain.Message{}, err
	}
	return m, nil
}

func (g *Gateway) ReceiveDeliveryReport(data map[string]any) (domain.DeliveryReport, error) {
	id, err := requireString(data, "message_id")
	if err != nil {
		return domain.DeliveryReport{}, err
	}
	status, err := requireString(data, "status")
	if err != nil {
		return domain.DeliveryReport{}, err
	}
	r, err := domain.NewDeliveryReport(id, status)
	if err != nil {
		return domain.DeliveryReport{}, &ReceiveError{Reason: err.Error(), Payload: data, Err: err}
	}
	return r, nil
}

// requireString returns the trimmed value of key.
func requireString(data map[string]any, key string) (string, error) {
	raw, ok := data[key]
	if !ok || raw == nil {
		return "", &ReceiveError{Reason: fmt.Sprintf("missing required key %q", key), Payload: data}
	}
	s, ok := carrier.StringField(data, key)
	if !ok {
		return "", &ReceiveError{Reason: fmt.Sprintf("key %q has unexpected type %T", key, raw), Payload: data}
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", &ReceiveError{Reason: fmt.Sprintf("key %q is empty", key), Payload: data}
	}
	return s, nil
}
