package carrier

import (
	"fmt"
	"strings"

	"smsgw/internal/credentials"
	"smsgw/internal/domain"
)

// MessageKeys names the webhook fields carrying an inbound message.
type MessageKeys struct {
	To   string
	Text string
	From string
	ID   string
}

// Protocol is one carrier wire variant.
type Protocol interface {
	Name() string
	// BuildSendRequest expects msg.From to be resolved already.
	BuildSendRequest(endpoint string, msg domain.Message, cred credentials.Credential) (RequestSpec, error)
	// InterpretSendResponse returns the carrier message id (possibly empty)
	// or a *Error.
	InterpretSendResponse(status int, body []byte) (string, error)
	MessageKeys() MessageKeys
}

const (
	NameV1 = "v1"
	NameV2 = "v2"
)

func ByName(name string) (Protocol, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case NameV1:
		return V1{}, nil
	case NameV2:
		return V2{}, nil
	default:
		return nil, &domain.ValidationError{Field: "protocol", Reason: fmt.Sprintf("unsupported protocol %q", name)}
	}
}

// V1 is the flat protocol: {"from","to","message"} answered by
// {"status":"success","message_id":...}.
type V1 struct{}

func (V1) Name() string { return NameV1 }

func (V1) BuildSendRequest(endpoint string, msg domain.Message, cred credentials.Credential) (RequestSpec, error) {
	return jsonPost(endpoint, cred, v1SendBody{From: msg.From, To: msg.To, Message: msg.Text})
}

func (V1) InterpretSendResponse(status int, body []byte) (string, error) {
	m, err := decodeResponse(status, body)
	if err != nil {
		return "", err
	}
	if st, _ := StringField(m, "status"); !strings.EqualFold(st, "success") {
		return "", &Error{Kind: KindRejected, StatusCode: status, Message: errorMessage(m), Body: string(body)}
	}
	id, _ := StringField(m, "message_id")
	return id, nil
}

func (V1) MessageKeys() MessageKeys {
	return MessageKeys{To: "to", Text: "body", From: "from", ID: "message_id"}
}

type v1SendBody struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Message string `json:"message"`
}

// V2 nests the text under text_message and answers with a 2xx carrying the
// message id.
type V2 struct{}

func (V2) Name() string { return NameV2 }

func (V2) BuildSendRequest(endpoint string, msg domain.Message, cred credentials.Credential) (RequestSpec, error) {
	body := v2SendBody{From: msg.From, To: msg.To, MessageType: "text"}
	body.TextMessage.Text = msg.Text
	return jsonPost(endpoint, cred, body)
}

func (V2) InterpretSendResponse(status int, body []byte) (string, error) {
	m, err := decodeResponse(status, body)
	if err != nil {
		return "", err
	}
	id, ok := StringField(m, "message_id")
	if !ok || id == "" {
		id, ok = StringField(m, "id")
	}
	if ok && id != "" {
		return id, nil
	}
	kind := KindMalformedResponse
	if hasErrorMessage(m) {
		kind = KindRejected
	}
	return "", &Error{Kind: kind, StatusCode: status, Message: errorMessage(m), Body: string(body)}
}

func (V2) MessageKeys() MessageKeys {
	return MessageKeys{To: "recipient", Text: "text", From: "from", ID: "message_id"}
}

type v2SendBody struct {
	From        string `json:"from"`
	To          string `json:"to"`
	MessageType string `json:"message_type"`
	TextMessage struct {
		Text string `json:"text"`
	} `json:"text_message"`
}
