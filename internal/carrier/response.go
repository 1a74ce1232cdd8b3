package carrier

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

const UnknownError = "Unknown error"

type ErrorKind string

const (
	// KindRejected: the carrier answered and refused the request.
	KindRejected ErrorKind = "rejected"
	// KindHTTPStatus: non-2xx status.
	KindHTTPStatus ErrorKind = "http_status"
	// KindMalformedResponse: the body could not be understood.
	KindMalformedResponse ErrorKind = "malformed_response"
)

// Error is a carrier-reported failure. Body is the raw response text.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	Body       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("carrier %s (status %d): %s", e.Kind, e.StatusCode, e.Message)
}

// Unauthorized reports whether the carrier refused the credential.
func (e *Error) Unauthorized() bool { return e.StatusCode == 401 }

var (
	ErrNotObject    = errors.New("payload is not a JSON object")
	ErrTrailingData = errors.New("payload has data after the JSON object")
)

// DecodePayload decodes a JSON object, keeping numbers as json.Number.
func DecodePayload(body []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, ErrTrailingData
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, ErrNotObject
	}
	return m, nil
}

func decodeResponse(status int, body []byte) (map[string]any, error) {
	m, err := DecodePayload(body)
	ok := status >= 200 && status < 300
	switch {
	case err != nil && !ok:
		return nil, &Error{Kind: KindHTTPStatus, StatusCode: status, Message: UnknownError, Body: string(body)}
	case err != nil:
		return nil, &Error{Kind: KindMalformedResponse, StatusCode: status, Message: "malformed response: " + err.Error(), Body: string(body)}
	case !ok:
		return nil, &Error{Kind: KindHTTPStatus, StatusCode: status, Message: errorMessage(m), Body: string(body)}
	}
	return m, nil
}

// InterpretPollResponse decodes the answer to an authenticated GET (status,
// receive and delivery-report polling).
func InterpretPollResponse(status int, body []byte) (map[string]any, error) {
	return decodeResponse(status, body)
}

// StringField reads a string or numeric field as text.
func StringField(m map[string]any, key string) (string, bool) {
	switch v := m[key].(type) {
	case string:
		return v, true
	case json.Number:
		return v.String(), true
	case float64:
		return fmt.Sprintf("%v", v), true
	default:
		return "", false
	}
}

var errorKeys = []string{"error_message", "message", "error"}

func hasErrorMessage(m map[string]any) bool {
	for _, k := range errorKeys {
		if s, ok := m[k].(string); ok && s != "" {
			return true
		}
	}
	return false
}

func errorMessage(m map[string]any) string {
	for _, k := range errorKeys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return UnknownError
}

// VerifySignature checks a hex HMAC-SHA256 of the raw webhook body.
func VerifySignature(secret string, body []byte, provided string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(provided))))
}

func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
