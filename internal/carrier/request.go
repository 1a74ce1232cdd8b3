// Package carrier speaks the Rakuten SMS wire protocols: it builds the HTTP
// requests for send, status and polling calls and interprets the carrier's
// JSON responses and webhook payloads.
package carrier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"smsgw/internal/credentials"
)

// RequestSpec is a transport-neutral description of one carrier call.
type RequestSpec struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

func (s RequestSpec) HTTPRequest(ctx context.Context) (*http.Request, error) {
	var body io.Reader
	if s.Body != nil {
		body = bytes.NewReader(s.Body)
	}
	req, err := http.NewRequestWithContext(ctx, s.Method, s.URL, body)
	if err != nil {
		return nil, err
	}
	for k, vs := range s.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return req, nil
}

func jsonPost(endpoint string, cred credentials.Credential, payload any) (RequestSpec, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return RequestSpec{}, fmt.Errorf("marshal carrier payload: %w", err)
	}
	h := http.Header{}
	h.Set("Authorization", cred.AuthorizationHeader())
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
	return RequestSpec{Method: http.MethodPost, URL: endpoint, Header: h, Body: b}, nil
}

func authedGet(target string, cred credentials.Credential) RequestSpec {
	h := http.Header{}
	h.Set("Authorization", cred.AuthorizationHeader())
	h.Set("Accept", "application/json")
	return RequestSpec{Method: http.MethodGet, URL: target, Header: h}
}

func BuildStatusRequest(endpoint, messageID string, cred credentials.Credential) RequestSpec {
	return authedGet(joinPath(endpoint, "status", url.PathEscape(messageID)), cred)
}

func BuildReceiveRequest(endpoint string, cred credentials.Credential) RequestSpec {
	return authedGet(joinPath(endpoint, "receive"), cred)
}

func BuildDeliveryReportRequest(endpoint string, cred credentials.Credential) RequestSpec {
	return authedGet(joinPath(endpoint, "delivery-report"), cred)
}

func joinPath(endpoint string, parts ...string) string {
	return strings.TrimRight(endpoint, "/") + "/" + strings.Join(parts, "/")
}
