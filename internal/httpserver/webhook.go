package httpserver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"smsgw/internal/carrier"
	"smsgw/internal/domain"
	"smsgw/internal/gateway"
	"smsgw/internal/observability"
	sqsqueue "smsgw/internal/queue/sqs"
	"smsgw/internal/util"
)

// InboundParser turns webhook payloads into domain values. *gateway.Gateway
// satisfies it.
type InboundParser interface {
	Protocol() string
	ReceiveMessage(data map[string]any) (domain.Message, error)
	ReceiveDeliveryReport(data map[string]any) (domain.DeliveryReport, error)
}

type EventQueue interface {
	Enqueue(ctx context.Context, ev sqsqueue.InboundEvent) error
}

// Webhook receives carrier callbacks. Payloads that cannot be parsed are
// answered 400 and dropped; only queue failures ask the carrier to retry.
type Webhook struct {
	Parser InboundParser
	Queue  EventQueue

	// Secret enables HMAC-SHA256 verification of SignatureHeader.
	Secret          string
	SignatureHeader string
	MaxBodyBytes    int64

	IDGen func() string
	Now   func() time.Time
}

func (wh *Webhook) Register(r *mux.Router) {
	r.HandleFunc("/v1/webhooks/rakuten/messages", wh.handle(sqsqueue.KindInboundMessage)).Methods(http.MethodPost)
	r.HandleFunc("/v1/webhooks/rakuten/delivery-reports", wh.handle(sqsqueue.KindDeliveryReport)).Methods(http.MethodPost)
}

func (wh *Webhook) handle(kind sqsqueue.EventKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, wh.maxBody()))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				wh.count(kind, "too_large")
				http.Error(w, ErrBodyTooLarge, http.StatusRequestEntityTooLarge)
				return
			}
			wh.count(kind, "read_error")
			slog.Warn("webhook body read failed", "kind", kind, "err", err)
			http.Error(w, ErrReadBody, http.StatusBadRequest)
			return
		}
		if wh.Secret != "" && !carrier.VerifySignature(wh.Secret, body, r.Header.Get(wh.signatureHeader())) {
			wh.count(kind, "bad_signature")
			slog.Warn("webhook signature rejected", "kind", kind)
			http.Error(w, ErrInvalidSignature, http.StatusUnauthorized)
			return
		}

		ev, err := wh.parse(kind, body)
		if err != nil {
			wh.count(kind, "dropped")
			var re *gateway.ReceiveError
			if errors.As(err, &re) {
				slog.Warn("webhook payload dropped", "kind", kind, "reason", re.Reason, "body", string(body))
			} else {
				slog.Warn("webhook payload dropped", "kind", kind, "err", err)
			}
			writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
			return
		}

		if err := wh.Queue.Enqueue(r.Context(), ev); err != nil {
			wh.count(kind, "enqueue_failed")
			slog.Error("webhook enqueue failed", "err", err, "kind", kind, "event_id", ev.ID, "message_id", ev.MessageID())
			http.Error(w, ErrDependency, http.StatusInternalServerError)
			return
		}
		wh.count(kind, "ok")
		w.WriteHeader(http.StatusOK)
	}
}

func (wh *Webhook) parse(kind sqsqueue.EventKind, body []byte) (sqsqueue.InboundEvent, error) {
	data, err := gateway.DecodeWebhook(body)
	if err != nil {
		return sqsqueue.InboundEvent{}, err
	}
	ev := sqsqueue.InboundEvent{
		ID:         wh.newID(),
		Kind:       kind,
		Protocol:   wh.Parser.Protocol(),
		Payload:    data,
		ReceivedAt: wh.now(),
	}
	switch kind {
	case sqsqueue.KindInboundMessage:
		m, err := wh.Parser.ReceiveMessage(data)
		if err != nil {
			return sqsqueue.InboundEvent{}, err
		}
		ev.Message = &m
	default:
		rep, err := wh.Parser.ReceiveDeliveryReport(data)
		if err != nil {
			return sqsqueue.InboundEvent{}, err
		}
		ev.Report = &rep
	}
	return ev, nil
}

func (wh *Webhook) count(kind sqsqueue.EventKind, result string) {
	observability.WebhookEvents.WithLabelValues(string(kind), result).Inc()
}

func (wh *Webhook) maxBody() int64 {
	if wh.MaxBodyBytes > 0 {
		return wh.MaxBodyBytes
	}
	return 64 << 10
}

func (wh *Webhook) signatureHeader() string {
	if wh.SignatureHeader != "" {
		return wh.SignatureHeader
	}
	return "X-Rakuten-Signature"
}

func (wh *Webhook) newID() string {
	if wh.IDGen != nil {
		return wh.IDGen()
	}
	return util.NewEventID()
}

func (wh *Webhook) now() time.Time {
	if wh.Now != nil {
		return wh.Now()
	}
	return util.NowUTC()
}
