package worker

import (
	"context"
	"log/slog"
	"time"

	"smsgw/internal/observability"
	sqsqueue "smsgw/internal/queue/sqs"
	"smsgw/internal/store"
)

type Archive interface {
	InsertInboundMessage(ctx context.Context, in store.InboundMessage) (bool, error)
	InsertDeliveryReport(ctx context.Context, in store.DeliveryReport) (store.ReportResult, error)
}

// Processor archives inbound carrier events. Returning an error leaves the
// event on the queue for redrive; events that can never be stored are
// dropped with a log line.
type Processor struct {
	Store   Archive
	Timeout time.Duration
	Log     *slog.Logger
}

func (p *Processor) Process(ctx context.Context, ev sqsqueue.InboundEvent) error {
	log := p.logger().With("event_id", ev.ID, "kind", ev.Kind, "message_id", ev.MessageID())

	// Keep DB work bounded and let it finish during shutdown.
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	dbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	switch {
	case ev.Kind == sqsqueue.KindInboundMessage && ev.Message != nil:
		inserted, err := p.Store.InsertInboundMessage(dbCtx, store.InboundMessage{
			EventID:      ev.ID,
			CarrierMsgID: ev.Message.ID,
			Protocol:     ev.Protocol,
			To:           ev.Message.To,
			From:         ev.Message.From,
			Text:         ev.Message.Text,
			Payload:      ev.Payload,
			ReceivedAt:   ev.ReceivedAt,
		})
		if err != nil {
			observability.ProcessedEvents.WithLabelValues(string(ev.Kind), "error").Inc()
			return err
		}
		observability.ProcessedEvents.WithLabelValues(string(ev.Kind), result(!inserted, true)).Inc()
		log.Debug("inbound message archived", "duplicate", !inserted)
		return nil

	case ev.Kind == sqsqueue.KindDeliveryReport && ev.Report != nil:
		res, err := p.Store.InsertDeliveryReport(dbCtx, store.DeliveryReport{
			EventID:      ev.ID,
			CarrierMsgID: ev.Report.MessageID,
			Status:       string(ev.Report.Status),
			RawStatus:    ev.Report.RawStatus,
			Payload:      ev.Payload,
			ReceivedAt:   ev.ReceivedAt,
		})
		if err != nil {
			observability.ProcessedEvents.WithLabelValues(string(ev.Kind), "error").Inc()
			return err
		}
		observability.ProcessedEvents.WithLabelValues(string(ev.Kind), result(res.Duplicate, res.Applied)).Inc()
		log.Debug("delivery report archived", "status", ev.Report.Status, "duplicate", res.Duplicate, "applied", res.Applied)
		return nil
	}

	observability.ProcessedEvents.WithLabelValues(string(ev.Kind), "dropped").Inc()
	log.Warn("inbound event has no usable content, dropping")
	return nil
}

func result(duplicate, applied bool) string {
	switch {
	case duplicate:
		return "duplicate"
	case !applied:
		return "stale"
	}
	return "ok"
}

func (p *Processor) logger() *slog.Logger {
	if p.Log != nil {
		return p.Log
	}
	return slog.Default()
}
