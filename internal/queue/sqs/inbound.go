package sqsqueue

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"smsgw/internal/domain"
)

// API is the subset of *sqs.Client used here.
type API interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

type EventKind string

const (
	KindInboundMessage EventKind = "inbound_message"
	KindDeliveryReport EventKind = "delivery_report"
)

// InboundEvent is the envelope for a parsed carrier webhook.
// Keep it small; SQS has a 256KB message size limit.
type InboundEvent struct {
	ID         string                 `json:"id"`
	Kind       EventKind              `json:"kind"`
	Protocol   string                 `json:"protocol"`
	Message    *domain.Message        `json:"message,omitempty"`
	Report     *domain.DeliveryReport `json:"report,omitempty"`
	Payload    map[string]any         `json:"payload,omitempty"`
	ReceivedAt time.Time              `json:"receivedAt"`
}

// MessageID is the carrier id the event refers to.
func (ev InboundEvent) MessageID() string {
	switch {
	case ev.Message != nil:
		return ev.Message.ID
	case ev.Report != nil:
		return ev.Report.MessageID
	}
	return ""
}

type Producer struct {
	SQS      API
	QueueURL string
}

func (p *Producer) Enqueue(ctx context.Context, ev InboundEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	in := &sqs.SendMessageInput{
		QueueUrl:    &p.QueueURL,
		MessageBody: str(string(body)),
	}
	if strings.HasSuffix(p.QueueURL, ".fifo") {
		// FIFO ordering per carrier message
		in.MessageGroupId = str(groupID(ev))
		in.MessageDeduplicationId = str(ev.ID)
	}
	_, err = p.SQS.SendMessage(ctx, in)
	return err
}

func groupID(ev InboundEvent) string {
	if id := ev.MessageID(); id != "" {
		return id
	}
	return string(ev.Kind)
}

type Handler func(ctx context.Context, ev InboundEvent) error

type Consumer struct {
	SQS      API
	QueueURL string

	WaitTimeSeconds   int32
	MaxMessages       int32
	VisibilityTimeout int32
}

// PollConcurrent processes events with a worker pool. Messages are deleted
// only after the handler succeeds; a failed event is left for SQS redrive.
func (c *Consumer) PollConcurrent(ctx context.Context, workers int, handler Handler) error {
	if workers <= 0 {
		workers = 1
	}

	jobs := make(chan types.Message, workers*2)
	errCh := make(chan error, 1)

	sendErr := func(err error) {
		select {
		case errCh <- err:
		default:
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for m := range jobs {
				c.handle(ctx, m, handler)
			}
		}()
	}

	// Producer: fetch messages and enqueue for workers
	go func() {
		defer close(jobs)

		for {
			if ctx.Err() != nil {
				sendErr(ctx.Err())
				return
			}

			out, err := c.SQS.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
				QueueUrl:            &c.QueueURL,
				MaxNumberOfMessages: c.MaxMessages,
				WaitTimeSeconds:     c.WaitTimeSeconds,
				VisibilityTimeout:   c.VisibilityTimeout,
			})
			if err != nil {
				if ctx.Err() != nil {
					continue
				}
				slog.Error("sqs receive inbound event failed", "err", err)
				select {
				case <-time.After(500 * time.Millisecond):
				case <-ctx.Done():
				}
				continue
			}

			for _, m := range out.Messages {
				select {
				case jobs <- m:
				case <-ctx.Done():
					sendErr(ctx.Err())
					return
				}
			}
		}
	}()

	err := <-errCh

	// Let workers finish whatever is already in `jobs`
	wg.Wait()
	return err
}

func (c *Consumer) handle(ctx context.Context, m types.Message, handler Handler) {
	if m.Body == nil {
		c.delete(ctx, m)
		return
	}
	var ev InboundEvent
	if err := json.Unmarshal([]byte(*m.Body), &ev); err != nil {
		// bad payload => delete to avoid endless redrive
		slog.Warn("sqs inbound event undecodable, dropping", "err", err, "sqs_message_id", deref(m.MessageId))
		c.delete(ctx, m)
		return
	}
	if err := handler(ctx, ev); err != nil {
		slog.Error("sqs inbound event handler error", "err", err, "event_id", ev.ID, "kind", ev.Kind, "message_id", ev.MessageID())
		return
	}
	c.delete(ctx, m)
}

// delete survives shutdown so events finished during drain are acked.
func (c *Consumer) delete(ctx context.Context, m types.Message) {
	if _, err := c.SQS.DeleteMessage(context.WithoutCancel(ctx), &sqs.DeleteMessageInput{
		QueueUrl:      &c.QueueURL,
		ReceiptHandle: m.ReceiptHandle,
	}); err != nil {
		slog.Error("sqs delete inbound event failed", "err", err, "sqs_message_id", deref(m.MessageId))
	}
}

func str(s string) *string { return &s }

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
