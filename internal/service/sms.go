package service

import (
	"context"
	"errors"
	"fmt"

	"smsgw/internal/domain"
	"smsgw/internal/gateway"
	"smsgw/internal/util"
)

// Gateway is the carrier surface the API needs. *gateway.Gateway satisfies it.
type Gateway interface {
	Send(ctx context.Context, msg *domain.Message) error
	SendBatch(ctx context.Context, msgs []*domain.Message) error
	CheckStatus(ctx context.Context, messageID string) (domain.DeliveryReport, error)
	FetchInbox(ctx context.Context) (map[string]any, error)
	FetchDeliveryReports(ctx context.Context) (map[string]any, error)
	DefaultFrom() string
}

type SMSService struct {
	Gateway  Gateway
	MaxBatch int
}

// BatchFailure reports a batch that stopped part way. Sent lists what the
// carrier accepted before the failure.
type BatchFailure struct {
	Sent  []domain.SendSMSResponse
	Index int
	Err   error
}

func (e *BatchFailure) Error() string {
	return fmt.Sprintf("batch stopped at message %d after %d sent: %v", e.Index, len(e.Sent), e.Err)
}

func (e *BatchFailure) Unwrap() error { return e.Err }

func (s *SMSService) SendSMS(ctx context.Context, req domain.SendSMSRequest) (domain.SendSMSResponse, error) {
	msg := toMessage(req)
	if err := s.Gateway.Send(ctx, msg); err != nil {
		return domain.SendSMSResponse{}, err
	}
	return s.response(msg), nil
}

func (s *SMSService) SendBatch(ctx context.Context, req domain.SendBatchRequest) (domain.SendBatchResponse, error) {
	if len(req.Messages) == 0 {
		return domain.SendBatchResponse{}, domain.Required("messages")
	}
	if s.MaxBatch > 0 && len(req.Messages) > s.MaxBatch {
		return domain.SendBatchResponse{}, &domain.ValidationError{Field: "messages", Reason: fmt.Sprintf("at most %d messages per batch", s.MaxBatch)}
	}

	msgs := make([]*domain.Message, len(req.Messages))
	for i, r := range req.Messages {
		msgs[i] = toMessage(r)
	}

	err := s.Gateway.SendBatch(ctx, msgs)
	var be *gateway.BatchError
	if err != nil && !errors.As(err, &be) {
		return domain.SendBatchResponse{}, err
	}

	sent := len(msgs)
	if be != nil {
		sent = be.Index
	}
	out := domain.SendBatchResponse{Sent: make([]domain.SendSMSResponse, 0, sent)}
	for _, m := range msgs[:sent] {
		out.Sent = append(out.Sent, s.response(m))
	}
	if be != nil {
		return out, &BatchFailure{Sent: out.Sent, Index: be.Index, Err: be.Err}
	}
	return out, nil
}

func (s *SMSService) CheckStatus(ctx context.Context, messageID string) (domain.DeliveryReport, error) {
	return s.Gateway.CheckStatus(ctx, messageID)
}

func (s *SMSService) Inbox(ctx context.Context) (map[string]any, error) {
	return s.Gateway.FetchInbox(ctx)
}

func (s *SMSService) DeliveryReports(ctx context.Context) (map[string]any, error) {
	return s.Gateway.FetchDeliveryReports(ctx)
}

func (s *SMSService) response(m *domain.Message) domain.SendSMSResponse {
	from := m.From
	if from == "" {
		from = s.Gateway.DefaultFrom()
	}
	return domain.SendSMSResponse{MessageID: m.ID, To: m.To, From: from}
}

func toMessage(r domain.SendSMSRequest) *domain.Message {
	return &domain.Message{
		To:   util.NormalizePhone(r.To),
		From: util.NormalizePhone(r.From),
		Text: r.Text,
	}
}
