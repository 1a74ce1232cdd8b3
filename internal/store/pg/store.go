package pg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"smsgw/internal/domain"
	"smsgw/internal/store"
)

type Store struct {
	DB *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

// InsertInboundMessage archives a mobile-originated message. Replays of the
// same event id are ignored.
func (s *Store) InsertInboundMessage(ctx context.Context, in store.InboundMessage) (bool, error) {
	b, err := payloadJSON(in.Payload)
	if err != nil {
		return false, err
	}
	ct, err := s.DB.Exec(ctx, `
		INSERT INTO inbound_messages (event_id, carrier_msg_id, protocol, to_phone, from_phone, body, payload_json, received_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (event_id) DO NOTHING
	`, in.EventID, in.CarrierMsgID, in.Protocol, in.To, in.From, in.Text, b, in.ReceivedAt)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

// InsertDeliveryReport archives a report and moves message_status forward.
// A final status (delivered, failed) is never replaced.
func (s *Store) InsertDeliveryReport(ctx context.Context, in store.DeliveryReport) (store.ReportResult, error) {
	b, err := payloadJSON(in.Payload)
	if err != nil {
		return store.ReportResult{}, err
	}

	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return store.ReportResult{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, `
		INSERT INTO delivery_reports (event_id, carrier_msg_id, status, raw_status, payload_json, received_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (event_id) DO NOTHING
	`, in.EventID, in.CarrierMsgID, in.Status, in.RawStatus, b, in.ReceivedAt)
	if err != nil {
		return store.ReportResult{}, err
	}
	if ct.RowsAffected() == 0 {
		return store.ReportResult{Duplicate: true}, nil
	}

	ct, err = tx.Exec(ctx, `
		INSERT INTO message_status (carrier_msg_id, status, raw_status, updated_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (carrier_msg_id) DO UPDATE
		SET status=EXCLUDED.status, raw_status=EXCLUDED.raw_status, updated_at=EXCLUDED.updated_at
		WHERE message_status.status NOT IN ('delivered','failed')
		  AND `+rankSQL("EXCLUDED.status")+` >= `+rankSQL("message_status.status")+`
	`, in.CarrierMsgID, in.Status, in.RawStatus, in.ReceivedAt)
	if err != nil {
		return store.ReportResult{}, err
	}
	applied := ct.RowsAffected() > 0

	if err := tx.Commit(ctx); err != nil {
		return store.ReportResult{}, err
	}
	return store.ReportResult{Applied: applied}, nil
}

func (s *Store) GetMessageStatus(ctx context.Context, carrierMsgID string) (store.MessageStatus, bool, error) {
	var m store.MessageStatus
	err := s.DB.QueryRow(ctx, `
		SELECT carrier_msg_id, status, raw_status, updated_at FROM message_status WHERE carrier_msg_id=$1
	`, carrierMsgID).Scan(&m.CarrierMsgID, &m.Status, &m.RawStatus, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.MessageStatus{}, false, nil
	}
	if err != nil {
		return store.MessageStatus{}, false, err
	}
	return m, true, nil
}

// rankSQL renders domain.DeliveryStatus.Rank as a CASE over col.
func rankSQL(col string) string {
	var b strings.Builder
	b.WriteString("(CASE " + col)
	for _, st := range []domain.DeliveryStatus{domain.StatusQueued, domain.StatusSent, domain.StatusDelivered, domain.StatusFailed} {
		fmt.Fprintf(&b, " WHEN '%s' THEN %d", st, st.Rank())
	}
	fmt.Fprintf(&b, " ELSE %d END)", domain.StatusUnknown.Rank())
	return b.String()
}

func payloadJSON(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
