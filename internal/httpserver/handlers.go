package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"smsgw/internal/domain"
	"smsgw/internal/service"
)

const maxRequestBytes = 1 << 20

type SMSService interface {
	SendSMS(ctx context.Context, req domain.SendSMSRequest) (domain.SendSMSResponse, error)
	SendBatch(ctx context.Context, req domain.SendBatchRequest) (domain.SendBatchResponse, error)
	CheckStatus(ctx context.Context, messageID string) (domain.DeliveryReport, error)
	Inbox(ctx context.Context) (map[string]any, error)
	DeliveryReports(ctx context.Context) (map[string]any, error)
}

type API struct {
	Svc SMSService
}

func (a *API) Register(r *mux.Router) {
	r.HandleFunc("/v1/sms/messages", a.handleSend).Methods(http.MethodPost)
	r.HandleFunc("/v1/sms/batches", a.handleBatch).Methods(http.MethodPost)
	r.HandleFunc("/v1/sms/messages/{id}/status", a.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/v1/sms/inbox", a.handleInbox).Methods(http.MethodGet)
	r.HandleFunc("/v1/sms/delivery-reports", a.handleDeliveryReports).Methods(http.MethodGet)
}

func (a *API) handleSend(w http.ResponseWriter, r *http.Request) {
	var req domain.SendSMSRequest
	if !decode(w, r, &req) {
		return
	}
	resp, err := a.Svc.SendSMS(r.Context(), req)
	if err != nil {
		slog.Error("send sms failed", "err", err, "to", req.To)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type batchFailureBody struct {
	Error       string                   `json:"error"`
	FailedIndex int                      `json:"failedIndex"`
	Sent        []domain.SendSMSResponse `json:"sent"`
}

func (a *API) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req domain.SendBatchRequest
	if !decode(w, r, &req) {
		return
	}
	resp, err := a.Svc.SendBatch(r.Context(), req)
	var bf *service.BatchFailure
	switch {
	case errors.As(err, &bf):
		slog.Error("send batch stopped", "err", bf.Err, "failed_index", bf.Index, "sent", len(bf.Sent))
		status := http.StatusBadGateway
		if errors.Is(err, domain.ErrValidation) {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, batchFailureBody{Error: bf.Err.Error(), FailedIndex: bf.Index, Sent: bf.Sent})
	case err != nil:
		writeError(w, err)
	default:
		writeJSON(w, http.StatusOK, resp)
	}
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(mux.Vars(r)["id"])
	if id == "" {
		http.Error(w, ErrMissingID, http.StatusBadRequest)
		return
	}
	report, err := a.Svc.CheckStatus(r.Context(), id)
	if err != nil {
		slog.Error("check status failed", "err", err, "message_id", id)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleInbox(w http.ResponseWriter, r *http.Request) {
	a.writePoll(w, r, "inbox", a.Svc.Inbox)
}

func (a *API) handleDeliveryReports(w http.ResponseWriter, r *http.Request) {
	a.writePoll(w, r, "delivery-reports", a.Svc.DeliveryReports)
}

func (a *API) writePoll(w http.ResponseWriter, r *http.Request, what string, fetch func(context.Context) (map[string]any, error)) {
	data, err := fetch(r.Context())
	if err != nil {
		slog.Error("carrier poll failed", "err", err, "poll", what)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, ErrBodyTooLarge, http.StatusRequestEntityTooLarge)
			return false
		}
		http.Error(w, ErrInvalidJSON, http.StatusBadRequest)
		return false
	}
	return true
}
