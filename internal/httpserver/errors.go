package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"smsgw/internal/domain"
	"smsgw/internal/gateway"
	"smsgw/internal/transport"
)

const (
	ErrInvalidJSON      = "invalid json"
	ErrMissingID        = "missing id"
	ErrDependency       = "dependency error"
	ErrBodyTooLarge     = "body too large"
	ErrReadBody         = "could not read body"
	ErrInvalidSignature = "invalid signature"
	ErrCarrierOpen      = "carrier temporarily unavailable"
)

type errorBody struct {
	Error         string `json:"error"`
	Field         string `json:"field,omitempty"`
	Cause         string `json:"cause,omitempty"`
	CarrierStatus int    `json:"carrierStatus,omitempty"`
}

// writeError maps domain and gateway errors onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	var (
		ve *domain.ValidationError
		se *gateway.SendError
		re *gateway.ReceiveError
	)
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: ve.Error(), Field: ve.Field})
	case transport.IsOpen(err):
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: ErrCarrierOpen, Cause: string(gateway.CauseTransport)})
	case errors.As(err, &se):
		writeJSON(w, http.StatusBadGateway, errorBody{Error: se.Error(), Cause: string(se.Cause), CarrierStatus: se.StatusCode})
	case errors.As(err, &re):
		writeJSON(w, http.StatusBadGateway, errorBody{Error: re.Error()})
	default:
		slog.Error("unhandled api error", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: ErrDependency})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
