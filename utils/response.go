package utils

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"storefront/apperr"
)

// Envelope is the JSON body of every API response.
type Envelope struct {
	Success bool           `json:"success"`
	Data    any            `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
	Code    apperr.Kind    `json:"code,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// Sends a JSON response
func RespondWithJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("encode response", "err", err)
	}
}

// RespondWithData writes a success envelope.
func RespondWithData(w http.ResponseWriter, statusCode int, data any) {
	RespondWithJSON(w, statusCode, Envelope{Success: true, Data: data})
}

// RespondWithError maps err onto an error envelope. Errors that are not
// *apperr.Error are reported as internal without leaking their text.
func RespondWithError(w http.ResponseWriter, err error) {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		slog.Error("unhandled error", "err", err)
		RespondWithJSON(w, http.StatusInternalServerError, Envelope{
			Error: "internal error",
			Code:  apperr.KindInternal,
		})
		return
	}
	msg := appErr.Message
	if msg == "" {
		msg = string(appErr.Kind)
	}
	RespondWithJSON(w, apperr.HTTPStatus(appErr.Kind), Envelope{
		Error:   msg,
		Code:    appErr.Kind,
		Details: appErr.Details,
	})
}

// DecodeJSON reads a JSON body of at most 1MB into v.
func DecodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return apperr.Wrap(apperr.KindValidation, err, "invalid JSON payload")
	}
	return nil
}
