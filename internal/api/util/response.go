package util

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"fleettrack/internal/core/model"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errorStatus = []struct {
	err    error
	status int
	code   string
}{
	{model.ErrMalformedReport, http.StatusBadRequest, "malformed_report"},
	{model.ErrUnsupportedEncoding, http.StatusUnsupportedMediaType, "unsupported_encoding"},
	{model.ErrUnknownDevice, http.StatusNotFound, "unknown_device"},
	{model.ErrDuplicateDevice, http.StatusConflict, "duplicate_device"},
	{model.ErrStaleReport, http.StatusConflict, "stale_report"},
	{model.ErrUnknownVehicle, http.StatusNotFound, "unknown_vehicle"},
	{model.ErrInvalidVehicle, http.StatusBadRequest, "invalid_vehicle"},
	{model.ErrCommandNotFound, http.StatusNotFound, "command_not_found"},
	{model.ErrInvalidCommand, http.StatusBadRequest, "invalid_command"},
	{model.ErrCommandInFlight, http.StatusConflict, "command_in_flight"},
	{model.ErrTransportFailure, http.StatusBadGateway, "transport_failure"},
	{model.ErrConfirmationTimeout, http.StatusConflict, "confirmation_timeout"},
	{model.ErrUnmatchedAck, http.StatusNotFound, "unmatched_ack"},
	{model.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{model.ErrInvalidQuery, http.StatusBadRequest, "invalid_query"},
}

// StatusFor maps a domain error to its HTTP status and error code.
func StatusFor(err error) (int, string) {
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			return e.status, e.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

// WriteError writes err as {error, code}. Unmapped errors are logged and hidden.
func WriteError(w http.ResponseWriter, log *zap.Logger, err error) {
	status, code := StatusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.Error("request failed", zap.Error(err))
		msg = "internal server error"
	}
	WriteJSON(w, status, errorResponse{Error: msg, Code: code})
}

// WriteMessage writes a plain {error, code} body for request-level problems.
func WriteMessage(w http.ResponseWriter, status int, code, msg string) {
	WriteJSON(w, status, errorResponse{Error: msg, Code: code})
}

func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func DecodeJSON(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}
