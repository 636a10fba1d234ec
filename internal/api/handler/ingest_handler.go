package handler

import (
	"bytes"
	"errors"
	"io"
	"mime"
	"net/http"

	"go.uber.org/zap"

	"fleettrack/internal/api/util"
	"fleettrack/internal/core/model"
	"fleettrack/internal/core/service"
	"fleettrack/internal/protocol"
)

const maxReportBytes = 64 << 10

// IngestHandler is the device-facing endpoint. Devices are not authenticated;
// the IMEI in the payload identifies them.
type IngestHandler struct {
	ingestor service.Ingestor
	// lenient answers 200 to rejected reports so simple trackers do not retry forever.
	lenient bool
	log     *zap.Logger
}

func NewIngestHandler(ingestor service.Ingestor, lenient bool, log *zap.Logger) *IngestHandler {
	return &IngestHandler{ingestor: ingestor, lenient: lenient, log: log}
}

type receiveResponse struct {
	Success   bool         `json:"success"`
	VehicleID string       `json:"vehicle_id,omitempty"`
	Status    model.Status `json:"status,omitempty"`
	Reason    string       `json:"reason,omitempty"`
}

func (h *IngestHandler) Receive(w http.ResponseWriter, r *http.Request) {
	raw, hint, err := readReport(w, r)
	if err != nil {
		h.reject(w, err)
		return
	}

	result, err := h.ingestor.Ingest(r.Context(), raw, hint)
	if err != nil {
		h.reject(w, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, receiveResponse{
		Success:   true,
		VehicleID: result.VehicleID,
		Status:    result.State.Status,
	})
}

type ackRequest struct {
	IMEI      string `json:"imei"`
	CommandID string `json:"commandId"`
}

type ackResponse struct {
	Success bool           `json:"success"`
	Command *model.Command `json:"command,omitempty"`
	Reason  string         `json:"reason,omitempty"`
}

func (h *IngestHandler) Ack(w http.ResponseWriter, r *http.Request) {
	req := ackRequest{
		IMEI:      r.URL.Query().Get("imei"),
		CommandID: r.URL.Query().Get("commandId"),
	}
	if r.ContentLength != 0 {
		if err := util.DecodeJSON(r, &req); err != nil {
			h.rejectAck(w, model.ErrMalformedReport)
			return
		}
	}
	if req.IMEI == "" || req.CommandID == "" {
		h.rejectAck(w, model.ErrMalformedReport)
		return
	}

	cmd, err := h.ingestor.Acknowledge(r.Context(), req.IMEI, req.CommandID)
	if err != nil {
		h.rejectAck(w, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, ackResponse{Success: true, Command: cmd})
}

func (h *IngestHandler) reject(w http.ResponseWriter, err error) {
	reason := service.RejectReason(err)
	if h.lenient && reason != "internal" {
		util.WriteJSON(w, http.StatusOK, receiveResponse{Success: false, Reason: reason})
		return
	}
	util.WriteError(w, h.log, err)
}

func (h *IngestHandler) rejectAck(w http.ResponseWriter, err error) {
	status, code := util.StatusFor(err)
	if h.lenient && status != http.StatusInternalServerError {
		util.WriteJSON(w, http.StatusOK, ackResponse{Success: false, Reason: code})
		return
	}
	util.WriteError(w, h.log, err)
}

// readReport extracts the payload and a shape hint. GET requests and
// form posts carry a query string; other bodies are sniffed.
func readReport(w http.ResponseWriter, r *http.Request) ([]byte, protocol.Shape, error) {
	if r.Method == http.MethodGet {
		return []byte(r.URL.RawQuery), protocol.ShapeQuery, nil
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxReportBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, "", model.ErrUnsupportedEncoding
		}
		return nil, "", err
	}
	if len(bytes.TrimSpace(body)) == 0 && r.URL.RawQuery != "" {
		return []byte(r.URL.RawQuery), protocol.ShapeQuery, nil
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json":
		return body, protocol.ShapeJSON, nil
	case "application/x-www-form-urlencoded":
		return body, protocol.ShapeQuery, nil
	}
	return body, "", nil
}
