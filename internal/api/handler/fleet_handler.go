package handler

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"fleettrack/internal/api/util"
	"fleettrack/internal/core/service"
	"fleettrack/internal/core/status"
)

// FleetHandler serves fleet-wide views and maintenance.
type FleetHandler struct {
	registry  service.Registry
	state     service.StateStore
	history   service.History
	retention time.Duration
	now       func() time.Time
	log       *zap.Logger
}

func NewFleetHandler(registry service.Registry, state service.StateStore, history service.History, retention time.Duration, log *zap.Logger) *FleetHandler {
	return &FleetHandler{
		registry:  registry,
		state:     state,
		history:   history,
		retention: retention,
		now:       time.Now,
		log:       log,
	}
}

type statusResponse struct {
	status.Summary
	GeneratedAt time.Time `json:"generatedAt"`
}

// Status counts the caller's vehicles by reconciled status.
func (h *FleetHandler) Status(w http.ResponseWriter, r *http.Request) {
	vehicles, err := visibleVehicles(r, h.registry)
	if err != nil {
		util.WriteError(w, h.log, err)
		return
	}
	summary, err := h.state.Summary(r.Context(), vehicleIDs(vehicles))
	if err != nil {
		util.WriteError(w, h.log, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, statusResponse{Summary: summary, GeneratedAt: h.now().UTC()})
}

type purgeResponse struct {
	Deleted   int64     `json:"deleted"`
	OlderThan time.Time `json:"olderThan"`
}

// Purge deletes history older than the configured retention.
func (h *FleetHandler) Purge(w http.ResponseWriter, r *http.Request) {
	olderThan := h.now().UTC().Add(-h.retention)
	n, err := h.history.Purge(r.Context(), olderThan)
	if err != nil {
		util.WriteError(w, h.log, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, purgeResponse{Deleted: n, OlderThan: olderThan})
}
