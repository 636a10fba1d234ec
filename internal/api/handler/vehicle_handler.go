package handler

import (
	"net/http"

	"go.uber.org/zap"

	"fleettrack/internal/api/util"
	"fleettrack/internal/core/model"
	"fleettrack/internal/core/service"
)

type VehicleHandler struct {
	registry service.Registry
	state    service.StateStore
	log      *zap.Logger
}

func NewVehicleHandler(registry service.Registry, state service.StateStore, log *zap.Logger) *VehicleHandler {
	return &VehicleHandler{registry: registry, state: state, log: log}
}

type createVehicleRequest struct {
	Name    string `json:"name"`
	Plate   string `json:"plate"`
	IMEI    string `json:"imei"`
	OwnerID string `json:"ownerId,omitempty"`
}

// vehicleView is a vehicle with its reconciled state.
type vehicleView struct {
	*model.Vehicle
	State model.VehicleState `json:"state"`
}

func (h *VehicleHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createVehicleRequest
	if err := util.DecodeJSON(r, &req); err != nil {
		util.WriteMessage(w, http.StatusBadRequest, "invalid_vehicle", "Invalid request body")
		return
	}

	claims, err := util.GetUserClaims(r)
	if err != nil {
		util.WriteMessage(w, http.StatusUnauthorized, "unauthorized", "Invalid authorization token")
		return
	}

	owner := claims.UserID
	if req.OwnerID != "" && req.OwnerID != owner {
		if !claims.IsAdmin() {
			util.WriteMessage(w, http.StatusForbidden, "forbidden", "Unauthorized access to owner")
			return
		}
		owner = req.OwnerID
	}

	vehicle, err := h.registry.Register(r.Context(), owner, req.Name, req.Plate, req.IMEI)
	if err != nil {
		util.WriteError(w, h.log, err)
		return
	}
	util.WriteJSON(w, http.StatusCreated, vehicle)
}

func (h *VehicleHandler) List(w http.ResponseWriter, r *http.Request) {
	vehicles, err := visibleVehicles(r, h.registry)
	if err != nil {
		util.WriteError(w, h.log, err)
		return
	}

	states, err := h.state.List(r.Context(), vehicleIDs(vehicles))
	if err != nil {
		util.WriteError(w, h.log, err)
		return
	}

	views := make([]vehicleView, len(vehicles))
	for i, v := range vehicles {
		views[i] = vehicleView{Vehicle: v, State: states[i]}
	}
	util.WriteJSON(w, http.StatusOK, views)
}

func (h *VehicleHandler) Get(w http.ResponseWriter, r *http.Request) {
	vehicle, ok := authorizedVehicle(w, r, h.registry, h.log)
	if !ok {
		return
	}

	state, err := h.state.Get(r.Context(), vehicle.ID)
	if err != nil {
		util.WriteError(w, h.log, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, vehicleView{Vehicle: vehicle, State: state})
}

func (h *VehicleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	vehicle, ok := authorizedVehicle(w, r, h.registry, h.log)
	if !ok {
		return
	}
	if err := h.registry.Deactivate(r.Context(), vehicle.ID); err != nil {
		util.WriteError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
