package handler

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"fleettrack/internal/api/util"
	"fleettrack/internal/core/model"
	"fleettrack/internal/core/service"
)

type CommandHandler struct {
	registry   service.Registry
	dispatcher service.Dispatcher
	log        *zap.Logger
}

func NewCommandHandler(registry service.Registry, dispatcher service.Dispatcher, log *zap.Logger) *CommandHandler {
	return &CommandHandler{registry: registry, dispatcher: dispatcher, log: log}
}

type issueCommandRequest struct {
	Type    model.CommandType      `json:"type"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

type undeliveredResponse struct {
	Error   string         `json:"error"`
	Code    string         `json:"code"`
	Command *model.Command `json:"command"`
}

func (h *CommandHandler) Issue(w http.ResponseWriter, r *http.Request) {
	vehicle, ok := authorizedVehicle(w, r, h.registry, h.log)
	if !ok {
		return
	}

	var req issueCommandRequest
	if err := util.DecodeJSON(r, &req); err != nil {
		util.WriteMessage(w, http.StatusBadRequest, "invalid_command", "Invalid request body")
		return
	}

	cmd, err := h.dispatcher.Issue(r.Context(), vehicle.ID, req.Type, req.Payload)
	if err != nil && cmd != nil && errors.Is(err, model.ErrTransportFailure) {
		// The command is stored as failed; the caller needs its id.
		status, code := util.StatusFor(err)
		util.WriteJSON(w, status, undeliveredResponse{Error: err.Error(), Code: code, Command: cmd})
		return
	}
	if err != nil {
		util.WriteError(w, h.log, err)
		return
	}
	util.WriteJSON(w, http.StatusCreated, cmd)
}

func (h *CommandHandler) List(w http.ResponseWriter, r *http.Request) {
	vehicle, ok := authorizedVehicle(w, r, h.registry, h.log)
	if !ok {
		return
	}

	cmds, err := h.dispatcher.ListByVehicle(r.Context(), vehicle.ID)
	if err != nil {
		util.WriteError(w, h.log, err)
		return
	}
	if cmds == nil {
		cmds = []*model.Command{}
	}
	util.WriteJSON(w, http.StatusOK, cmds)
}

func (h *CommandHandler) Get(w http.ResponseWriter, r *http.Request) {
	claims, err := util.GetUserClaims(r)
	if err != nil {
		util.WriteMessage(w, http.StatusUnauthorized, "unauthorized", "Invalid authorization token")
		return
	}

	cmd, err := h.dispatcher.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		util.WriteError(w, h.log, err)
		return
	}
	if !claims.IsAdmin() {
		vehicle, err := h.registry.Get(r.Context(), cmd.VehicleID)
		if err != nil || !claims.CanAccessOwner(vehicle.OwnerID) {
			util.WriteMessage(w, http.StatusForbidden, "forbidden", "Unauthorized access to command")
			return
		}
	}
	util.WriteJSON(w, http.StatusOK, cmd)
}
