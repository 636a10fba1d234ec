package handler

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"fleettrack/internal/api/util"
	"fleettrack/internal/core/model"
	"fleettrack/internal/core/service"
)

// authorizedVehicle loads the {id} vehicle and checks the caller owns it.
// It writes the error response itself and reports whether to continue.
func authorizedVehicle(w http.ResponseWriter, r *http.Request, registry service.Registry, log *zap.Logger) (*model.Vehicle, bool) {
	claims, err := util.GetUserClaims(r)
	if err != nil {
		util.WriteMessage(w, http.StatusUnauthorized, "unauthorized", "Invalid authorization token")
		return nil, false
	}

	vehicle, err := registry.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		util.WriteError(w, log, err)
		return nil, false
	}
	if !claims.CanAccessOwner(vehicle.OwnerID) {
		util.WriteMessage(w, http.StatusForbidden, "forbidden", "Unauthorized access to vehicle")
		return nil, false
	}
	return vehicle, true
}

// visibleVehicles lists what the caller may see: everything for admins,
// optionally narrowed by ownerId, otherwise the caller's own vehicles.
func visibleVehicles(r *http.Request, registry service.Registry) ([]*model.Vehicle, error) {
	claims, err := util.GetUserClaims(r)
	if err != nil {
		return nil, err
	}
	if claims.IsAdmin() {
		if owner := r.URL.Query().Get("ownerId"); owner != "" {
			return registry.ListByOwner(r.Context(), owner)
		}
		return registry.List(r.Context())
	}
	return registry.ListByOwner(r.Context(), claims.UserID)
}

func vehicleIDs(vehicles []*model.Vehicle) []string {
	ids := make([]string, len(vehicles))
	for i, v := range vehicles {
		ids[i] = v.ID
	}
	return ids
}
