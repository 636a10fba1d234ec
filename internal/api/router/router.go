package router

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"fleettrack/internal/api/handler"
	"fleettrack/internal/api/middleware"
	"fleettrack/internal/api/util"
	"fleettrack/internal/core/service"
)

// Dependencies are the services and settings the HTTP API is built from.
type Dependencies struct {
	Ingestor   service.Ingestor
	Registry   service.Registry
	State      service.StateStore
	History    service.History
	Dispatcher service.Dispatcher
	Hub        *handler.Hub

	JWTSecret        string
	LenientAck       bool
	HistoryRetention time.Duration
	Log              *zap.Logger
}

func NewRouter(deps Dependencies) http.Handler {
	log := deps.Log
	ingestHandler := handler.NewIngestHandler(deps.Ingestor, deps.LenientAck, log)
	vehicleHandler := handler.NewVehicleHandler(deps.Registry, deps.State, log)
	historyHandler := handler.NewHistoryHandler(deps.Registry, deps.History, log)
	commandHandler := handler.NewCommandHandler(deps.Registry, deps.Dispatcher, log)
	fleetHandler := handler.NewFleetHandler(deps.Registry, deps.State, deps.History, deps.HistoryRetention, log)
	authMiddleware := middleware.NewAuthMiddleware(deps.JWTSecret)

	r := mux.NewRouter()

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		util.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	// Device routes
	gps := r.PathPrefix("/api/gps").Subrouter()
	gps.HandleFunc("/receive", ingestHandler.Receive).Methods(http.MethodGet, http.MethodPost)
	gps.HandleFunc("/ack", ingestHandler.Ack).Methods(http.MethodPost)

	// Operator routes
	api := r.PathPrefix("/api").Subrouter()
	api.Use(authMiddleware.Authenticate)
	api.HandleFunc("/vehicles", vehicleHandler.Create).Methods(http.MethodPost)
	api.HandleFunc("/vehicles", vehicleHandler.List).Methods(http.MethodGet)
	api.HandleFunc("/vehicles/{id}", vehicleHandler.Get).Methods(http.MethodGet)
	api.HandleFunc("/vehicles/{id}", vehicleHandler.Delete).Methods(http.MethodDelete)
	api.HandleFunc("/vehicles/{id}/history", historyHandler.Query).Methods(http.MethodGet)
	api.HandleFunc("/vehicles/{id}/history/export", historyHandler.Export).Methods(http.MethodGet)
	api.HandleFunc("/vehicles/{id}/commands", commandHandler.Issue).Methods(http.MethodPost)
	api.HandleFunc("/vehicles/{id}/commands", commandHandler.List).Methods(http.MethodGet)
	api.HandleFunc("/commands/{id}", commandHandler.Get).Methods(http.MethodGet)
	api.HandleFunc("/fleet/status", fleetHandler.Status).Methods(http.MethodGet)
	api.Handle("/admin/maintenance/purge",
		authMiddleware.RequireAdmin(http.HandlerFunc(fleetHandler.Purge))).Methods(http.MethodPost)

	if deps.Hub != nil {
		wsHandler := handler.NewWSHandler(deps.Hub, deps.Registry, log)
		r.Handle("/ws/fleet", authMiddleware.Authenticate(http.HandlerFunc(wsHandler.Fleet))).Methods(http.MethodGet)
	}

	return middleware.CORSMiddleware(middleware.LoggingMiddleware(log)(r))
}
