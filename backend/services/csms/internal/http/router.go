package httpserver

import (
	"net/http"

	"github.com/gorilla/mux"

	"chargehub/backend/services/csms/internal/http/handlers"
)

// RouterDeps collects handler dependencies.
type RouterDeps struct {
	Control        *handlers.ControlHandlers
	Stations       *handlers.StationsHandlers
	Health         http.HandlerFunc
	Metrics        http.Handler
	AuthMiddleware func(http.Handler) http.Handler
}

// NewRouter wires the control API. Everything under /api/v1 requires the operator credential.
func NewRouter(deps RouterDeps) *mux.Router {
	router := mux.NewRouter()

	router.Handle("/health", deps.Health).Methods(http.MethodGet)
	if deps.Metrics != nil {
		router.Handle("/metrics", deps.Metrics).Methods(http.MethodGet)
	}

	api := router.PathPrefix("/api/v1").Subrouter()
	if deps.AuthMiddleware != nil {
		api.Use(deps.AuthMiddleware)
	}

	api.HandleFunc("/start", deps.Control.Start).Methods(http.MethodPost)
	api.HandleFunc("/stop", deps.Control.Stop).Methods(http.MethodPost)
	api.HandleFunc("/release", deps.Control.Release).Methods(http.MethodPost)
	api.HandleFunc("/active", deps.Control.Active).Methods(http.MethodGet)

	api.HandleFunc("/stations", deps.Stations.List).Methods(http.MethodGet)
	api.HandleFunc("/stations/{stationId}", deps.Stations.Get).Methods(http.MethodGet)
	api.HandleFunc("/stations/{stationId}", deps.Stations.Remove).Methods(http.MethodDelete)
	api.HandleFunc("/availability", deps.Stations.ChangeAvailability).Methods(http.MethodPost)
	api.HandleFunc("/configuration", deps.Stations.ChangeConfiguration).Methods(http.MethodPost)
	api.HandleFunc("/configuration/{stationId}", deps.Stations.GetConfiguration).Methods(http.MethodGet)
	api.HandleFunc("/clear-cache", deps.Stations.ClearCache).Methods(http.MethodPost)
	api.HandleFunc("/diagnostics", deps.Stations.Diagnostics).Methods(http.MethodPost)
	api.HandleFunc("/commands/{commandId}", deps.Stations.Command).Methods(http.MethodGet)

	return router
}
