package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/guregu/null"
	"go.uber.org/zap"

	"chargehub/backend/services/csms/internal/ocpp"
	"chargehub/backend/services/csms/internal/ocpp/protocol"
	"chargehub/backend/services/csms/internal/station"
)

// CommandLookup exposes the outbound command history.
type CommandLookup interface {
	GetCommandSnapshot(commandID string) (ocpp.CommandSnapshot, bool)
}

// StationsHandlers serves station administration endpoints.
type StationsHandlers struct {
	registry Registry
	commands CommandLookup
	logger   *zap.Logger
}

func NewStationsHandlers(registry Registry, commands CommandLookup, logger *zap.Logger) *StationsHandlers {
	return &StationsHandlers{registry: registry, commands: commands, logger: logger}
}

// List handles GET /api/v1/stations.
func (h *StationsHandlers) List(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"stations": h.registry.Snapshots()})
}

// Get handles GET /api/v1/stations/{stationId}.
func (h *StationsHandlers) Get(w http.ResponseWriter, r *http.Request) {
	sess, err := h.registry.Get(mux.Vars(r)["stationId"])
	if err != nil {
		fail(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

// Remove handles DELETE /api/v1/stations/{stationId}. Connected stations cannot be removed.
func (h *StationsHandlers) Remove(w http.ResponseWriter, r *http.Request) {
	stationID := mux.Vars(r)["stationId"]
	if err := h.registry.Remove(stationID); err != nil {
		fail(w, h.logger, err)
		return
	}
	h.logger.Info("station removed", zap.String("station_id", stationID))
	w.WriteHeader(http.StatusNoContent)
}

// ChangeAvailability handles POST /api/v1/availability.
func (h *StationsHandlers) ChangeAvailability(w http.ResponseWriter, r *http.Request) {
	var req availabilityRequest
	if err := decode(w, r, &req); err != nil {
		fail(w, h.logger, err)
		return
	}
	switch {
	case !req.ConnectorID.Valid || req.ConnectorID.Int64 < 0:
		fail(w, h.logger, invalid("connectorId must be zero or positive"))
		return
	case req.Type != protocol.AvailabilityOperative && req.Type != protocol.AvailabilityInoperative:
		fail(w, h.logger, invalid("type must be %s or %s", protocol.AvailabilityOperative, protocol.AvailabilityInoperative))
		return
	}
	sess, ok := h.online(w, req.StationID)
	if !ok {
		return
	}

	connectorID := int(req.ConnectorID.Int64)
	outcome, err := sess.ChangeAvailability(r.Context(), connectorID, req.Type)
	if err != nil {
		fail(w, h.logger, err)
		return
	}
	writeOutcome(w, protocol.ActionChangeAvailability, commandResponse{
		CommandOutcome: outcome,
		StationID:      sess.ID(),
		ConnectorID:    connectorID,
	})
}

// ChangeConfiguration handles POST /api/v1/configuration.
func (h *StationsHandlers) ChangeConfiguration(w http.ResponseWriter, r *http.Request) {
	var req configurationRequest
	if err := decode(w, r, &req); err != nil {
		fail(w, h.logger, err)
		return
	}
	if strings.TrimSpace(req.Key) == "" {
		fail(w, h.logger, invalid("key is required"))
		return
	}
	sess, ok := h.online(w, req.StationID)
	if !ok {
		return
	}

	outcome, err := sess.ChangeConfiguration(r.Context(), req.Key, req.Value)
	if err != nil {
		fail(w, h.logger, err)
		return
	}
	writeOutcome(w, protocol.ActionChangeConfiguration, commandResponse{CommandOutcome: outcome, StationID: sess.ID()})
}

// GetConfiguration handles GET /api/v1/configuration/{stationId}?key=A&key=B.
func (h *StationsHandlers) GetConfiguration(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.online(w, mux.Vars(r)["stationId"])
	if !ok {
		return
	}
	resp, err := sess.GetConfiguration(r.Context(), r.URL.Query()["key"])
	if err != nil {
		fail(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ClearCache handles POST /api/v1/clear-cache.
func (h *StationsHandlers) ClearCache(w http.ResponseWriter, r *http.Request) {
	var req stationRequest
	if err := decode(w, r, &req); err != nil {
		fail(w, h.logger, err)
		return
	}
	sess, ok := h.online(w, req.StationID)
	if !ok {
		return
	}
	outcome, err := sess.ClearCache(r.Context())
	if err != nil {
		fail(w, h.logger, err)
		return
	}
	writeOutcome(w, protocol.ActionClearCache, commandResponse{CommandOutcome: outcome, StationID: sess.ID()})
}

// Diagnostics handles POST /api/v1/diagnostics.
func (h *StationsHandlers) Diagnostics(w http.ResponseWriter, r *http.Request) {
	var req diagnosticsRequest
	if err := decode(w, r, &req); err != nil {
		fail(w, h.logger, err)
		return
	}
	switch {
	case strings.TrimSpace(req.Location) == "":
		fail(w, h.logger, invalid("location is required"))
		return
	case req.Retries.Valid && req.Retries.Int64 < 0, req.RetryInterval.Valid && req.RetryInterval.Int64 < 0:
		fail(w, h.logger, invalid("retries and retryInterval must not be negative"))
		return
	}
	opts := station.DiagnosticsOptions{
		Retries:       optionalInt(req.Retries),
		RetryInterval: optionalInt(req.RetryInterval),
	}
	var err error
	if opts.StartTime, err = optionalTime("startTime", req.StartTime); err != nil {
		fail(w, h.logger, err)
		return
	}
	if opts.StopTime, err = optionalTime("stopTime", req.StopTime); err != nil {
		fail(w, h.logger, err)
		return
	}
	sess, ok := h.online(w, req.StationID)
	if !ok {
		return
	}

	outcome, err := sess.GetDiagnostics(r.Context(), strings.TrimSpace(req.Location), opts)
	if err != nil {
		fail(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, diagnosticsResponse{
		OK:                 true,
		Message:            protocol.ActionGetDiagnostics + " accepted",
		DiagnosticsOutcome: outcome,
		StationID:          sess.ID(),
	})
}

type diagnosticsResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
	station.DiagnosticsOutcome
	StationID string `json:"stationId"`
}

func optionalInt(v null.Int) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func optionalTime(field string, v null.String) (*time.Time, error) {
	if !v.Valid || strings.TrimSpace(v.String) == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(v.String))
	if err != nil {
		return nil, invalid("%s must be RFC3339", field)
	}
	return &t, nil
}

// Command handles GET /api/v1/commands/{commandId}.
func (h *StationsHandlers) Command(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.commands.GetCommandSnapshot(mux.Vars(r)["commandId"])
	if !ok {
		writeError(w, http.StatusNotFound, "command not found")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *StationsHandlers) online(w http.ResponseWriter, stationID string) (*station.Session, bool) {
	stationID = strings.TrimSpace(stationID)
	if stationID == "" {
		fail(w, h.logger, invalid("stationId is required"))
		return nil, false
	}
	sess, err := h.registry.Online(stationID)
	if err != nil {
		fail(w, h.logger, err)
		return nil, false
	}
	return sess, true
}
