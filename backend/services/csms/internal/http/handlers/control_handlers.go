package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"chargehub/backend/services/csms/internal/integrity"
	"chargehub/backend/services/csms/internal/ocpp/protocol"
	"chargehub/backend/services/csms/internal/station"
)

// Registry is the station lookup the control API works against.
type Registry interface {
	Get(stationID string) (*station.Session, error)
	Online(stationID string) (*station.Session, error)
	Remove(stationID string) error
	Active() []station.ActiveTransaction
	Snapshots() []station.Snapshot
	Count() (total, online int)
}

// Verifier checks the integrity hash of operator requests.
type Verifier interface {
	Check(f integrity.Fields, supplied string) error
}

type commandResponse struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message"`
	station.CommandOutcome
	StationID     string `json:"stationId"`
	ConnectorID   int    `json:"connectorId,omitempty"`
	TransactionID int    `json:"transactionId,omitempty"`
}

// ControlHandlers serves start, stop, release and the active session list.
type ControlHandlers struct {
	registry Registry
	verifier Verifier
	logger   *zap.Logger
}

func NewControlHandlers(registry Registry, verifier Verifier, logger *zap.Logger) *ControlHandlers {
	return &ControlHandlers{registry: registry, verifier: verifier, logger: logger}
}

// Start handles POST /api/v1/start.
func (h *ControlHandlers) Start(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, err)
		return
	}
	stationID := req.stationID()
	switch {
	case stationID == "":
		h.fail(w, invalid("stationId is required"))
		return
	case !req.ConnectorID.Valid || req.ConnectorID.Int64 <= 0:
		h.fail(w, invalid("connectorId must be a positive integer"))
		return
	case strings.TrimSpace(req.IDTag.String) == "":
		h.fail(w, invalid("idTag is required"))
		return
	}

	sess, ok := h.authorize(w, req)
	if !ok {
		return
	}

	connectorID := int(req.ConnectorID.Int64)
	outcome, err := sess.RemoteStart(r.Context(), connectorID, req.IDTag.String, req.Meta)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeOutcome(w, protocol.ActionRemoteStartTransaction, commandResponse{
		CommandOutcome: outcome,
		StationID:      stationID,
		ConnectorID:    connectorID,
	})
}

// Stop handles POST /api/v1/stop. transactionId wins over connectorId.
func (h *ControlHandlers) Stop(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, err)
		return
	}
	stationID := req.stationID()
	switch {
	case stationID == "":
		h.fail(w, invalid("stationId is required"))
		return
	case !req.TransactionID.Valid && !req.ConnectorID.Valid:
		h.fail(w, invalid("transactionId or connectorId is required"))
		return
	}

	sess, ok := h.authorize(w, req)
	if !ok {
		return
	}

	resp := commandResponse{StationID: stationID}
	var err error
	if req.TransactionID.Valid {
		txID := int(req.TransactionID.Int64)
		tx, found := sess.Transaction(txID)
		if !found {
			h.fail(w, station.ErrTransactionNotFound)
			return
		}
		resp.ConnectorID = tx.ConnectorID
		resp.TransactionID = txID
		resp.CommandOutcome, err = sess.RemoteStop(r.Context(), txID)
	} else {
		resp.ConnectorID = int(req.ConnectorID.Int64)
		resp.CommandOutcome, resp.TransactionID, err = sess.StopConnector(r.Context(), resp.ConnectorID)
	}
	if err != nil {
		h.fail(w, err)
		return
	}
	writeOutcome(w, protocol.ActionRemoteStopTransaction, resp)
}

// Release handles POST /api/v1/release.
func (h *ControlHandlers) Release(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, err)
		return
	}
	stationID := req.stationID()
	switch {
	case stationID == "":
		h.fail(w, invalid("stationId is required"))
		return
	case !req.ConnectorID.Valid || req.ConnectorID.Int64 <= 0:
		h.fail(w, invalid("connectorId must be a positive integer"))
		return
	}

	sess, ok := h.authorize(w, req)
	if !ok {
		return
	}

	connectorID := int(req.ConnectorID.Int64)
	outcome, err := sess.Release(r.Context(), connectorID)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeOutcome(w, protocol.ActionUnlockConnector, commandResponse{
		CommandOutcome: outcome,
		StationID:      stationID,
		ConnectorID:    connectorID,
	})
}

// Active handles GET /api/v1/active.
func (h *ControlHandlers) Active(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": h.registry.Active()})
}

// authorize runs the integrity check and resolves the connected session.
func (h *ControlHandlers) authorize(w http.ResponseWriter, req commandRequest) (*station.Session, bool) {
	if h.verifier != nil {
		if err := h.verifier.Check(req.fields(), req.Hash); err != nil {
			h.fail(w, err)
			return nil, false
		}
	}
	sess, err := h.registry.Online(req.stationID())
	if err != nil {
		h.fail(w, fmt.Errorf("%s: %w", req.stationID(), err))
		return nil, false
	}
	return sess, true
}

func (h *ControlHandlers) fail(w http.ResponseWriter, err error) {
	fail(w, h.logger, err)
}

func writeOutcome(w http.ResponseWriter, action string, resp commandResponse) {
	if resp.Accepted {
		resp.OK = true
		resp.Message = action + " accepted"
		writeJSON(w, http.StatusOK, resp)
		return
	}
	resp.Error = fmt.Sprintf("station rejected %s", action)
	resp.Message = resp.Error
	writeJSON(w, http.StatusConflict, resp)
}

func fail(w http.ResponseWriter, logger *zap.Logger, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError && logger != nil {
		logger.Warn("control request failed", zap.Int("status", status), zap.Error(err))
	}
	writeError(w, status, err.Error())
}
