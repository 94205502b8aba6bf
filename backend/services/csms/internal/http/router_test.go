package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/guregu/null"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chargehub/backend/services/csms/internal/auth"
	"chargehub/backend/services/csms/internal/http/handlers"
	"chargehub/backend/services/csms/internal/http/middleware"
	"chargehub/backend/services/csms/internal/integrity"
	"chargehub/backend/services/csms/internal/ocpp"
	"chargehub/backend/services/csms/internal/ocpp/protocol"
	"chargehub/backend/services/csms/internal/station"
	"chargehub/backend/services/csms/internal/txid"
)

const testKey = "changeme-123"

type scriptedCommander struct {
	mu       sync.Mutex
	status   map[string]string
	errs     map[string]error
	payloads map[string]any
	calls    []string
}

func newScriptedCommander() *scriptedCommander {
	return &scriptedCommander{status: make(map[string]string), errs: make(map[string]error), payloads: make(map[string]any)}
}

func (c *scriptedCommander) Execute(_ context.Context, stationID, action string, payload any, onConfirm ocpp.ConfirmFunc) (ocpp.CommandResult, error) {
	c.mu.Lock()
	c.calls = append(c.calls, action)
	c.payloads[action] = payload
	status, err := c.status[action], c.errs[action]
	c.mu.Unlock()

	if err != nil {
		return ocpp.CommandResult{StationID: stationID, Action: action, Status: ocpp.CommandStatusTimeout, Err: err}, err
	}
	if status == "" {
		status = protocol.StatusAccepted
		if action == protocol.ActionUnlockConnector {
			status = protocol.StatusUnlocked
		}
	}
	cmdStatus := ocpp.CommandStatusRejected
	if status == protocol.StatusAccepted || status == protocol.StatusUnlocked {
		cmdStatus = ocpp.CommandStatusAccepted
	}
	body := json.RawMessage(fmt.Sprintf(`{"status":%q}`, status))
	if action == protocol.ActionGetDiagnostics {
		body = json.RawMessage(`{"fileName":"diag-CP1.zip"}`)
	}
	if onConfirm != nil {
		onConfirm(cmdStatus, body)
	}
	return ocpp.CommandResult{
		CommandID:    "cmd-" + action,
		StationID:    stationID,
		Action:       action,
		Status:       cmdStatus,
		DeviceStatus: status,
		Payload:      body,
	}, nil
}

func (c *scriptedCommander) count(action string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, a := range c.calls {
		if a == action {
			n++
		}
	}
	return n
}

type commandHistory map[string]ocpp.CommandSnapshot

func (h commandHistory) GetCommandSnapshot(id string) (ocpp.CommandSnapshot, bool) {
	snap, ok := h[id]
	return snap, ok
}

type apiFixture struct {
	handler   http.Handler
	registry  *station.Registry
	commander *scriptedCommander
	session   *station.Session
}

func newAPIFixture(t *testing.T, mode integrity.Mode) apiFixture {
	t.Helper()
	commander := newScriptedCommander()
	registry := station.NewRegistry(station.Deps{
		Commander: commander,
		IDs:       txid.NewAllocator(),
		AutoStop:  station.NewAutoStopMonitor(station.DefaultAutoStopConfig()),
	})
	history := commandHistory{"known": {ID: "known", StationID: "CP1", Action: protocol.ActionClearCache, Status: ocpp.CommandStatusAccepted}}

	router := NewRouter(RouterDeps{
		Control:  handlers.NewControlHandlers(registry, integrity.NewAuthenticator(mode, nil, zap.NewNop()), zap.NewNop()),
		Stations: handlers.NewStationsHandlers(registry, history, zap.NewNop()),
		Health:   handlers.HealthHandler(registry),
		AuthMiddleware: middleware.AuthMiddleware(
			auth.NewKeyVerifier(testKey, ""),
			auth.NewTokenService(testKey, time.Minute),
			zap.NewNop(),
		),
	})
	return apiFixture{handler: router, registry: registry, commander: commander, session: registry.Connect("CP1")}
}

func (f apiFixture) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	return f.doWithKey(t, method, path, body, testKey)
}

func (f apiFixture) doWithKey(t *testing.T, method, path string, body any, key string) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if key != "" {
		req.Header.Set(middleware.APIKeyHeader, key)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec.Code, out
}

func (f apiFixture) startTransaction(t *testing.T, connectorID int, idTag string) int {
	t.Helper()
	resp := f.session.OnStartTransaction(protocol.StartTransactionRequest{ConnectorId: connectorID, IdTag: idTag})
	require.NotZero(t, resp.TransactionId)
	return resp.TransactionId
}

func TestStartSetsPendingExpectation(t *testing.T) {
	f := newAPIFixture(t, integrity.ModeLog)

	status, body := f.do(t, http.MethodPost, "/api/v1/start", map[string]any{"stationId": "CP1", "connectorId": 1, "idTag": "TAG1"})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, true, body["accepted"])
	assert.Equal(t, "Accepted", body["status"])
	assert.Equal(t, "cmd-RemoteStartTransaction", body["commandId"])

	conn, ok := f.session.Connector(1)
	require.True(t, ok)
	assert.Equal(t, "TAG1", conn.PendingRemoteStart)
}

func TestStartAcceptsCPIDAlias(t *testing.T) {
	f := newAPIFixture(t, integrity.ModeLog)

	status, body := f.do(t, http.MethodPost, "/api/v1/start", map[string]any{"cpid": "CP1", "connectorId": 2, "idTag": "TAG2", "meta": map[string]string{"order": "42"}})
	require.Equal(t, http.StatusOK, status, body)

	conn, _ := f.session.Connector(2)
	assert.Equal(t, map[string]string{"order": "42"}, conn.PendingStartMeta)
}

func TestStartValidationAndLookupErrors(t *testing.T) {
	f := newAPIFixture(t, integrity.ModeLog)
	offline := f.registry.Connect("CP2")
	f.registry.Disconnect("CP2", offline)

	tests := []struct {
		name   string
		body   any
		status int
	}{
		{name: "missing station", body: map[string]any{"connectorId": 1, "idTag": "T"}, status: http.StatusBadRequest},
		{name: "zero connector", body: map[string]any{"stationId": "CP1", "connectorId": 0, "idTag": "T"}, status: http.StatusBadRequest},
		{name: "missing id tag", body: map[string]any{"stationId": "CP1", "connectorId": 1}, status: http.StatusBadRequest},
		{name: "unknown station", body: map[string]any{"stationId": "GHOST", "connectorId": 1, "idTag": "T"}, status: http.StatusNotFound},
		{name: "offline station", body: map[string]any{"stationId": "CP2", "connectorId": 1, "idTag": "T"}, status: http.StatusNotFound},
		{name: "malformed", body: "not an object", status: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := f.do(t, http.MethodPost, "/api/v1/start", tt.body)
			assert.Equal(t, tt.status, status)
			assert.NotEmpty(t, body["error"])
		})
	}
	assert.Equal(t, 0, f.commander.count(protocol.ActionRemoteStartTransaction))
}

func TestStartRejectedByStation(t *testing.T) {
	f := newAPIFixture(t, integrity.ModeLog)
	f.commander.status[protocol.ActionRemoteStartTransaction] = protocol.StatusRejected

	status, body := f.do(t, http.MethodPost, "/api/v1/start", map[string]any{"stationId": "CP1", "connectorId": 1, "idTag": "TAG1"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "Rejected", body["status"])
	assert.Equal(t, false, body["ok"])

	conn, _ := f.session.Connector(1)
	assert.Empty(t, conn.PendingRemoteStart)
}

func TestStartOnBusyConnectorConflicts(t *testing.T) {
	f := newAPIFixture(t, integrity.ModeLog)
	f.startTransaction(t, 1, "TAG1")

	status, _ := f.do(t, http.MethodPost, "/api/v1/start", map[string]any{"stationId": "CP1", "connectorId": 1, "idTag": "TAG2"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, 0, f.commander.count(protocol.ActionRemoteStartTransaction))
}

func TestCommandTimeoutMapsToGatewayTimeout(t *testing.T) {
	f := newAPIFixture(t, integrity.ModeLog)
	f.commander.errs[protocol.ActionRemoteStartTransaction] = ocpp.ErrCommandTimeout

	status, body := f.do(t, http.MethodPost, "/api/v1/start", map[string]any{"stationId": "CP1", "connectorId": 1, "idTag": "TAG1"})
	assert.Equal(t, http.StatusGatewayTimeout, status)
	assert.Contains(t, body["error"], "timed out")
}

func TestAuthRequired(t *testing.T) {
	f := newAPIFixture(t, integrity.ModeLog)

	status, _ := f.doWithKey(t, http.MethodPost, "/api/v1/start", map[string]any{"stationId": "CP1", "connectorId": 1, "idTag": "T"}, "")
	assert.Equal(t, http.StatusUnauthorized, status)
	status, _ = f.doWithKey(t, http.MethodPost, "/api/v1/start", map[string]any{"stationId": "CP1", "connectorId": 1, "idTag": "T"}, "wrong")
	assert.Equal(t, http.StatusUnauthorized, status)
	status, _ = f.doWithKey(t, http.MethodGet, "/api/v1/active", nil, "")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, 0, f.commander.count(protocol.ActionRemoteStartTransaction))

	token, err := auth.NewTokenService(testKey, time.Minute).GenerateToken("ops")
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/active", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	status, body := f.doWithKey(t, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 1, body["online"])
}

func TestIntegrityEnforced(t *testing.T) {
	f := newAPIFixture(t, integrity.ModeEnforce)
	ts := "2024-05-01T10:00:00Z"
	fields := integrity.Fields{
		StationID:   "CP1",
		ConnectorID: null.IntFrom(1),
		IDTag:       null.StringFrom("TAG1"),
		Timestamp:   null.StringFrom(ts),
	}

	req := map[string]any{"stationId": "CP1", "connectorId": 1, "idTag": "TAG1", "timestamp": ts, "hash": "deadbeef"}
	status, body := f.do(t, http.MethodPost, "/api/v1/start", req)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, integrity.ErrHashMismatch.Error(), body["error"])

	delete(req, "hash")
	status, _ = f.do(t, http.MethodPost, "/api/v1/start", req)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, 0, f.commander.count(protocol.ActionRemoteStartTransaction))

	req["hash"] = integrity.Hash(fields)
	status, body = f.do(t, http.MethodPost, "/api/v1/start", req)
	assert.Equal(t, http.StatusOK, status, body)
}

func TestIntegrityMismatchOnlyLoggedByDefault(t *testing.T) {
	f := newAPIFixture(t, integrity.ModeLog)

	status, _ := f.do(t, http.MethodPost, "/api/v1/start", map[string]any{"stationId": "CP1", "connectorId": 1, "idTag": "TAG1", "hash": "deadbeef"})
	assert.Equal(t, http.StatusOK, status)
}

func TestStopByTransactionAndConnector(t *testing.T) {
	f := newAPIFixture(t, integrity.ModeLog)
	first := f.startTransaction(t, 1, "TAG1")
	second := f.startTransaction(t, 2, "TAG2")

	status, body := f.do(t, http.MethodPost, "/api/v1/stop", map[string]any{"stationId": "CP1", "transactionId": first})
	require.Equal(t, http.StatusOK, status, body)
	assert.EqualValues(t, first, body["transactionId"])
	assert.EqualValues(t, 1, body["connectorId"])

	status, body = f.do(t, http.MethodPost, "/api/v1/stop", map[string]any{"cpid": "CP1", "connectorId": 2})
	require.Equal(t, http.StatusOK, status, body)
	assert.EqualValues(t, second, body["transactionId"])
	assert.Equal(t, 2, f.commander.count(protocol.ActionRemoteStopTransaction))

	// nothing changes until the station reports StopTransaction
	assert.Len(t, f.registry.Active(), 2)
}

func TestStopErrors(t *testing.T) {
	f := newAPIFixture(t, integrity.ModeLog)

	status, _ := f.do(t, http.MethodPost, "/api/v1/stop", map[string]any{"stationId": "CP1"})
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = f.do(t, http.MethodPost, "/api/v1/stop", map[string]any{"stationId": "CP1", "transactionId": 99})
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = f.do(t, http.MethodPost, "/api/v1/stop", map[string]any{"stationId": "CP1", "connectorId": 1})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, 0, f.commander.count(protocol.ActionRemoteStopTransaction))
}

func TestRelease(t *testing.T) {
	f := newAPIFixture(t, integrity.ModeLog)
	f.startTransaction(t, 1, "TAG1")

	status, _ := f.do(t, http.MethodPost, "/api/v1/release", map[string]any{"stationId": "CP1", "connectorId": 1})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, 0, f.commander.count(protocol.ActionUnlockConnector))

	status, body := f.do(t, http.MethodPost, "/api/v1/release", map[string]any{"stationId": "CP1", "connectorId": 2})
	assert.Equal(t, http.StatusNotFound, status, body)
	assert.Equal(t, 0, f.commander.count(protocol.ActionUnlockConnector))

	f.session.OnStatusNotification(protocol.StatusNotificationRequest{ConnectorId: 2, Status: protocol.ConnectorPreparing, ErrorCode: "NoError"})
	status, body = f.do(t, http.MethodPost, "/api/v1/release", map[string]any{"stationId": "CP1", "connectorId": 2})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "Unlocked", body["status"])
	assert.Equal(t, 1, f.commander.count(protocol.ActionUnlockConnector))
}

func TestActiveListsSessions(t *testing.T) {
	f := newAPIFixture(t, integrity.ModeLog)
	txID := f.startTransaction(t, 1, "TAG1")

	status, body := f.do(t, http.MethodGet, "/api/v1/active", nil)
	require.Equal(t, http.StatusOK, status)
	sessions, ok := body["sessions"].([]any)
	require.True(t, ok)
	require.Len(t, sessions, 1)
	row := sessions[0].(map[string]any)
	assert.Equal(t, "CP1", row["stationId"])
	assert.EqualValues(t, 1, row["connectorId"])
	assert.Equal(t, "TAG1", row["idTag"])
	assert.EqualValues(t, txID, row["transactionId"])
}

func TestStationAdministration(t *testing.T) {
	f := newAPIFixture(t, integrity.ModeLog)

	status, body := f.do(t, http.MethodGet, "/api/v1/stations", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["stations"], 1)

	status, _ = f.do(t, http.MethodGet, "/api/v1/stations/CP1", nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = f.do(t, http.MethodPost, "/api/v1/availability", map[string]any{"stationId": "CP1", "connectorId": 1, "type": "Broken"})
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = f.do(t, http.MethodPost, "/api/v1/availability", map[string]any{"stationId": "CP1", "connectorId": 0, "type": "Inoperative"})
	assert.Equal(t, http.StatusOK, status)

	status, _ = f.do(t, http.MethodPost, "/api/v1/configuration", map[string]any{"stationId": "CP1", "value": "1"})
	assert.Equal(t, http.StatusBadRequest, status)
	f.commander.status[protocol.ActionChangeConfiguration] = protocol.StatusNotSupported
	status, body = f.do(t, http.MethodPost, "/api/v1/configuration", map[string]any{"stationId": "CP1", "key": "Foo", "value": "1"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "NotSupported", body["status"])

	status, _ = f.do(t, http.MethodGet, "/api/v1/configuration/CP1?key=HeartbeatInterval", nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = f.do(t, http.MethodPost, "/api/v1/clear-cache", map[string]any{"stationId": "CP1"})
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 1, f.commander.count(protocol.ActionClearCache))

	status, body = f.do(t, http.MethodGet, "/api/v1/commands/known", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "known", body["id"])
	status, _ = f.do(t, http.MethodGet, "/api/v1/commands/missing", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = f.do(t, http.MethodDelete, "/api/v1/stations/CP1", nil)
	assert.Equal(t, http.StatusConflict, status)
	f.registry.Disconnect("CP1", f.session)
	status, _ = f.do(t, http.MethodDelete, "/api/v1/stations/CP1", nil)
	assert.Equal(t, http.StatusNoContent, status)
	status, _ = f.do(t, http.MethodGet, "/api/v1/stations/CP1", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestDiagnostics(t *testing.T) {
	f := newAPIFixture(t, integrity.ModeLog)

	status, _ := f.do(t, http.MethodPost, "/api/v1/diagnostics", map[string]any{"stationId": "CP1"})
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = f.do(t, http.MethodPost, "/api/v1/diagnostics", map[string]any{"stationId": "CP1", "location": "not a url"})
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = f.do(t, http.MethodPost, "/api/v1/diagnostics", map[string]any{"stationId": "CP1", "location": "ftp://logs.example.com/", "startTime": "yesterday"})
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = f.do(t, http.MethodPost, "/api/v1/diagnostics", map[string]any{
		"stationId": "CP1",
		"location":  "ftp://logs.example.com/",
		"startTime": "2024-05-02T00:00:00Z",
		"stopTime":  "2024-05-01T00:00:00Z",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = f.do(t, http.MethodPost, "/api/v1/diagnostics", map[string]any{"stationId": "GHOST", "location": "ftp://logs.example.com/"})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Zero(t, f.commander.count(protocol.ActionGetDiagnostics))

	status, body := f.do(t, http.MethodPost, "/api/v1/diagnostics", map[string]any{
		"stationId": "CP1",
		"location":  "ftp://logs.example.com/",
		"retries":   2,
		"startTime": "2024-05-01T00:00:00Z",
	})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "diag-CP1.zip", body["fileName"])
	assert.Equal(t, "CP1", body["stationId"])
	assert.Equal(t, "cmd-GetDiagnostics", body["commandId"])

	req, ok := f.commander.payloads[protocol.ActionGetDiagnostics].(protocol.GetDiagnosticsRequest)
	require.True(t, ok)
	assert.Equal(t, "ftp://logs.example.com/", req.Location)
	require.NotNil(t, req.Retries)
	assert.Equal(t, 2, *req.Retries)
	assert.Nil(t, req.RetryInterval)
	require.NotNil(t, req.StartTime)
	assert.Nil(t, req.StopTime)
}
