package handlers

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chargehub/backend/services/csms/internal/ocpp"
	"chargehub/backend/services/csms/internal/ocpp/protocol"
	"chargehub/backend/services/csms/internal/station"
	"chargehub/backend/services/csms/internal/txid"
)

type acceptingCommander struct {
	actions []string
}

func (c *acceptingCommander) Execute(_ context.Context, stationID, action string, _ any, onConfirm ocpp.ConfirmFunc) (ocpp.CommandResult, error) {
	c.actions = append(c.actions, action)
	body := json.RawMessage(`{"status":"Accepted"}`)
	if onConfirm != nil {
		onConfirm(ocpp.CommandStatusAccepted, body)
	}
	return ocpp.CommandResult{StationID: stationID, Action: action, Status: ocpp.CommandStatusAccepted, DeviceStatus: protocol.StatusAccepted, Payload: body}, nil
}

func newTestProcessor(t *testing.T) (*ocpp.Processor, *station.Registry, *acceptingCommander) {
	t.Helper()
	commander := &acceptingCommander{}
	registry := station.NewRegistry(station.Deps{
		Commander: commander,
		IDs:       txid.NewAllocator(),
		AutoStop:  station.NewAutoStopMonitor(station.DefaultAutoStopConfig()),
		Options:   station.Options{HeartbeatInterval: 2 * time.Minute},
	})
	router := ocpp.NewRouter()
	require.NoError(t, Register(router, registry, zap.NewNop()))
	return ocpp.NewProcessor(ocpp.NewParser(), router, nil, nil, zap.NewNop()), registry, commander
}

func call(t *testing.T, p *ocpp.Processor, stationID, action string, payload any) (int, json.RawMessage, ocpp.Result) {
	t.Helper()
	frame, err := ocpp.BuildCall("m-1", action, payload)
	require.NoError(t, err)
	res, err := p.Process(context.Background(), stationID, frame)
	require.NoError(t, err)

	var parts []json.RawMessage
	require.NoError(t, json.Unmarshal(res.Response, &parts))
	var typ int
	require.NoError(t, json.Unmarshal(parts[0], &typ))
	// parts[2] is the payload of a result or the code of an error
	return typ, parts[2], res
}

func TestRegisterCoversEveryStationAction(t *testing.T) {
	router := ocpp.NewRouter()
	require.NoError(t, Register(router, station.NewRegistry(station.Deps{}), zap.NewNop()))
	assert.ElementsMatch(t, protocol.StationActions, router.Actions())
}

func TestBootNotificationSchedulesConfigurationFetch(t *testing.T) {
	p, registry, commander := newTestProcessor(t)
	registry.Connect("CP1")

	typ, body, res := call(t, p, "CP1", protocol.ActionBootNotification, protocol.BootNotificationRequest{ChargePointVendor: "Acme", ChargePointModel: "X"})
	require.Equal(t, protocol.MessageTypeCallResult, typ)

	var resp protocol.BootNotificationResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.Equal(t, protocol.RegistrationAccepted, resp.Status)
	assert.Equal(t, 120, resp.Interval)

	require.NotNil(t, res.After)
	assert.Empty(t, commander.actions)
	res.After(context.Background())
	assert.Equal(t, []string{protocol.ActionGetConfiguration}, commander.actions)
}

func TestStartAndStopThroughRouter(t *testing.T) {
	p, registry, _ := newTestProcessor(t)
	sess := registry.Connect("CP1")

	_, err := sess.RemoteStart(context.Background(), 1, "TAG1", nil)
	require.NoError(t, err)

	typ, body, _ := call(t, p, "CP1", protocol.ActionStartTransaction, protocol.StartTransactionRequest{ConnectorId: 1, IdTag: "TAG1"})
	require.Equal(t, protocol.MessageTypeCallResult, typ)
	var started protocol.StartTransactionResponse
	require.NoError(t, json.Unmarshal(body, &started))
	assert.Equal(t, 1, started.TransactionId)
	assert.Equal(t, protocol.AuthorizationAccepted, started.IdTagInfo.Status)

	typ, body, _ = call(t, p, "CP1", protocol.ActionStopTransaction, protocol.StopTransactionRequest{TransactionId: 1, MeterStop: 5000})
	require.Equal(t, protocol.MessageTypeCallResult, typ)
	var stopped protocol.StopTransactionResponse
	require.NoError(t, json.Unmarshal(body, &stopped))
	require.NotNil(t, stopped.IdTagInfo)
	assert.Equal(t, protocol.AuthorizationAccepted, stopped.IdTagInfo.Status)
	assert.Empty(t, registry.Active())
}

func TestHandlerErrorsBecomeCallErrors(t *testing.T) {
	p, registry, _ := newTestProcessor(t)

	typ, code, _ := call(t, p, "GHOST", protocol.ActionHeartbeat, struct{}{})
	assert.Equal(t, protocol.MessageTypeCallError, typ)
	assert.JSONEq(t, `"GenericError"`, string(code))

	registry.Connect("CP1")
	typ, code, _ = call(t, p, "CP1", protocol.ActionStartTransaction, map[string]any{"connectorId": "one"})
	assert.Equal(t, protocol.MessageTypeCallError, typ)
	assert.JSONEq(t, `"FormationViolation"`, string(code))

	typ, code, _ = call(t, p, "CP1", protocol.ActionStartTransaction, protocol.StartTransactionRequest{ConnectorId: 0, IdTag: "X"})
	assert.Equal(t, protocol.MessageTypeCallError, typ)
	assert.JSONEq(t, `"ProtocolError"`, string(code))
}

func TestFramesFromReplacedConnectionAreRejected(t *testing.T) {
	p, registry, _ := newTestProcessor(t)
	old := registry.Connect("CP1")
	current := registry.Connect("CP1")
	require.False(t, old.Online())

	frame, err := ocpp.BuildCall("m-9", protocol.ActionStatusNotification, protocol.StatusNotificationRequest{ConnectorId: 1, Status: "Preparing", ErrorCode: "NoError"})
	require.NoError(t, err)

	res, err := p.Process(station.WithSession(context.Background(), old), "CP1", frame)
	require.NoError(t, err)
	var parts []json.RawMessage
	require.NoError(t, json.Unmarshal(res.Response, &parts))
	assert.JSONEq(t, `4`, string(parts[0]))
	assert.JSONEq(t, `"GenericError"`, string(parts[2]))
	_, ok := current.Connector(1)
	assert.False(t, ok)

	res, err = p.Process(station.WithSession(context.Background(), current), "CP1", frame)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(res.Response, &parts))
	assert.JSONEq(t, `3`, string(parts[0]))
	_, ok = current.Connector(1)
	assert.True(t, ok)
}

func TestDiagnosticsStatusNotification(t *testing.T) {
	p, registry, _ := newTestProcessor(t)
	sess := registry.Connect("CP1")

	typ, body, _ := call(t, p, "CP1", protocol.ActionDiagnosticsStatusNotification, protocol.DiagnosticsStatusNotificationRequest{Status: protocol.DiagnosticsUploadFailed})
	require.Equal(t, protocol.MessageTypeCallResult, typ)
	assert.JSONEq(t, `{}`, string(body))
	assert.Equal(t, protocol.DiagnosticsUploadFailed, sess.Snapshot().DiagnosticsStatus)

	typ, code, _ := call(t, p, "CP1", protocol.ActionDiagnosticsStatusNotification, protocol.DiagnosticsStatusNotificationRequest{Status: "Exploded"})
	assert.Equal(t, protocol.MessageTypeCallError, typ)
	assert.JSONEq(t, `"PropertyConstraintViolation"`, string(code))
}
