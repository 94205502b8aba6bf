package ocpp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chargehub/backend/services/csms/internal/ocpp/protocol"
)

type recordedConfirm struct {
	kind      string
	messageID string
	payload   string
	code      string
}

type fakeConfirms struct {
	calls []recordedConfirm
}

func (f *fakeConfirms) HandleCallResult(stationID, messageID string, payload json.RawMessage) {
	f.calls = append(f.calls, recordedConfirm{kind: "result", messageID: messageID, payload: string(payload)})
}

func (f *fakeConfirms) HandleCallError(stationID, messageID, code, description string, details json.RawMessage) {
	f.calls = append(f.calls, recordedConfirm{kind: "error", messageID: messageID, code: code})
}

type memoryLog struct {
	entries []string
}

func (m *memoryLog) Save(ctx context.Context, stationID, direction, action string, payload []byte) error {
	m.entries = append(m.entries, direction+":"+action)
	return nil
}

func decodeFrame(t *testing.T, raw []byte) []json.RawMessage {
	t.Helper()
	var frame []json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &frame))
	return frame
}

func newTestProcessor(router *Router, confirms ConfirmationHandler, log MessageLog) *Processor {
	return NewProcessor(NewParser(), router, confirms, log, zap.NewNop())
}

func TestProcessorRoutesCall(t *testing.T) {
	router := NewRouter()
	router.Register(protocol.ActionHeartbeat, func(ctx context.Context, stationID string, payload json.RawMessage) (interface{}, error) {
		return map[string]string{"station": stationID}, nil
	})
	log := &memoryLog{}
	p := newTestProcessor(router, &fakeConfirms{}, log)

	res, err := p.Process(context.Background(), "CP1", []byte(`[2,"m1","Heartbeat",{}]`))
	require.NoError(t, err)

	frame := decodeFrame(t, res.Response)
	require.Len(t, frame, 3)
	assert.JSONEq(t, `3`, string(frame[0]))
	assert.JSONEq(t, `"m1"`, string(frame[1]))
	assert.JSONEq(t, `{"station":"CP1"}`, string(frame[2]))
	assert.Equal(t, []string{"incoming:Heartbeat", "outgoing:Heartbeat"}, log.entries)
}

func TestProcessorReplyFollowUp(t *testing.T) {
	router := NewRouter()
	ran := false
	router.Register(protocol.ActionBootNotification, func(ctx context.Context, stationID string, payload json.RawMessage) (interface{}, error) {
		return Reply{Payload: map[string]string{"status": "Accepted"}, After: func(context.Context) { ran = true }}, nil
	})
	p := newTestProcessor(router, &fakeConfirms{}, nil)

	res, err := p.Process(context.Background(), "CP1", []byte(`[2,"m1","BootNotification",{}]`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"Accepted"}`, string(decodeFrame(t, res.Response)[2]))
	require.NotNil(t, res.After)
	res.After(context.Background())
	assert.True(t, ran)
}

func TestProcessorAnswersFailuresWithCallError(t *testing.T) {
	router := NewRouter()
	router.Register(protocol.ActionAuthorize, func(ctx context.Context, stationID string, payload json.RawMessage) (interface{}, error) {
		_, err := Decode[protocol.AuthorizeRequest](payload)
		return nil, err
	})
	router.Register(protocol.ActionHeartbeat, func(ctx context.Context, stationID string, payload json.RawMessage) (interface{}, error) {
		return nil, errors.New("boom")
	})
	p := newTestProcessor(router, &fakeConfirms{}, nil)

	cases := []struct {
		name string
		raw  string
		code string
	}{
		{"unknown action", `[2,"a","Reserve",{}]`, protocol.ErrorNotImplemented},
		{"bad payload", `[2,"b","Authorize",{"idTag":5}]`, protocol.ErrorFormationViolation},
		{"handler error", `[2,"c","Heartbeat",{}]`, protocol.ErrorInternalError},
		{"truncated call", `[2,"d","Heartbeat"]`, protocol.ErrorFormationViolation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := p.Process(context.Background(), "CP1", []byte(tc.raw))
			require.NoError(t, err)
			frame := decodeFrame(t, res.Response)
			require.Len(t, frame, 5)
			assert.JSONEq(t, `4`, string(frame[0]))
			var code string
			require.NoError(t, json.Unmarshal(frame[2], &code))
			assert.Equal(t, tc.code, code)
		})
	}

	_, err := p.Process(context.Background(), "CP1", []byte(`not json`))
	assert.Error(t, err)
}

func TestProcessorForwardsConfirmations(t *testing.T) {
	confirms := &fakeConfirms{}
	p := newTestProcessor(NewRouter(), confirms, nil)

	res, err := p.Process(context.Background(), "CP1", []byte(`[3,"x",{"status":"Accepted"}]`))
	require.NoError(t, err)
	assert.Nil(t, res.Response)

	_, err = p.Process(context.Background(), "CP1", []byte(`[4,"y","NotSupported","no",{}]`))
	require.NoError(t, err)

	require.Len(t, confirms.calls, 2)
	assert.Equal(t, recordedConfirm{kind: "result", messageID: "x", payload: `{"status":"Accepted"}`}, confirms.calls[0])
	assert.Equal(t, "error", confirms.calls[1].kind)
	assert.Equal(t, "NotSupported", confirms.calls[1].code)
}

func TestRouterValidate(t *testing.T) {
	router := NewRouter()
	noop := func(ctx context.Context, stationID string, payload json.RawMessage) (interface{}, error) { return nil, nil }
	router.Register(protocol.ActionHeartbeat, noop)

	err := router.Validate(protocol.StationActions...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), protocol.ActionBootNotification)

	assert.Panics(t, func() { router.Register(protocol.ActionHeartbeat, noop) })

	for _, action := range protocol.StationActions {
		if action != protocol.ActionHeartbeat {
			router.Register(action, noop)
		}
	}
	require.NoError(t, router.Validate(protocol.StationActions...))
	assert.Len(t, router.Actions(), len(protocol.StationActions))
}
