package handlers

import (
	"context"
	"encoding/json"
	"errors"

	"chargehub/backend/services/csms/internal/ocpp"
	"chargehub/backend/services/csms/internal/ocpp/protocol"
)

// NewDiagnosticsStatusHandler records diagnostics upload progress.
func NewDiagnosticsStatusHandler(sessions Sessions) ocpp.HandlerFunc {
	return func(ctx context.Context, stationID string, payload json.RawMessage) (interface{}, error) {
		req, err := ocpp.Decode[protocol.DiagnosticsStatusNotificationRequest](payload)
		if err != nil {
			return nil, err
		}
		switch req.Status {
		case protocol.DiagnosticsIdle, protocol.DiagnosticsUploaded, protocol.DiagnosticsUploadFailed, protocol.DiagnosticsUploading:
		default:
			return nil, &ocpp.CallError{Code: protocol.ErrorPropertyConstraintViolation, Err: errors.New("unknown diagnostics status")}
		}
		sess, err := lookup(ctx, sessions, stationID)
		if err != nil {
			return nil, err
		}
		return sess.OnDiagnosticsStatus(req), nil
	}
}
