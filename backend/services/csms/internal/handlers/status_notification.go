package handlers

import (
	"context"
	"encoding/json"
	"errors"

	"chargehub/backend/services/csms/internal/ocpp"
	"chargehub/backend/services/csms/internal/ocpp/protocol"
)

// NewStatusNotificationHandler updates connector state.
func NewStatusNotificationHandler(sessions Sessions) ocpp.HandlerFunc {
	return func(ctx context.Context, stationID string, payload json.RawMessage) (interface{}, error) {
		req, err := ocpp.Decode[protocol.StatusNotificationRequest](payload)
		if err != nil {
			return nil, err
		}
		if req.ConnectorId < 0 {
			return nil, &ocpp.CallError{Code: protocol.ErrorProtocolError, Err: errors.New("connectorId must not be negative")}
		}
		if req.Status == "" {
			return nil, &ocpp.CallError{Code: protocol.ErrorFormationViolation, Err: errors.New("status is required")}
		}
		sess, err := lookup(ctx, sessions, stationID)
		if err != nil {
			return nil, err
		}
		return sess.OnStatusNotification(req), nil
	}
}
