package handlers

import (
	"context"
	"encoding/json"

	"chargehub/backend/services/csms/internal/ocpp"
)

// NewHeartbeatHandler returns handler for heartbeat messages.
func NewHeartbeatHandler(sessions Sessions) ocpp.HandlerFunc {
	return func(ctx context.Context, stationID string, payload json.RawMessage) (interface{}, error) {
		sess, err := lookup(ctx, sessions, stationID)
		if err != nil {
			return nil, err
		}
		return sess.OnHeartbeat(), nil
	}
}
