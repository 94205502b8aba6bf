package handlers

import (
	"context"
	"encoding/json"

	"chargehub/backend/services/csms/internal/ocpp"
	"chargehub/backend/services/csms/internal/ocpp/protocol"
)

// NewAuthorizeHandler checks id tags against the allow-list.
func NewAuthorizeHandler(sessions Sessions) ocpp.HandlerFunc {
	return func(ctx context.Context, stationID string, payload json.RawMessage) (interface{}, error) {
		req, err := ocpp.Decode[protocol.AuthorizeRequest](payload)
		if err != nil {
			return nil, err
		}
		sess, err := lookup(ctx, sessions, stationID)
		if err != nil {
			return nil, err
		}
		return sess.OnAuthorize(req), nil
	}
}
