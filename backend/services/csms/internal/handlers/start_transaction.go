package handlers

import (
	"context"
	"encoding/json"
	"errors"

	"chargehub/backend/services/csms/internal/ocpp"
	"chargehub/backend/services/csms/internal/ocpp/protocol"
)

// NewStartTransactionHandler issues transaction ids and correlates with remote starts.
func NewStartTransactionHandler(sessions Sessions) ocpp.HandlerFunc {
	return func(ctx context.Context, stationID string, payload json.RawMessage) (interface{}, error) {
		req, err := ocpp.Decode[protocol.StartTransactionRequest](payload)
		if err != nil {
			return nil, err
		}
		if req.ConnectorId <= 0 {
			return nil, &ocpp.CallError{Code: protocol.ErrorProtocolError, Err: errors.New("connectorId must be positive")}
		}
		sess, err := lookup(ctx, sessions, stationID)
		if err != nil {
			return nil, err
		}
		return sess.OnStartTransaction(req), nil
	}
}
