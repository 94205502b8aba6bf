package handlers

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"chargehub/backend/services/csms/internal/ocpp"
	"chargehub/backend/services/csms/internal/ocpp/protocol"
	"chargehub/backend/services/csms/internal/station"
)

// Sessions resolves the session of a connected station.
type Sessions interface {
	Get(stationID string) (*station.Session, error)
}

// Register attaches a handler for every action a station may send and checks none is missing.
func Register(router *ocpp.Router, sessions Sessions, logger *zap.Logger) error {
	router.Register(protocol.ActionAuthorize, NewAuthorizeHandler(sessions))
	router.Register(protocol.ActionBootNotification, NewBootNotificationHandler(sessions, logger))
	router.Register(protocol.ActionDataTransfer, NewDataTransferHandler(sessions))
	router.Register(protocol.ActionDiagnosticsStatusNotification, NewDiagnosticsStatusHandler(sessions))
	router.Register(protocol.ActionHeartbeat, NewHeartbeatHandler(sessions))
	router.Register(protocol.ActionMeterValues, NewMeterValuesHandler(sessions))
	router.Register(protocol.ActionStartTransaction, NewStartTransactionHandler(sessions))
	router.Register(protocol.ActionStatusNotification, NewStatusNotificationHandler(sessions))
	router.Register(protocol.ActionStopTransaction, NewStopTransactionHandler(sessions))
	return router.Validate(protocol.StationActions...)
}

// ErrSessionReplaced rejects frames read from a connection whose station has reconnected.
var ErrSessionReplaced = errors.New("connection was replaced by a newer one")

// lookup prefers the session bound to the connection the frame arrived on, so frames still
// being read from a replaced connection never reach the new session.
func lookup(ctx context.Context, sessions Sessions, stationID string) (*station.Session, error) {
	if sess := station.SessionFromContext(ctx); sess != nil && sess.ID() == stationID {
		if !sess.Online() {
			return nil, &ocpp.CallError{Code: protocol.ErrorGenericError, Err: fmt.Errorf("station %s: %w", stationID, ErrSessionReplaced)}
		}
		return sess, nil
	}
	sess, err := sessions.Get(stationID)
	if err != nil {
		return nil, &ocpp.CallError{Code: protocol.ErrorGenericError, Err: fmt.Errorf("station %s: %w", stationID, err)}
	}
	return sess, nil
}
