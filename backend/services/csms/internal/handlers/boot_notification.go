package handlers

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"chargehub/backend/services/csms/internal/ocpp"
	"chargehub/backend/services/csms/internal/ocpp/protocol"
)

// NewBootNotificationHandler accepts the station and fetches its configuration once the
// response has been written.
func NewBootNotificationHandler(sessions Sessions, logger *zap.Logger) ocpp.HandlerFunc {
	return func(ctx context.Context, stationID string, payload json.RawMessage) (interface{}, error) {
		req, err := ocpp.Decode[protocol.BootNotificationRequest](payload)
		if err != nil {
			return nil, err
		}
		sess, err := lookup(ctx, sessions, stationID)
		if err != nil {
			return nil, err
		}

		resp := sess.OnBoot(req)
		logger.Debug("boot accepted", zap.String("station_id", stationID), zap.Int("interval", resp.Interval))
		return ocpp.Reply{
			Payload: resp,
			After:   sess.FetchConfiguration,
		}, nil
	}
}
