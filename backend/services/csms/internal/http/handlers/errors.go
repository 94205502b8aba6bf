package handlers

import (
	"context"
	"errors"
	"net/http"

	"chargehub/backend/services/csms/internal/integrity"
	"chargehub/backend/services/csms/internal/ocpp"
	"chargehub/backend/services/csms/internal/station"
)

// statusFor is the single place domain errors become HTTP statuses.
func statusFor(err error) int {
	var deviceErr *ocpp.DeviceError
	switch {
	case errors.Is(err, integrity.ErrHashMissing), errors.Is(err, integrity.ErrHashMismatch):
		return http.StatusUnauthorized
	case errors.Is(err, errInvalidRequest),
		errors.Is(err, station.ErrInvalidConnector),
		errors.Is(err, station.ErrInvalidIDTag),
		errors.Is(err, station.ErrInvalidLocation),
		errors.Is(err, station.ErrInvalidTimeWindow):
		return http.StatusBadRequest
	case errors.Is(err, station.ErrStationNotFound),
		errors.Is(err, station.ErrStationOffline),
		errors.Is(err, station.ErrConnectorNotFound),
		errors.Is(err, station.ErrTransactionNotFound),
		errors.Is(err, ocpp.ErrNotConnected):
		return http.StatusNotFound
	case errors.Is(err, station.ErrTransactionActive), errors.Is(err, station.ErrStationOnline):
		return http.StatusConflict
	case errors.Is(err, ocpp.ErrCommandTimeout),
		errors.Is(err, ocpp.ErrConnectionLost),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &deviceErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
