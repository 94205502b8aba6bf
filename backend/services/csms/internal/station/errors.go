package station

import "errors"

var (
	ErrStationNotFound     = errors.New("station not found")
	ErrStationOffline      = errors.New("station is offline")
	ErrStationOnline       = errors.New("station is connected")
	ErrInvalidConnector    = errors.New("connector id must be positive")
	ErrInvalidIDTag        = errors.New("id tag is required")
	ErrConnectorNotFound   = errors.New("connector not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrTransactionActive   = errors.New("connector has an active transaction")
	ErrInvalidLocation     = errors.New("location must be an absolute URL")
	ErrInvalidTimeWindow   = errors.New("stop time is before start time")
)
