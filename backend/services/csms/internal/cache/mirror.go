package cache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"chargehub/backend/services/csms/internal/station"
)

const (
	mirrorQueue   = 256
	mirrorTimeout = 3 * time.Second
)

// Mirror keeps the store in step with transaction events. Events are applied in order by a
// single worker so a stop never overtakes its start.
type Mirror struct {
	store  *Store
	queue  chan station.Event
	logger *zap.Logger
}

func NewMirror(store *Store, logger *zap.Logger) *Mirror {
	return &Mirror{
		store:  store,
		queue:  make(chan station.Event, mirrorQueue),
		logger: logger,
	}
}

// Publish queues events the mirror cares about. A full queue drops the event.
func (m *Mirror) Publish(_ context.Context, ev station.Event) {
	switch ev.Type {
	case station.EventTransactionStarted, station.EventTransactionStopped, station.EventStationDisconnected:
	default:
		return
	}
	select {
	case m.queue <- ev:
	default:
		m.logger.Warn("active session mirror queue full, dropping event",
			zap.String("station_id", ev.StationID),
			zap.String("event", string(ev.Type)),
		)
	}
}

// Run applies queued events until ctx is done.
func (m *Mirror) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-m.queue:
			m.apply(ctx, ev)
		}
	}
}

func (m *Mirror) apply(ctx context.Context, ev station.Event) {
	ctx, cancel := context.WithTimeout(ctx, mirrorTimeout)
	defer cancel()

	var err error
	switch ev.Type {
	case station.EventTransactionStarted:
		err = m.store.Save(ctx, ActiveSession{
			StationID:     ev.StationID,
			ConnectorID:   ev.ConnectorID,
			IDTag:         ev.IDTag,
			TransactionID: ev.TransactionID,
			StartedAt:     ev.Timestamp,
			Meta:          ev.Meta,
		})
	case station.EventTransactionStopped:
		err = m.store.Delete(ctx, ev.StationID, ev.TransactionID)
	case station.EventStationDisconnected:
		err = m.store.DeleteStation(ctx, ev.StationID)
	}
	if err != nil {
		m.logger.Warn("active session mirror update failed",
			zap.String("station_id", ev.StationID),
			zap.String("event", string(ev.Type)),
			zap.Int("transaction_id", ev.TransactionID),
			zap.Error(err),
		)
	}
}
