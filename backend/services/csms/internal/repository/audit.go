package repository

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"chargehub/backend/services/csms/internal/station"
)

const (
	upsertBoot = `
        INSERT INTO stations (station_id, vendor, model, serial_number, firmware_version, online, booted_at, last_seen_at)
        VALUES ($1, $2, $3, $4, $5, TRUE, $6, $6)
        ON CONFLICT (station_id)
        DO UPDATE SET vendor = EXCLUDED.vendor,
                      model = EXCLUDED.model,
                      serial_number = EXCLUDED.serial_number,
                      firmware_version = EXCLUDED.firmware_version,
                      online = TRUE,
                      booted_at = EXCLUDED.booted_at,
                      last_seen_at = EXCLUDED.last_seen_at
    `
	upsertPresence = `
        INSERT INTO stations (station_id, online, last_seen_at)
        VALUES ($1, $2, $3)
        ON CONFLICT (station_id)
        DO UPDATE SET online = EXCLUDED.online,
                      last_seen_at = EXCLUDED.last_seen_at
    `
	upsertConnectorStatus = `
        INSERT INTO station_connector_statuses (station_id, connector_id, connector_status, error_code, recorded_at)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (station_id, connector_id)
        DO UPDATE SET connector_status = EXCLUDED.connector_status,
                      error_code = EXCLUDED.error_code,
                      recorded_at = EXCLUDED.recorded_at
    `
	insertTransaction = `
        INSERT INTO transactions (run_id, transaction_id, station_id, connector_id, id_tag, meta, started_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (run_id, transaction_id) DO NOTHING
    `
	finishTransaction = `
        UPDATE transactions
           SET stopped_at = $3,
               meter_stop = $4,
               stop_reason = $5,
               energy_wh = $6
         WHERE run_id = $1 AND transaction_id = $2
    `
)

// AuditRepository records station lifecycle and transactions in postgres. Transactions are
// keyed by runID and transaction id.
type AuditRepository struct {
	*writer
	runID string
}

func NewAuditRepository(db Execer, runID string, logger *zap.Logger) *AuditRepository {
	return &AuditRepository{writer: newWriter(db, logger), runID: runID}
}

// Publish implements station.EventSink.
func (r *AuditRepository) Publish(_ context.Context, ev station.Event) {
	if j, ok := r.jobFor(ev); ok {
		r.enqueue(j)
	}
}

func (r *AuditRepository) jobFor(ev station.Event) (job, bool) {
	switch ev.Type {
	case station.EventStationBooted:
		if ev.Boot == nil {
			return job{}, false
		}
		return job{name: "stations.boot", sql: upsertBoot, args: []any{
			ev.StationID,
			ev.Boot.Vendor,
			ev.Boot.Model,
			nullIfEmpty(ev.Boot.SerialNumber),
			nullIfEmpty(ev.Boot.FirmwareVersion),
			ev.Timestamp,
		}}, true
	case station.EventStationConnected, station.EventStationDisconnected:
		online := ev.Type == station.EventStationConnected
		return job{name: "stations.presence", sql: upsertPresence, args: []any{ev.StationID, online, ev.Timestamp}}, true
	case station.EventConnectorStatus:
		return job{name: "station_connector_statuses", sql: upsertConnectorStatus, args: []any{
			ev.StationID, ev.ConnectorID, ev.Status, nullIfEmpty(ev.ErrorCode), ev.Timestamp,
		}}, true
	case station.EventTransactionStarted:
		var meta any
		if len(ev.Meta) > 0 {
			raw, err := json.Marshal(ev.Meta)
			if err == nil {
				meta = raw
			}
		}
		return job{name: "transactions.start", sql: insertTransaction, args: []any{
			r.runID, ev.TransactionID, ev.StationID, ev.ConnectorID, ev.IDTag, meta, ev.Timestamp,
		}}, true
	case station.EventTransactionStopped:
		var meter, energy any
		if ev.Meter != nil {
			meter = *ev.Meter
		}
		if ev.EnergyWh != nil {
			energy = *ev.EnergyWh
		}
		return job{name: "transactions.stop", sql: finishTransaction, args: []any{
			r.runID, ev.TransactionID, ev.Timestamp, meter, nullIfEmpty(ev.Reason), energy,
		}}, true
	}
	return job{}, false
}
