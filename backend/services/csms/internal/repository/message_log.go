package repository

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// MessageLogRepository stores raw OCPP frames.
type MessageLogRepository struct {
	*writer
}

func NewMessageLogRepository(db Execer, logger *zap.Logger) *MessageLogRepository {
	return &MessageLogRepository{writer: newWriter(db, logger)}
}

// Save queues a frame for insertion. It never blocks the connection that produced it.
func (r *MessageLogRepository) Save(_ context.Context, stationID, direction, action string, payload []byte) error {
	const query = `
		INSERT INTO ocpp_messages (station_id, direction, message_type, payload)
		VALUES ($1, $2, $3, $4)
	`
	raw := make([]byte, len(payload))
	copy(raw, payload)
	if !r.enqueue(job{name: "ocpp_messages", sql: query, args: []any{stationID, direction, action, raw}}) {
		return fmt.Errorf("repository: message log queue full")
	}
	return nil
}
