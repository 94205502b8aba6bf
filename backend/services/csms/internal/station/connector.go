package station

import (
	"time"

	"chargehub/backend/services/csms/internal/ocpp/protocol"
)

// Transaction is a charging session bound to one connector. ID is issued by the CSMS.
type Transaction struct {
	ID          int               `json:"transactionId"`
	ConnectorID int               `json:"connectorId"`
	IDTag       string            `json:"idTag"`
	MeterStart  int               `json:"meterStart"`
	StartedAt   time.Time         `json:"startedAt"`
	Meta        map[string]string `json:"meta,omitempty"`
}

// ConnectorState is owned by a Session and only touched under the session lock.
//
// Invariants: at most one ActiveTransaction; PendingRemoteStart only while ActiveTransaction
// is nil; Watchdog non-nil only while the connector waits in Preparing/Occupied without a
// transaction.
type ConnectorState struct {
	ID                 int
	Status             protocol.ConnectorStatus
	ErrorCode          string
	Info               string
	PendingRemoteStart string
	PendingStartMeta   map[string]string
	PendingSince       time.Time
	ActiveTransaction  *Transaction
	Watchdog           *Watchdog
	PowerKW            *float64
	UpdatedAt          time.Time
}

func newConnectorState(id int, now time.Time) *ConnectorState {
	return &ConnectorState{
		ID:        id,
		Status:    protocol.ConnectorAvailable,
		UpdatedAt: now,
	}
}

// awaitingSession reports whether the connector sits in a pre-charging state with no
// transaction, which is when the no-session watchdog applies.
func (c *ConnectorState) awaitingSession() bool {
	if c.ActiveTransaction != nil {
		return false
	}
	return c.Status == protocol.ConnectorPreparing || c.Status == protocol.ConnectorOccupied
}

func (c *ConnectorState) clearPending() {
	c.PendingRemoteStart = ""
	c.PendingStartMeta = nil
	c.PendingSince = time.Time{}
}

func (c *ConnectorState) setPending(idTag string, meta map[string]string, now time.Time) {
	c.PendingRemoteStart = idTag
	c.PendingSince = now
	if len(meta) == 0 {
		return
	}
	if c.PendingStartMeta == nil {
		c.PendingStartMeta = make(map[string]string, len(meta))
	}
	for k, v := range meta {
		c.PendingStartMeta[k] = v
	}
}

// pendingExpired reports whether the pending remote start is older than ttl.
func (c *ConnectorState) pendingExpired(now time.Time, ttl time.Duration) bool {
	return c.PendingRemoteStart != "" && ttl > 0 && now.Sub(c.PendingSince) > ttl
}

// cancelWatchdog stops an armed watchdog and drops it. It reports whether one was armed.
func (c *ConnectorState) cancelWatchdog() bool {
	if c.Watchdog == nil {
		return false
	}
	cancelled := c.Watchdog.Cancel()
	c.Watchdog = nil
	return cancelled
}

// ConnectorSnapshot is a read-only copy of ConnectorState.
type ConnectorSnapshot struct {
	ConnectorID        int                      `json:"connectorId"`
	Status             protocol.ConnectorStatus `json:"status"`
	ErrorCode          string                   `json:"errorCode,omitempty"`
	Info               string                   `json:"info,omitempty"`
	PendingRemoteStart string                   `json:"pendingRemoteStart,omitempty"`
	PendingStartMeta   map[string]string        `json:"pendingStartMeta,omitempty"`
	Transaction        *Transaction             `json:"transaction,omitempty"`
	Watchdog           string                   `json:"watchdog"`
	PowerKW            *float64                 `json:"powerKw,omitempty"`
	UpdatedAt          time.Time                `json:"updatedAt"`
}

func (c *ConnectorState) snapshot() ConnectorSnapshot {
	snap := ConnectorSnapshot{
		ConnectorID:        c.ID,
		Status:             c.Status,
		ErrorCode:          c.ErrorCode,
		Info:               c.Info,
		PendingRemoteStart: c.PendingRemoteStart,
		PendingStartMeta:   copyMeta(c.PendingStartMeta),
		Watchdog:           WatchdogUnarmed.String(),
		UpdatedAt:          c.UpdatedAt,
	}
	if c.ActiveTransaction != nil {
		tx := *c.ActiveTransaction
		tx.Meta = copyMeta(tx.Meta)
		snap.Transaction = &tx
	}
	if c.Watchdog != nil {
		snap.Watchdog = c.Watchdog.State().String()
	}
	if c.PowerKW != nil {
		p := *c.PowerKW
		snap.PowerKW = &p
	}
	return snap
}

func copyMeta(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
