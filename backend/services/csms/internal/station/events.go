package station

import (
	"context"
	"strings"
	"time"
)

type EventType string

const (
	EventStationConnected    EventType = "station.connected"
	EventStationDisconnected EventType = "station.disconnected"
	EventStationBooted       EventType = "station.booted"
	EventConnectorStatus     EventType = "connector.status"
	EventTransactionStarted  EventType = "transaction.started"
	EventTransactionRejected EventType = "transaction.rejected"
	EventTransactionStopped  EventType = "transaction.stopped"
	EventMeterSample         EventType = "meter.sample"
	EventWatchdogFired       EventType = "watchdog.fired"
	EventAutoStopTriggered   EventType = "autostop.triggered"
	EventDiagnosticsStatus   EventType = "diagnostics.status"
)

// BootInfo is what a station reported in its last BootNotification.
type BootInfo struct {
	Vendor          string    `json:"vendor"`
	Model           string    `json:"model"`
	SerialNumber    string    `json:"serialNumber,omitempty"`
	FirmwareVersion string    `json:"firmwareVersion,omitempty"`
	BootedAt        time.Time `json:"bootedAt"`
}

// Event describes a side effect of station activity for external consumers.
type Event struct {
	Type           EventType         `json:"type"`
	StationID      string            `json:"stationId"`
	ConnectorID    int               `json:"connectorId,omitempty"`
	TransactionID  int               `json:"transactionId,omitempty"`
	IDTag          string            `json:"idTag,omitempty"`
	Status         string            `json:"status,omitempty"`
	PreviousStatus string            `json:"previousStatus,omitempty"`
	ErrorCode      string            `json:"errorCode,omitempty"`
	Meter          *int              `json:"meter,omitempty"`
	EnergyWh       *int              `json:"energyWh,omitempty"`
	PowerKW        *float64          `json:"powerKw,omitempty"`
	Reason         string            `json:"reason,omitempty"`
	Boot           *BootInfo         `json:"boot,omitempty"`
	Meta           map[string]string `json:"meta,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
}

// Category is the part of the type before the dot, e.g. "transaction".
func (e Event) Category() string {
	category, _, _ := strings.Cut(string(e.Type), ".")
	return category
}

// Name is the part of the type after the dot, e.g. "started".
func (e Event) Name() string {
	_, name, _ := strings.Cut(string(e.Type), ".")
	return name
}

// EventSink consumes events. Publish must not block for long: it runs on station goroutines.
type EventSink interface {
	Publish(ctx context.Context, ev Event)
}

// Sinks fans an event out to every sink in order.
type Sinks []EventSink

func (s Sinks) Publish(ctx context.Context, ev Event) {
	for _, sink := range s {
		if sink != nil {
			sink.Publish(ctx, ev)
		}
	}
}

type nopSink struct{}

func (nopSink) Publish(context.Context, Event) {}
