package handlers

import (
	"strings"

	"github.com/guregu/null"

	"chargehub/backend/services/csms/internal/integrity"
)

// commandRequest is the body of start, stop and release. cpid is accepted as an alias of
// stationId for older clients.
type commandRequest struct {
	StationID     string            `json:"stationId"`
	CPID          string            `json:"cpid"`
	ConnectorID   null.Int          `json:"connectorId"`
	IDTag         null.String       `json:"idTag"`
	TransactionID null.Int          `json:"transactionId"`
	Timestamp     null.String       `json:"timestamp"`
	VendorID      null.String       `json:"vendorId"`
	Hash          string            `json:"hash"`
	Meta          map[string]string `json:"meta"`
}

func (r commandRequest) stationID() string {
	if id := strings.TrimSpace(r.StationID); id != "" {
		return id
	}
	return strings.TrimSpace(r.CPID)
}

func (r commandRequest) fields() integrity.Fields {
	return integrity.Fields{
		StationID:     r.stationID(),
		ConnectorID:   r.ConnectorID,
		IDTag:         r.IDTag,
		TransactionID: r.TransactionID,
		Timestamp:     r.Timestamp,
		VendorID:      r.VendorID,
		Values:        r.Meta,
	}
}

type availabilityRequest struct {
	StationID   string   `json:"stationId"`
	ConnectorID null.Int `json:"connectorId"`
	Type        string   `json:"type"`
}

type configurationRequest struct {
	StationID string `json:"stationId"`
	Key       string `json:"key"`
	Value     string `json:"value"`
}

type stationRequest struct {
	StationID string `json:"stationId"`
}

type diagnosticsRequest struct {
	StationID     string      `json:"stationId"`
	Location      string      `json:"location"`
	Retries       null.Int    `json:"retries"`
	RetryInterval null.Int    `json:"retryInterval"`
	StartTime     null.String `json:"startTime"`
	StopTime      null.String `json:"stopTime"`
}
