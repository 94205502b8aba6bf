package protocol

import "encoding/json"

// IdTagInfo carries an authorization decision.
type IdTagInfo struct {
	Status      string    `json:"status"`
	ExpiryDate  *DateTime `json:"expiryDate,omitempty"`
	ParentIdTag string    `json:"parentIdTag,omitempty"`
}

// AuthorizeRequest payload.
type AuthorizeRequest struct {
	IdTag string `json:"idTag"`
}

// AuthorizeResponse payload.
type AuthorizeResponse struct {
	IdTagInfo IdTagInfo `json:"idTagInfo"`
}

// BootNotificationRequest payload.
type BootNotificationRequest struct {
	ChargePointVendor       string `json:"chargePointVendor"`
	ChargePointModel        string `json:"chargePointModel"`
	ChargePointSerialNumber string `json:"chargePointSerialNumber,omitempty"`
	ChargeBoxSerialNumber   string `json:"chargeBoxSerialNumber,omitempty"`
	FirmwareVersion         string `json:"firmwareVersion,omitempty"`
	Iccid                   string `json:"iccid,omitempty"`
	Imsi                    string `json:"imsi,omitempty"`
	MeterType               string `json:"meterType,omitempty"`
	MeterSerialNumber       string `json:"meterSerialNumber,omitempty"`
}

// BootNotificationResponse payload.
type BootNotificationResponse struct {
	CurrentTime DateTime `json:"currentTime"`
	Interval    int      `json:"interval"`
	Status      string   `json:"status"`
}

// DataTransferRequest payload.
type DataTransferRequest struct {
	VendorId  string `json:"vendorId"`
	MessageId string `json:"messageId,omitempty"`
	Data      string `json:"data,omitempty"`
}

// DataTransferResponse payload.
type DataTransferResponse struct {
	Status string `json:"status"`
	Data   string `json:"data,omitempty"`
}

// HeartbeatRequest is empty.
type HeartbeatRequest struct{}

// HeartbeatResponse returns server time.
type HeartbeatResponse struct {
	CurrentTime DateTime `json:"currentTime"`
}

// SampledValue is a single reading inside a MeterValue.
type SampledValue struct {
	Value     string `json:"value"`
	Context   string `json:"context,omitempty"`
	Format    string `json:"format,omitempty"`
	Measurand string `json:"measurand,omitempty"`
	Phase     string `json:"phase,omitempty"`
	Location  string `json:"location,omitempty"`
	Unit      string `json:"unit,omitempty"`
}

// MeterValue groups sampled values taken at one instant.
type MeterValue struct {
	Timestamp    DateTime       `json:"timestamp"`
	SampledValue []SampledValue `json:"sampledValue"`
}

// MeterValuesRequest payload.
type MeterValuesRequest struct {
	ConnectorId   int          `json:"connectorId"`
	TransactionId *int         `json:"transactionId,omitempty"`
	MeterValue    []MeterValue `json:"meterValue"`
}

// MeterValuesResponse is empty.
type MeterValuesResponse struct{}

// StartTransactionRequest payload.
type StartTransactionRequest struct {
	ConnectorId   int      `json:"connectorId"`
	IdTag         string   `json:"idTag"`
	MeterStart    int      `json:"meterStart"`
	ReservationId *int     `json:"reservationId,omitempty"`
	Timestamp     DateTime `json:"timestamp"`
}

// StartTransactionResponse payload. TransactionId is 0 on rejection.
type StartTransactionResponse struct {
	TransactionId int       `json:"transactionId"`
	IdTagInfo     IdTagInfo `json:"idTagInfo"`
}

// StatusNotificationRequest payload.
type StatusNotificationRequest struct {
	ConnectorId     int             `json:"connectorId"`
	ErrorCode       string          `json:"errorCode"`
	Status          ConnectorStatus `json:"status"`
	Info            string          `json:"info,omitempty"`
	Timestamp       *DateTime       `json:"timestamp,omitempty"`
	VendorId        string          `json:"vendorId,omitempty"`
	VendorErrorCode string          `json:"vendorErrorCode,omitempty"`
}

// StatusNotificationResponse is empty.
type StatusNotificationResponse struct{}

// StopTransactionRequest payload.
type StopTransactionRequest struct {
	TransactionId   int          `json:"transactionId"`
	IdTag           string       `json:"idTag,omitempty"`
	MeterStop       int          `json:"meterStop"`
	Timestamp       DateTime     `json:"timestamp"`
	Reason          string       `json:"reason,omitempty"`
	TransactionData []MeterValue `json:"transactionData,omitempty"`
}

// StopTransactionResponse payload.
type StopTransactionResponse struct {
	IdTagInfo *IdTagInfo `json:"idTagInfo,omitempty"`
}

// RemoteStartTransactionRequest payload.
type RemoteStartTransactionRequest struct {
	ConnectorId *int   `json:"connectorId,omitempty"`
	IdTag       string `json:"idTag"`
}

// RemoteStopTransactionRequest payload.
type RemoteStopTransactionRequest struct {
	TransactionId int `json:"transactionId"`
}

// UnlockConnectorRequest payload.
type UnlockConnectorRequest struct {
	ConnectorId int `json:"connectorId"`
}

// ChangeAvailabilityRequest payload.
type ChangeAvailabilityRequest struct {
	ConnectorId int    `json:"connectorId"`
	Type        string `json:"type"`
}

// ChangeConfigurationRequest payload.
type ChangeConfigurationRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ClearCacheRequest is empty.
type ClearCacheRequest struct{}

// GetConfigurationRequest payload. An empty key list asks for everything.
type GetConfigurationRequest struct {
	Key []string `json:"key,omitempty"`
}

// KeyValue is one configuration entry.
type KeyValue struct {
	Key      string  `json:"key"`
	Readonly bool    `json:"readonly"`
	Value    *string `json:"value,omitempty"`
}

// GetConfigurationResponse payload.
type GetConfigurationResponse struct {
	ConfigurationKey []KeyValue `json:"configurationKey,omitempty"`
	UnknownKey       []string   `json:"unknownKey,omitempty"`
}

// GetDiagnosticsRequest payload. Location is where the station uploads the file.
type GetDiagnosticsRequest struct {
	Location      string    `json:"location"`
	Retries       *int      `json:"retries,omitempty"`
	RetryInterval *int      `json:"retryInterval,omitempty"`
	StartTime     *DateTime `json:"startTime,omitempty"`
	StopTime      *DateTime `json:"stopTime,omitempty"`
}

// GetDiagnosticsResponse payload. FileName is empty when there is nothing to upload.
type GetDiagnosticsResponse struct {
	FileName string `json:"fileName,omitempty"`
}

// DiagnosticsStatusNotificationRequest payload.
type DiagnosticsStatusNotificationRequest struct {
	Status string `json:"status"`
}

// DiagnosticsStatusNotificationResponse is empty.
type DiagnosticsStatusNotificationResponse struct{}

// StatusResponse is the shape shared by every confirmation that only carries a status.
type StatusResponse struct {
	Status string `json:"status"`
}

// DecodeStatus extracts the status field of a confirmation. Payloads without one yield "".
func DecodeStatus(payload json.RawMessage) string {
	if len(payload) == 0 {
		return ""
	}
	var resp StatusResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return ""
	}
	return resp.Status
}
