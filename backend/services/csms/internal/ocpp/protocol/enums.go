package protocol

// MessageType values as per OCPP-J.
const (
	MessageTypeCall       = 2
	MessageTypeCallResult = 3
	MessageTypeCallError  = 4
)

// Subprotocol negotiated on the websocket upgrade.
const Subprotocol = "ocpp1.6"

// Actions initiated by the station.
const (
	ActionAuthorize                     = "Authorize"
	ActionBootNotification              = "BootNotification"
	ActionDataTransfer                  = "DataTransfer"
	ActionDiagnosticsStatusNotification = "DiagnosticsStatusNotification"
	ActionHeartbeat                     = "Heartbeat"
	ActionMeterValues                   = "MeterValues"
	ActionStartTransaction              = "StartTransaction"
	ActionStatusNotification            = "StatusNotification"
	ActionStopTransaction               = "StopTransaction"
)

// Actions initiated by the CSMS.
const (
	ActionChangeAvailability     = "ChangeAvailability"
	ActionChangeConfiguration    = "ChangeConfiguration"
	ActionClearCache             = "ClearCache"
	ActionGetConfiguration       = "GetConfiguration"
	ActionGetDiagnostics         = "GetDiagnostics"
	ActionRemoteStartTransaction = "RemoteStartTransaction"
	ActionRemoteStopTransaction  = "RemoteStopTransaction"
	ActionUnlockConnector        = "UnlockConnector"
)

// StationActions lists every action a station may send; each needs exactly one handler.
var StationActions = []string{
	ActionAuthorize,
	ActionBootNotification,
	ActionDataTransfer,
	ActionDiagnosticsStatusNotification,
	ActionHeartbeat,
	ActionMeterValues,
	ActionStartTransaction,
	ActionStatusNotification,
	ActionStopTransaction,
}

// Registration status values.
const (
	RegistrationAccepted = "Accepted"
	RegistrationPending  = "Pending"
	RegistrationRejected = "Rejected"
)

// Authorization status values for IdTagInfo.
const (
	AuthorizationAccepted     = "Accepted"
	AuthorizationBlocked      = "Blocked"
	AuthorizationExpired      = "Expired"
	AuthorizationInvalid      = "Invalid"
	AuthorizationConcurrentTx = "ConcurrentTx"
)

// ConnectorStatus as reported by StatusNotification. Offline is CSMS-side only.
type ConnectorStatus string

const (
	ConnectorAvailable     ConnectorStatus = "Available"
	ConnectorPreparing     ConnectorStatus = "Preparing"
	ConnectorCharging      ConnectorStatus = "Charging"
	ConnectorSuspendedEV   ConnectorStatus = "SuspendedEV"
	ConnectorSuspendedEVSE ConnectorStatus = "SuspendedEVSE"
	ConnectorFinishing     ConnectorStatus = "Finishing"
	ConnectorReserved      ConnectorStatus = "Reserved"
	ConnectorOccupied      ConnectorStatus = "Occupied"
	ConnectorUnavailable   ConnectorStatus = "Unavailable"
	ConnectorFaulted       ConnectorStatus = "Faulted"
	ConnectorOffline       ConnectorStatus = "Offline"
)

// Generic confirmation status values shared by several CSMS initiated commands.
const (
	StatusAccepted         = "Accepted"
	StatusRejected         = "Rejected"
	StatusScheduled        = "Scheduled"
	StatusRebootRequired   = "RebootRequired"
	StatusNotSupported     = "NotSupported"
	StatusUnlocked         = "Unlocked"
	StatusUnlockFailed     = "UnlockFailed"
	StatusUnknownMessageID = "UnknownMessageId"
	StatusUnknownVendorID  = "UnknownVendorId"
)

// Availability types for ChangeAvailability.
const (
	AvailabilityOperative   = "Operative"
	AvailabilityInoperative = "Inoperative"
)

// Sampled value measurands and units used by the CSMS.
const (
	MeasurandPowerActiveImport  = "Power.Active.Import"
	MeasurandEnergyActiveImport = "Energy.Active.Import.Register"
	UnitW                       = "W"
	UnitKW                      = "kW"
)

// CALLERROR codes.
const (
	ErrorNotImplemented              = "NotImplemented"
	ErrorNotSupported                = "NotSupported"
	ErrorInternalError               = "InternalError"
	ErrorProtocolError               = "ProtocolError"
	ErrorPropertyConstraintViolation = "PropertyConstraintViolation"
	ErrorFormationViolation          = "FormationViolation"
	ErrorGenericError                = "GenericError"
)

// Diagnostics upload states reported by DiagnosticsStatusNotification.
const (
	DiagnosticsIdle         = "Idle"
	DiagnosticsUploaded     = "Uploaded"
	DiagnosticsUploadFailed = "UploadFailed"
	DiagnosticsUploading    = "Uploading"
)
