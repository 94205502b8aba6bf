package station

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"chargehub/backend/services/csms/internal/ocpp"
	"chargehub/backend/services/csms/internal/ocpp/protocol"
)

// Commander sends CSMS initiated calls and waits for the confirmation.
type Commander interface {
	Execute(ctx context.Context, stationID, action string, payload any, onConfirm ocpp.ConfirmFunc) (ocpp.CommandResult, error)
}

// IDAllocator issues transaction ids.
type IDAllocator interface {
	Next() int
}

type Options struct {
	HeartbeatInterval time.Duration
	CommandTimeout    time.Duration
	BootConfigTimeout time.Duration
	WatchdogEnabled   bool
	WatchdogTimeout   time.Duration
	AllowedIDTags     []string

	// PendingStartTimeout bounds how long an accepted remote start is expected. Defaults to
	// WatchdogTimeout.
	PendingStartTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		HeartbeatInterval: 300 * time.Second,
		CommandTimeout:    10 * time.Second,
		BootConfigTimeout: 10 * time.Second,
		WatchdogEnabled:   true,
		WatchdogTimeout:   90 * time.Second,
	}
}

// Deps are shared by every session of a registry.
type Deps struct {
	Commander Commander
	IDs       IDAllocator
	AutoStop  *AutoStopMonitor
	Sink      EventSink
	Logger    *zap.Logger
	Options   Options
	Now       func() time.Time
}

// CommandOutcome is the station's answer to an operator command.
type CommandOutcome struct {
	CommandID string `json:"commandId"`
	Status    string `json:"status"`
	Accepted  bool   `json:"accepted"`
}

func outcomeOf(res ocpp.CommandResult) CommandOutcome {
	return CommandOutcome{
		CommandID: res.CommandID,
		Status:    res.DeviceStatus,
		Accepted:  res.Status == ocpp.CommandStatusAccepted,
	}
}

// ActiveTransaction is one row of the active session listing.
type ActiveTransaction struct {
	StationID     string    `json:"stationId"`
	ConnectorID   int       `json:"connectorId"`
	IDTag         string    `json:"idTag"`
	TransactionID int       `json:"transactionId"`
	StartedAt     time.Time `json:"startedAt"`
}

// Snapshot is a read-only view of a session.
type Snapshot struct {
	StationID         string              `json:"stationId"`
	Online            bool                `json:"online"`
	ConnectedAt       time.Time           `json:"connectedAt"`
	LastSeen          time.Time           `json:"lastSeen"`
	DisconnectedAt    *time.Time          `json:"disconnectedAt,omitempty"`
	Boot              *BootInfo           `json:"boot,omitempty"`
	ConfigurationKeys []string            `json:"configurationKeys,omitempty"`
	DiagnosticsStatus string              `json:"diagnosticsStatus,omitempty"`
	Connectors        []ConnectorSnapshot `json:"connectors"`
}

// Session is the CSMS side of one station connection. Connector state is guarded by mu,
// which is never held across a round trip to the station.
type Session struct {
	id        string
	commander Commander
	ids       IDAllocator
	autoStop  *AutoStopMonitor
	sink      EventSink
	logger    *zap.Logger
	opts      Options
	allowed   map[string]struct{}
	now       func() time.Time

	mu             sync.Mutex
	connectors     map[int]*ConnectorState
	boot           *BootInfo
	configuration  []protocol.KeyValue
	online         bool
	connectedAt    time.Time
	lastSeen       time.Time
	disconnectedAt time.Time
	diagnostics    string
}

func NewSession(stationID string, deps Deps) *Session {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sink := deps.Sink
	if sink == nil {
		sink = nopSink{}
	}
	opts := deps.Options
	defaults := DefaultOptions()
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = defaults.HeartbeatInterval
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = defaults.CommandTimeout
	}
	if opts.BootConfigTimeout <= 0 {
		opts.BootConfigTimeout = defaults.BootConfigTimeout
	}
	if opts.WatchdogTimeout <= 0 {
		opts.WatchdogTimeout = defaults.WatchdogTimeout
	}
	if opts.PendingStartTimeout <= 0 {
		opts.PendingStartTimeout = opts.WatchdogTimeout
	}

	allowed := make(map[string]struct{}, len(opts.AllowedIDTags))
	for _, tag := range opts.AllowedIDTags {
		allowed[tag] = struct{}{}
	}

	connectedAt := now().UTC()
	return &Session{
		id:          stationID,
		commander:   deps.Commander,
		ids:         deps.IDs,
		autoStop:    deps.AutoStop,
		sink:        sink,
		logger:      logger.With(zap.String("station_id", stationID)),
		opts:        opts,
		allowed:     allowed,
		now:         now,
		connectors:  make(map[int]*ConnectorState),
		online:      true,
		connectedAt: connectedAt,
		lastSeen:    connectedAt,
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

func (s *Session) connectorLocked(id int, now time.Time) *ConnectorState {
	c, ok := s.connectors[id]
	if !ok {
		c = newConnectorState(id, now)
		s.connectors[id] = c
	}
	return c
}

func (s *Session) publish(ev Event) {
	ev.StationID = s.id
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.now().UTC()
	}
	s.sink.Publish(context.Background(), ev)
}

// OnBoot records the station identity and accepts it.
func (s *Session) OnBoot(req protocol.BootNotificationRequest) protocol.BootNotificationResponse {
	now := s.now().UTC()
	serial := req.ChargePointSerialNumber
	if serial == "" {
		serial = req.ChargeBoxSerialNumber
	}
	info := BootInfo{
		Vendor:          req.ChargePointVendor,
		Model:           req.ChargePointModel,
		SerialNumber:    serial,
		FirmwareVersion: req.FirmwareVersion,
		BootedAt:        now,
	}

	s.mu.Lock()
	s.boot = &info
	s.lastSeen = now
	s.mu.Unlock()

	s.logger.Info("station booted",
		zap.String("vendor", info.Vendor),
		zap.String("model", info.Model),
		zap.String("firmware", info.FirmwareVersion),
	)
	s.publish(Event{Type: EventStationBooted, Boot: &info, Timestamp: now})

	return protocol.BootNotificationResponse{
		CurrentTime: protocol.NewDateTime(now),
		Interval:    int(s.opts.HeartbeatInterval / time.Second),
		Status:      protocol.RegistrationAccepted,
	}
}

// FetchConfiguration asks the station for its configuration after boot. Failure or timeout
// is not fatal: the session simply carries no configuration data.
func (s *Session) FetchConfiguration(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.BootConfigTimeout)
	defer cancel()

	resp, err := s.GetConfiguration(ctx, nil)
	if err != nil {
		s.logger.Warn("configuration fetch failed, continuing without it", zap.Error(err))
		return
	}
	s.logger.Info("configuration fetched",
		zap.Int("keys", len(resp.ConfigurationKey)),
		zap.Int("unknown_keys", len(resp.UnknownKey)),
	)
}

// OnAuthorize accepts everyone when no allow-list is configured.
func (s *Session) OnAuthorize(req protocol.AuthorizeRequest) protocol.AuthorizeResponse {
	s.touch()

	status := protocol.AuthorizationAccepted
	if len(s.allowed) > 0 {
		if _, ok := s.allowed[req.IdTag]; !ok {
			status = protocol.AuthorizationInvalid
		}
	}
	s.logger.Info("authorize", zap.String("id_tag", req.IdTag), zap.String("status", status))
	return protocol.AuthorizeResponse{IdTagInfo: protocol.IdTagInfo{Status: status}}
}

// OnStatusNotification updates the connector and arms or cancels its watchdog.
func (s *Session) OnStatusNotification(req protocol.StatusNotificationRequest) protocol.StatusNotificationResponse {
	now := s.now().UTC()

	s.mu.Lock()
	s.lastSeen = now
	c := s.connectorLocked(req.ConnectorId, now)
	previous := c.Status
	wasAwaiting := c.awaitingSession()
	c.Status = req.Status
	c.ErrorCode = req.ErrorCode
	c.Info = req.Info
	c.UpdatedAt = now

	armed, cancelled, dropped := false, false, ""
	if req.ConnectorId > 0 {
		if c.awaitingSession() {
			if c.Watchdog == nil && s.opts.WatchdogEnabled {
				connectorID := req.ConnectorId
				c.Watchdog = NewWatchdog(s.opts.WatchdogTimeout, func(w *Watchdog) {
					s.watchdogExpired(connectorID, w)
				})
				armed = c.Watchdog.Arm()
			}
		} else {
			cancelled = c.cancelWatchdog()
			// the connector left Preparing/Occupied without a transaction: nobody is going
			// to start the session the operator asked for
			if wasAwaiting && c.ActiveTransaction == nil && c.PendingRemoteStart != "" {
				dropped = c.PendingRemoteStart
				c.clearPending()
			}
		}
	}
	s.mu.Unlock()

	fields := []zap.Field{
		zap.Int("connector_id", req.ConnectorId),
		zap.String("status", string(req.Status)),
		zap.String("error_code", req.ErrorCode),
	}
	s.logger.Info("status notification", fields...)
	if armed {
		s.logger.Debug("watchdog armed", zap.Int("connector_id", req.ConnectorId), zap.Duration("timeout", s.opts.WatchdogTimeout))
	}
	if cancelled {
		s.logger.Debug("watchdog cancelled", zap.Int("connector_id", req.ConnectorId))
	}
	if dropped != "" {
		s.logger.Info("pending remote start dropped",
			zap.Int("connector_id", req.ConnectorId),
			zap.String("id_tag", dropped),
			zap.String("status", string(req.Status)),
		)
	}

	s.publish(Event{
		Type:           EventConnectorStatus,
		ConnectorID:    req.ConnectorId,
		Status:         string(req.Status),
		PreviousStatus: string(previous),
		ErrorCode:      req.ErrorCode,
		Timestamp:      now,
	})
	return protocol.StatusNotificationResponse{}
}

// OnStartTransaction correlates the start with a pending remote start. A start whose id tag
// differs from the one the CSMS asked for is rejected and the connector unlocked. Starts
// without a pending expectation are accepted.
func (s *Session) OnStartTransaction(req protocol.StartTransactionRequest) protocol.StartTransactionResponse {
	now := s.now().UTC()
	startedAt := req.Timestamp.Time
	if startedAt.IsZero() {
		startedAt = now
	}

	s.mu.Lock()
	s.lastSeen = now
	c := s.connectorLocked(req.ConnectorId, now)
	if c.pendingExpired(now, s.opts.PendingStartTimeout) {
		s.logger.Info("pending remote start expired",
			zap.Int("connector_id", req.ConnectorId),
			zap.String("id_tag", c.PendingRemoteStart),
		)
		c.clearPending()
	}
	expected := c.PendingRemoteStart

	if expected != "" && expected != req.IdTag {
		c.clearPending()
		s.mu.Unlock()

		s.logger.Warn("start transaction id tag mismatch, rejecting",
			zap.Int("connector_id", req.ConnectorId),
			zap.String("expected_id_tag", expected),
			zap.String("id_tag", req.IdTag),
		)
		go s.unlockAfterMismatch(req.ConnectorId)
		s.publish(Event{
			Type:        EventTransactionRejected,
			ConnectorID: req.ConnectorId,
			IDTag:       req.IdTag,
			Reason:      "id tag mismatch",
			Timestamp:   now,
		})
		return protocol.StartTransactionResponse{
			TransactionId: 0,
			IdTagInfo:     protocol.IdTagInfo{Status: protocol.AuthorizationInvalid},
		}
	}

	meta := c.PendingStartMeta
	c.clearPending()
	superseded := c.ActiveTransaction
	tx := &Transaction{
		ID:          s.ids.Next(),
		ConnectorID: req.ConnectorId,
		IDTag:       req.IdTag,
		MeterStart:  req.MeterStart,
		StartedAt:   startedAt,
		Meta:        meta,
	}
	c.ActiveTransaction = tx
	c.UpdatedAt = now
	c.cancelWatchdog()
	s.mu.Unlock()

	if superseded != nil {
		s.logger.Warn("start transaction replaces an unfinished transaction",
			zap.Int("connector_id", req.ConnectorId),
			zap.Int("transaction_id", superseded.ID),
		)
		s.publish(Event{
			Type:          EventTransactionStopped,
			ConnectorID:   req.ConnectorId,
			TransactionID: superseded.ID,
			IDTag:         superseded.IDTag,
			Reason:        "Superseded",
			Timestamp:     now,
		})
	}
	if s.autoStop != nil {
		s.autoStop.Track(s.id, req.ConnectorId, tx.ID)
	}

	s.logger.Info("transaction started",
		zap.Int("connector_id", req.ConnectorId),
		zap.Int("transaction_id", tx.ID),
		zap.String("id_tag", req.IdTag),
		zap.Int("meter_start", req.MeterStart),
	)
	meterStart := req.MeterStart
	s.publish(Event{
		Type:          EventTransactionStarted,
		ConnectorID:   req.ConnectorId,
		TransactionID: tx.ID,
		IDTag:         req.IdTag,
		Meter:         &meterStart,
		Meta:          copyMeta(meta),
		Timestamp:     startedAt,
	})

	return protocol.StartTransactionResponse{
		TransactionId: tx.ID,
		IdTagInfo:     protocol.IdTagInfo{Status: protocol.AuthorizationAccepted},
	}
}

func (s *Session) unlockAfterMismatch(connectorID int) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.CommandTimeout)
	defer cancel()

	if _, err := s.UnlockConnector(ctx, connectorID); err != nil {
		s.logger.Warn("unlock after rejected start failed", zap.Int("connector_id", connectorID), zap.Error(err))
	}
}

// OnStopTransaction clears the transaction wherever it is. Unknown ids are still accepted so
// the station can empty its queue.
func (s *Session) OnStopTransaction(req protocol.StopTransactionRequest) protocol.StopTransactionResponse {
	now := s.now().UTC()

	s.mu.Lock()
	s.lastSeen = now
	var stopped *Transaction
	for _, c := range s.connectors {
		if c.ActiveTransaction != nil && c.ActiveTransaction.ID == req.TransactionId {
			stopped = c.ActiveTransaction
			c.ActiveTransaction = nil
			c.UpdatedAt = now
			break
		}
	}
	s.mu.Unlock()

	resp := protocol.StopTransactionResponse{IdTagInfo: &protocol.IdTagInfo{Status: protocol.AuthorizationAccepted}}
	if stopped == nil {
		s.logger.Warn("stop for unknown transaction", zap.Int("transaction_id", req.TransactionId))
		return resp
	}

	if s.autoStop != nil {
		s.autoStop.Untrack(s.id, stopped.ConnectorID)
	}
	s.logger.Info("transaction stopped",
		zap.Int("connector_id", stopped.ConnectorID),
		zap.Int("transaction_id", stopped.ID),
		zap.Int("meter_stop", req.MeterStop),
		zap.Int("energy_wh", deliveredWh(stopped.MeterStart, req.MeterStop)),
		zap.String("reason", req.Reason),
	)
	stoppedAt := req.Timestamp.Time
	if stoppedAt.IsZero() {
		stoppedAt = now
	}
	meterStop := req.MeterStop
	energy := deliveredWh(stopped.MeterStart, req.MeterStop)
	s.publish(Event{
		Type:          EventTransactionStopped,
		ConnectorID:   stopped.ConnectorID,
		TransactionID: stopped.ID,
		IDTag:         stopped.IDTag,
		Meter:         &meterStop,
		EnergyWh:      &energy,
		Reason:        req.Reason,
		Timestamp:     stoppedAt,
	})
	return resp
}

// OnMeterValues stores the latest active power and feeds the auto-stop monitor.
func (s *Session) OnMeterValues(req protocol.MeterValuesRequest) protocol.MeterValuesResponse {
	now := s.now().UTC()
	power, ok := activePowerKW(req.MeterValue)

	s.mu.Lock()
	s.lastSeen = now
	var tx *Transaction
	if ok {
		c := s.connectorLocked(req.ConnectorId, now)
		c.PowerKW = &power
		c.UpdatedAt = now
		tx = c.ActiveTransaction
	}
	s.mu.Unlock()

	if !ok {
		return protocol.MeterValuesResponse{}
	}

	s.logger.Debug("meter values", zap.Int("connector_id", req.ConnectorId), zap.Float64("power_kw", power))
	ev := Event{Type: EventMeterSample, ConnectorID: req.ConnectorId, PowerKW: &power, Timestamp: now}
	if tx != nil {
		ev.TransactionID = tx.ID
	}
	s.publish(ev)

	if tx != nil && s.autoStop != nil {
		if txID, fire := s.autoStop.Observe(s.id, req.ConnectorId, power, now); fire {
			go s.autoStopTransaction(req.ConnectorId, txID, power)
		}
	}
	return protocol.MeterValuesResponse{}
}

func (s *Session) autoStopTransaction(connectorID, transactionID int, powerKW float64) {
	cfg := s.autoStop.Config()
	s.logger.Info("sustained low power, stopping transaction",
		zap.Int("connector_id", connectorID),
		zap.Int("transaction_id", transactionID),
		zap.Float64("power_kw", powerKW),
		zap.Float64("threshold_kw", cfg.ThresholdKW),
		zap.Duration("window", cfg.Duration),
	)
	s.publish(Event{
		Type:          EventAutoStopTriggered,
		ConnectorID:   connectorID,
		TransactionID: transactionID,
		PowerKW:       &powerKW,
		Reason:        "low power",
	})

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.CommandTimeout)
	defer cancel()
	if _, err := s.RemoteStop(ctx, transactionID); err != nil {
		s.logger.Warn("auto stop failed", zap.Int("transaction_id", transactionID), zap.Error(err))
	}
}

func (s *Session) OnHeartbeat() protocol.HeartbeatResponse {
	now := s.touch()
	return protocol.HeartbeatResponse{CurrentTime: protocol.NewDateTime(now)}
}

func (s *Session) OnDataTransfer(req protocol.DataTransferRequest) protocol.DataTransferResponse {
	s.touch()
	s.logger.Info("data transfer",
		zap.String("vendor_id", req.VendorId),
		zap.String("message_id", req.MessageId),
		zap.Int("data_len", len(req.Data)),
	)
	return protocol.DataTransferResponse{Status: protocol.StatusAccepted}
}

func (s *Session) touch() time.Time {
	now := s.now().UTC()
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
	return now
}

func (s *Session) watchdogExpired(connectorID int, w *Watchdog) {
	s.mu.Lock()
	c, ok := s.connectors[connectorID]
	if !ok || c.Watchdog != w || !s.online || !c.awaitingSession() || !w.Fire() {
		s.mu.Unlock()
		return
	}
	c.Watchdog = nil
	c.clearPending()
	status := c.Status
	s.mu.Unlock()

	s.logger.Info("no transaction started in time, unlocking connector",
		zap.Int("connector_id", connectorID),
		zap.String("status", string(status)),
		zap.Duration("timeout", s.opts.WatchdogTimeout),
	)
	s.publish(Event{Type: EventWatchdogFired, ConnectorID: connectorID, Status: string(status)})

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.CommandTimeout)
	defer cancel()
	if _, err := s.UnlockConnector(ctx, connectorID); err != nil {
		s.logger.Warn("watchdog unlock failed", zap.Int("connector_id", connectorID), zap.Error(err))
	}
	w.Reset()
}

func (s *Session) ensureOnline() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.online {
		return ErrStationOffline
	}
	return nil
}

// RemoteStart asks the station to start a transaction. When the station accepts, the id tag
// and meta become the connector's pending expectation before RemoteStart returns.
func (s *Session) RemoteStart(ctx context.Context, connectorID int, idTag string, meta map[string]string) (CommandOutcome, error) {
	if connectorID <= 0 {
		return CommandOutcome{}, ErrInvalidConnector
	}
	if idTag == "" {
		return CommandOutcome{}, ErrInvalidIDTag
	}

	s.mu.Lock()
	if !s.online {
		s.mu.Unlock()
		return CommandOutcome{}, ErrStationOffline
	}
	if c, ok := s.connectors[connectorID]; ok && c.ActiveTransaction != nil {
		s.mu.Unlock()
		return CommandOutcome{}, ErrTransactionActive
	}
	s.mu.Unlock()

	meta = copyMeta(meta)
	req := protocol.RemoteStartTransactionRequest{ConnectorId: &connectorID, IdTag: idTag}
	res, err := s.commander.Execute(ctx, s.id, protocol.ActionRemoteStartTransaction, req, func(status ocpp.CommandStatus, _ json.RawMessage) {
		if status != ocpp.CommandStatusAccepted {
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		now := s.now().UTC()
		c := s.connectorLocked(connectorID, now)
		if c.ActiveTransaction == nil {
			c.setPending(idTag, meta, now)
		}
	})
	if err != nil {
		return outcomeOf(res), err
	}

	s.logger.Info("remote start answered",
		zap.Int("connector_id", connectorID),
		zap.String("id_tag", idTag),
		zap.String("status", res.DeviceStatus),
	)
	return outcomeOf(res), nil
}

// RemoteStop asks the station to stop a transaction. State changes only when the station
// reports StopTransaction.
func (s *Session) RemoteStop(ctx context.Context, transactionID int) (CommandOutcome, error) {
	if err := s.ensureOnline(); err != nil {
		return CommandOutcome{}, err
	}
	if _, ok := s.Transaction(transactionID); !ok {
		return CommandOutcome{}, ErrTransactionNotFound
	}

	req := protocol.RemoteStopTransactionRequest{TransactionId: transactionID}
	res, err := s.commander.Execute(ctx, s.id, protocol.ActionRemoteStopTransaction, req, nil)
	if err != nil {
		return outcomeOf(res), err
	}
	s.logger.Info("remote stop answered", zap.Int("transaction_id", transactionID), zap.String("status", res.DeviceStatus))
	return outcomeOf(res), nil
}

// StopConnector remote-stops whatever transaction is active on the connector.
func (s *Session) StopConnector(ctx context.Context, connectorID int) (CommandOutcome, int, error) {
	tx, ok := s.ActiveTransactionOn(connectorID)
	if !ok {
		return CommandOutcome{}, 0, ErrTransactionNotFound
	}
	outcome, err := s.RemoteStop(ctx, tx.ID)
	return outcome, tx.ID, err
}

func (s *Session) UnlockConnector(ctx context.Context, connectorID int) (CommandOutcome, error) {
	if connectorID <= 0 {
		return CommandOutcome{}, ErrInvalidConnector
	}
	if err := s.ensureOnline(); err != nil {
		return CommandOutcome{}, err
	}

	res, err := s.commander.Execute(ctx, s.id, protocol.ActionUnlockConnector, protocol.UnlockConnectorRequest{ConnectorId: connectorID}, nil)
	if err != nil {
		return outcomeOf(res), err
	}
	s.logger.Info("unlock answered", zap.Int("connector_id", connectorID), zap.String("status", res.DeviceStatus))
	return outcomeOf(res), nil
}

// Release frees a connector that has no transaction: the watchdog and any pending start are
// dropped and the connector is unlocked. Connectors the station never reported are not
// touched.
func (s *Session) Release(ctx context.Context, connectorID int) (CommandOutcome, error) {
	if connectorID <= 0 {
		return CommandOutcome{}, ErrInvalidConnector
	}

	s.mu.Lock()
	if !s.online {
		s.mu.Unlock()
		return CommandOutcome{}, ErrStationOffline
	}
	c, ok := s.connectors[connectorID]
	if !ok {
		s.mu.Unlock()
		return CommandOutcome{}, ErrConnectorNotFound
	}
	if c.ActiveTransaction != nil {
		s.mu.Unlock()
		return CommandOutcome{}, ErrTransactionActive
	}
	c.cancelWatchdog()
	c.clearPending()
	s.mu.Unlock()

	s.logger.Info("releasing connector", zap.Int("connector_id", connectorID))
	return s.UnlockConnector(ctx, connectorID)
}

func (s *Session) ChangeAvailability(ctx context.Context, connectorID int, availability string) (CommandOutcome, error) {
	if connectorID < 0 {
		return CommandOutcome{}, ErrInvalidConnector
	}
	if availability != protocol.AvailabilityOperative && availability != protocol.AvailabilityInoperative {
		return CommandOutcome{}, fmt.Errorf("availability must be %s or %s", protocol.AvailabilityOperative, protocol.AvailabilityInoperative)
	}
	if err := s.ensureOnline(); err != nil {
		return CommandOutcome{}, err
	}

	req := protocol.ChangeAvailabilityRequest{ConnectorId: connectorID, Type: availability}
	res, err := s.commander.Execute(ctx, s.id, protocol.ActionChangeAvailability, req, nil)
	return outcomeOf(res), err
}

func (s *Session) ChangeConfiguration(ctx context.Context, key, value string) (CommandOutcome, error) {
	if key == "" {
		return CommandOutcome{}, fmt.Errorf("configuration key is required")
	}
	if err := s.ensureOnline(); err != nil {
		return CommandOutcome{}, err
	}

	req := protocol.ChangeConfigurationRequest{Key: key, Value: value}
	res, err := s.commander.Execute(ctx, s.id, protocol.ActionChangeConfiguration, req, func(status ocpp.CommandStatus, _ json.RawMessage) {
		if status != ocpp.CommandStatusAccepted {
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		for i := range s.configuration {
			if s.configuration[i].Key == key && !s.configuration[i].Readonly {
				v := value
				s.configuration[i].Value = &v
			}
		}
	})
	return outcomeOf(res), err
}

func (s *Session) ClearCache(ctx context.Context) (CommandOutcome, error) {
	if err := s.ensureOnline(); err != nil {
		return CommandOutcome{}, err
	}
	res, err := s.commander.Execute(ctx, s.id, protocol.ActionClearCache, protocol.ClearCacheRequest{}, nil)
	return outcomeOf(res), err
}

// GetConfiguration fetches configuration keys. A full fetch replaces the stored copy.
func (s *Session) GetConfiguration(ctx context.Context, keys []string) (protocol.GetConfigurationResponse, error) {
	if err := s.ensureOnline(); err != nil {
		return protocol.GetConfigurationResponse{}, err
	}

	res, err := s.commander.Execute(ctx, s.id, protocol.ActionGetConfiguration, protocol.GetConfigurationRequest{Key: keys}, nil)
	if err != nil {
		return protocol.GetConfigurationResponse{}, err
	}
	var resp protocol.GetConfigurationResponse
	if len(res.Payload) > 0 {
		if err := json.Unmarshal(res.Payload, &resp); err != nil {
			return protocol.GetConfigurationResponse{}, fmt.Errorf("decode configuration: %w", err)
		}
	}
	if len(keys) == 0 {
		s.mu.Lock()
		s.configuration = resp.ConfigurationKey
		s.mu.Unlock()
	}
	return resp, nil
}

// ConfigurationKeys lists keys reported by the last full configuration fetch.
func (s *Session) ConfigurationKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.configuration))
	for _, kv := range s.configuration {
		keys = append(keys, kv.Key)
	}
	return keys
}

// MarkOffline freezes the session after its connection closed. Connectors become Offline,
// watchdogs and pending starts are dropped, transactions are kept for lookup.
func (s *Session) MarkOffline() {
	now := s.now().UTC()

	s.mu.Lock()
	if !s.online {
		s.mu.Unlock()
		return
	}
	s.online = false
	s.disconnectedAt = now
	for _, c := range s.connectors {
		c.Status = protocol.ConnectorOffline
		c.UpdatedAt = now
		c.cancelWatchdog()
		c.clearPending()
	}
	s.mu.Unlock()

	if s.autoStop != nil {
		s.autoStop.UntrackStation(s.id)
	}
	s.logger.Info("station offline")
	s.publish(Event{Type: EventStationDisconnected, Timestamp: now})
}

func (s *Session) Transaction(transactionID int) (Transaction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.connectors {
		if c.ActiveTransaction != nil && c.ActiveTransaction.ID == transactionID {
			return *c.ActiveTransaction, true
		}
	}
	return Transaction{}, false
}

func (s *Session) ActiveTransactionOn(connectorID int) (Transaction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.connectors[connectorID]
	if !ok || c.ActiveTransaction == nil {
		return Transaction{}, false
	}
	return *c.ActiveTransaction, true
}

func (s *Session) Connector(connectorID int) (ConnectorSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.connectors[connectorID]
	if !ok {
		return ConnectorSnapshot{}, false
	}
	return c.snapshot(), true
}

// ActiveTransactions lists transactions ordered by connector.
func (s *Session) ActiveTransactions() []ActiveTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()

	active := make([]ActiveTransaction, 0)
	for _, c := range s.connectors {
		if c.ActiveTransaction == nil {
			continue
		}
		active = append(active, ActiveTransaction{
			StationID:     s.id,
			ConnectorID:   c.ID,
			IDTag:         c.ActiveTransaction.IDTag,
			TransactionID: c.ActiveTransaction.ID,
			StartedAt:     c.ActiveTransaction.StartedAt,
		})
	}
	sort.Slice(active, func(i, j int) bool { return active[i].ConnectorID < active[j].ConnectorID })
	return active
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		StationID:         s.id,
		Online:            s.online,
		ConnectedAt:       s.connectedAt,
		LastSeen:          s.lastSeen,
		DiagnosticsStatus: s.diagnostics,
		Connectors:        make([]ConnectorSnapshot, 0, len(s.connectors)),
	}
	if !s.disconnectedAt.IsZero() {
		at := s.disconnectedAt
		snap.DisconnectedAt = &at
	}
	if s.boot != nil {
		boot := *s.boot
		snap.Boot = &boot
	}
	for _, kv := range s.configuration {
		snap.ConfigurationKeys = append(snap.ConfigurationKeys, kv.Key)
	}
	for _, c := range s.connectors {
		snap.Connectors = append(snap.Connectors, c.snapshot())
	}
	sort.Slice(snap.Connectors, func(i, j int) bool { return snap.Connectors[i].ConnectorID < snap.Connectors[j].ConnectorID })
	return snap
}
