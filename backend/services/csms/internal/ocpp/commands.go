package ocpp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"chargehub/backend/services/csms/internal/ocpp/protocol"
)

type CommandStatus string

var idGenerator = generateID

const (
	CommandStatusQueued   CommandStatus = "queued"
	CommandStatusPending  CommandStatus = "pending"
	CommandStatusAccepted CommandStatus = "accepted"
	CommandStatusRejected CommandStatus = "rejected"
	CommandStatusFailed   CommandStatus = "failed"
	CommandStatusTimeout  CommandStatus = "timeout"
)

const (
	defaultCommandTimeout = 10 * time.Second
	defaultHistory        = 1024
)

var (
	ErrCommandTimeout = errors.New("ocpp: command timed out")
	ErrConnectionLost = errors.New("ocpp: connection lost")
	ErrNotConnected   = errors.New("ocpp: station not connected")
)

// DeviceError is a CALLERROR returned by the station.
type DeviceError struct {
	Code        string
	Description string
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("station returned %s: %s", e.Code, e.Description)
}

// ConfirmFunc runs on the station read loop while the confirmation frame is being handled,
// before Execute returns. It is not called on timeout, CALLERROR, connection loss or for a
// confirmation that arrives after the caller gave up.
type ConfirmFunc func(status CommandStatus, payload json.RawMessage)

type CommandResult struct {
	CommandID    string
	MessageID    string
	StationID    string
	Action       string
	Status       CommandStatus
	DeviceStatus string
	Payload      json.RawMessage
	Err          error
	OccurredAt   time.Time
}

type CommandSnapshot struct {
	ID           string          `json:"id"`
	StationID    string          `json:"stationId"`
	Action       string          `json:"action"`
	Status       CommandStatus   `json:"status"`
	DeviceStatus string          `json:"deviceStatus,omitempty"`
	MessageID    string          `json:"messageId,omitempty"`
	LastError    string          `json:"lastError,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
	Payload      json.RawMessage `json:"payload"`
	Response     json.RawMessage `json:"response,omitempty"`
}

// CommandObserver is told about every finished command.
type CommandObserver interface {
	CommandFinished(action string, status CommandStatus, elapsed time.Duration)
}

type CommandManagerConfig struct {
	Timeout  time.Duration
	History  int
	Logger   *zap.Logger
	Observer CommandObserver
	Log      MessageLog
}

// Conn is the write side of a station connection.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

type Command struct {
	mu           sync.Mutex
	id           string
	stationID    string
	action       string
	payload      json.RawMessage
	status       CommandStatus
	timeout      time.Duration
	createdAt    time.Time
	updatedAt    time.Time
	lastError    string
	messageID    string
	deviceStatus string
	response     json.RawMessage
	timer        *time.Timer
	onConfirm    ConfirmFunc
	done         chan struct{}
	result       CommandResult
}

func newCommand(stationID, action string, payload json.RawMessage, timeout time.Duration, onConfirm ConfirmFunc) *Command {
	now := time.Now().UTC()
	return &Command{
		id:        idGenerator(),
		stationID: stationID,
		action:    action,
		payload:   payload,
		status:    CommandStatusQueued,
		timeout:   timeout,
		createdAt: now,
		updatedAt: now,
		onConfirm: onConfirm,
		done:      make(chan struct{}),
	}
}

func (c *Command) snapshot() CommandSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	return CommandSnapshot{
		ID:           c.id,
		StationID:    c.stationID,
		Action:       c.action,
		Status:       c.status,
		DeviceStatus: c.deviceStatus,
		MessageID:    c.messageID,
		LastError:    c.lastError,
		CreatedAt:    c.createdAt,
		UpdatedAt:    c.updatedAt,
		Payload:      c.payload,
		Response:     c.response,
	}
}

func (c *Command) markSent(messageID string, timer *time.Timer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.status = CommandStatusPending
	c.messageID = messageID
	c.timer = timer
	c.updatedAt = time.Now().UTC()
}

// finish records the outcome once. It reports false if the command was already finished.
func (c *Command) finish(status CommandStatus, deviceStatus string, response json.RawMessage, err error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.done:
		return false
	default:
	}

	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	now := time.Now().UTC()
	c.status = status
	c.deviceStatus = deviceStatus
	c.response = response
	c.updatedAt = now
	if err != nil {
		c.lastError = err.Error()
	}
	c.result = CommandResult{
		CommandID:    c.id,
		MessageID:    c.messageID,
		StationID:    c.stationID,
		Action:       c.action,
		Status:       status,
		DeviceStatus: deviceStatus,
		Payload:      response,
		Err:          err,
		OccurredAt:   now,
	}
	close(c.done)
	return true
}

func (c *Command) finished() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Command) outcome() CommandResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

type stationSession struct {
	stationID string
	manager   *CommandManager

	mu      sync.Mutex
	conn    Conn
	queue   []*Command
	pending map[string]*Command
}

// CommandManager correlates CALLs sent to stations with their confirmations. A station has
// at most one CALL in flight; further commands wait in a queue. Nothing is retried.
type CommandManager struct {
	mu       sync.Mutex
	sessions map[string]*stationSession
	commands map[string]*Command
	order    []string
	history  int
	timeout  time.Duration
	logger   *zap.Logger
	observer CommandObserver
	log      MessageLog
}

func NewCommandManager(cfg CommandManagerConfig) *CommandManager {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	history := cfg.History
	if history <= 0 {
		history = defaultHistory
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CommandManager{
		sessions: make(map[string]*stationSession),
		commands: make(map[string]*Command),
		history:  history,
		timeout:  timeout,
		logger:   logger,
		observer: cfg.Observer,
		log:      cfg.Log,
	}
}

// Timeout is the per-command confirmation deadline.
func (m *CommandManager) Timeout() time.Duration {
	return m.timeout
}

func (m *CommandManager) getOrCreateSessionLocked(stationID string) *stationSession {
	sess, ok := m.sessions[stationID]
	if !ok {
		sess = &stationSession{
			stationID: stationID,
			manager:   m,
			queue:     make([]*Command, 0),
			pending:   make(map[string]*Command),
		}
		m.sessions[stationID] = sess
	}
	return sess
}

// AttachConnection makes conn the write target for stationID. A previous connection is
// closed and whatever was in flight on it fails with ErrConnectionLost.
func (m *CommandManager) AttachConnection(stationID string, conn Conn) {
	m.mu.Lock()
	sess := m.getOrCreateSessionLocked(stationID)
	m.mu.Unlock()

	sess.mu.Lock()
	oldConn := sess.conn
	sess.conn = conn
	var stale []*Command
	if oldConn != nil && oldConn != conn {
		stale = sess.drainPendingLocked()
	}
	sess.mu.Unlock()

	if oldConn != nil && oldConn != conn {
		_ = oldConn.Close()
	}
	for _, cmd := range stale {
		m.complete(cmd, CommandStatusFailed, "", nil, ErrConnectionLost)
	}

	sess.flushQueue()
}

// DetachConnection forgets conn. Queued and in-flight commands fail with ErrConnectionLost.
// A conn that was already replaced is ignored.
func (m *CommandManager) DetachConnection(stationID string, conn Conn) {
	sess := m.getSession(stationID)
	if sess == nil {
		return
	}

	sess.mu.Lock()
	if sess.conn != conn {
		sess.mu.Unlock()
		return
	}
	sess.conn = nil
	failed := sess.drainPendingLocked()
	failed = append(failed, sess.queue...)
	sess.queue = make([]*Command, 0)
	sess.mu.Unlock()

	for _, cmd := range failed {
		m.complete(cmd, CommandStatusFailed, "", nil, ErrConnectionLost)
	}
}

// Connected reports whether stationID has an attached connection.
func (m *CommandManager) Connected(stationID string) bool {
	sess := m.getSession(stationID)
	if sess == nil {
		return false
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.conn != nil
}

// Execute sends action to the station and waits for the confirmation, the command timeout
// or ctx, whichever comes first. A device answer of Rejected is not an error: inspect
// Status and DeviceStatus.
func (m *CommandManager) Execute(ctx context.Context, stationID, action string, payload any, onConfirm ConfirmFunc) (CommandResult, error) {
	stationID = strings.TrimSpace(stationID)
	action = strings.TrimSpace(action)
	if stationID == "" {
		return CommandResult{}, errors.New("ocpp: station id is required")
	}
	if action == "" {
		return CommandResult{}, errors.New("ocpp: action is required")
	}
	if payload == nil {
		payload = struct{}{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return CommandResult{}, fmt.Errorf("ocpp: encode %s: %w", action, err)
	}

	cmd := newCommand(stationID, action, body, m.timeout, onConfirm)
	m.register(cmd)

	sess := m.getSession(stationID)
	if sess == nil || !sess.enqueueCommand(cmd) {
		m.complete(cmd, CommandStatusFailed, "", nil, ErrNotConnected)
		return cmd.outcome(), ErrNotConnected
	}
	m.logger.Debug("command queued",
		zap.String("station_id", stationID),
		zap.String("action", action),
		zap.String("command_id", cmd.id),
	)

	select {
	case <-cmd.done:
		result := cmd.outcome()
		return result, result.Err
	case <-ctx.Done():
		err := ctx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", ErrCommandTimeout, err)
		}
		sess.abandon(cmd)
		m.complete(cmd, CommandStatusTimeout, "", nil, err)
		result := cmd.outcome()
		return result, result.Err
	}
}

func (m *CommandManager) GetCommandSnapshot(commandID string) (CommandSnapshot, bool) {
	m.mu.Lock()
	cmd, ok := m.commands[commandID]
	m.mu.Unlock()
	if !ok {
		return CommandSnapshot{}, false
	}
	return cmd.snapshot(), true
}

func (m *CommandManager) HandleCallResult(stationID, messageID string, payload json.RawMessage) {
	sess := m.getSession(stationID)
	if sess == nil {
		m.logger.Warn("call result for unknown station", zap.String("station_id", stationID), zap.String("message_id", messageID))
		return
	}
	cmd := sess.takePending(messageID)
	if cmd == nil {
		m.logger.Warn("call result without pending command", zap.String("station_id", stationID), zap.String("message_id", messageID))
		return
	}

	deviceStatus := protocol.DecodeStatus(payload)
	status, err := classifyStatus(deviceStatus)

	if cmd.onConfirm != nil && err == nil && !cmd.finished() {
		cmd.onConfirm(status, payload)
	}
	m.complete(cmd, status, deviceStatus, payload, err)

	sess.flushQueue()
}

func (m *CommandManager) HandleCallError(stationID, messageID, errorCode, description string, details json.RawMessage) {
	sess := m.getSession(stationID)
	if sess == nil {
		m.logger.Warn("call error for unknown station", zap.String("station_id", stationID), zap.String("message_id", messageID))
		return
	}
	cmd := sess.takePending(messageID)
	if cmd == nil {
		m.logger.Warn("call error without pending command", zap.String("station_id", stationID), zap.String("message_id", messageID))
		return
	}

	m.complete(cmd, CommandStatusFailed, "", details, &DeviceError{Code: errorCode, Description: description})

	sess.flushQueue()
}

func (m *CommandManager) handleTimeout(stationID, messageID string) {
	sess := m.getSession(stationID)
	if sess == nil {
		return
	}

	cmd := sess.takePending(messageID)
	if cmd == nil {
		return
	}

	m.complete(cmd, CommandStatusTimeout, "", nil, ErrCommandTimeout)

	sess.flushQueue()
}

func (m *CommandManager) complete(cmd *Command, status CommandStatus, deviceStatus string, response json.RawMessage, err error) {
	if !cmd.finish(status, deviceStatus, response, err) {
		return
	}
	snap := cmd.snapshot()
	fields := []zap.Field{
		zap.String("station_id", snap.StationID),
		zap.String("action", snap.Action),
		zap.String("command_id", snap.ID),
		zap.String("status", string(status)),
	}
	if deviceStatus != "" {
		fields = append(fields, zap.String("device_status", deviceStatus))
	}
	if err != nil {
		m.logger.Warn("command failed", append(fields, zap.Error(err))...)
	} else {
		m.logger.Info("command completed", fields...)
	}
	if m.observer != nil {
		m.observer.CommandFinished(snap.Action, status, snap.UpdatedAt.Sub(snap.CreatedAt))
	}
}

func (m *CommandManager) register(cmd *Command) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.commands[cmd.id] = cmd
	m.order = append(m.order, cmd.id)
	for len(m.order) > m.history {
		delete(m.commands, m.order[0])
		m.order = m.order[1:]
	}
}

func (m *CommandManager) getSession(stationID string) *stationSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[stationID]
}

func (s *stationSession) enqueueCommand(cmd *Command) bool {
	s.mu.Lock()
	if s.conn == nil {
		s.mu.Unlock()
		return false
	}
	s.queue = append(s.queue, cmd)
	s.mu.Unlock()
	s.flushQueue()
	return true
}

func (s *stationSession) flushQueue() {
	for {
		cmd, conn, messageID := s.nextCommand()
		if cmd == nil {
			return
		}
		if err := s.sendCommand(conn, cmd, messageID); err != nil {
			s.takePending(messageID)
			s.manager.complete(cmd, CommandStatusFailed, "", nil, fmt.Errorf("send command: %w", err))
		}
	}
}

// nextCommand pops the queue head and reserves it as pending so a fast confirmation cannot
// arrive before the command is known.
func (s *stationSession) nextCommand() (*Command, Conn, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil || len(s.pending) > 0 || len(s.queue) == 0 {
		return nil, nil, ""
	}
	cmd := s.queue[0]
	s.queue = s.queue[1:]
	messageID := idGenerator()
	s.pending[messageID] = cmd
	return cmd, s.conn, messageID
}

func (s *stationSession) sendCommand(conn Conn, cmd *Command, messageID string) error {
	snap := cmd.snapshot()
	frame := []any{protocol.MessageTypeCall, messageID, snap.Action, snap.Payload}

	timer := time.AfterFunc(cmd.timeout, func() {
		s.manager.handleTimeout(s.stationID, messageID)
	})
	cmd.markSent(messageID, timer)

	if err := conn.WriteJSON(frame); err != nil {
		timer.Stop()
		return err
	}

	if s.manager.log != nil {
		if raw, err := json.Marshal(frame); err == nil {
			_ = s.manager.log.Save(context.Background(), s.stationID, "outgoing", snap.Action, raw)
		}
	}
	s.manager.logger.Debug("command sent",
		zap.String("station_id", s.stationID),
		zap.String("action", snap.Action),
		zap.String("message_id", messageID),
	)
	return nil
}

func (s *stationSession) takePending(messageID string) *Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	cmd, ok := s.pending[messageID]
	if ok {
		delete(s.pending, messageID)
	}
	return cmd
}

func (s *stationSession) drainPendingLocked() []*Command {
	cmds := make([]*Command, 0, len(s.pending))
	for _, cmd := range s.pending {
		cmds = append(cmds, cmd)
	}
	s.pending = make(map[string]*Command)
	return cmds
}

// abandon drops cmd from the queue after its caller gave up. A command already sent keeps
// the in-flight slot until its confirmation or the command timer releases it.
func (s *stationSession) abandon(cmd *Command) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, queued := range s.queue {
		if queued == cmd {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return
		}
	}
}

// classifyStatus maps the per-action confirmation vocabulary onto CommandStatus.
// Confirmations without a status field (GetConfiguration) count as accepted.
func classifyStatus(status string) (CommandStatus, error) {
	switch status {
	case "", protocol.StatusAccepted, protocol.StatusUnlocked, protocol.StatusScheduled, protocol.StatusRebootRequired:
		return CommandStatusAccepted, nil
	case protocol.StatusRejected, protocol.StatusUnlockFailed, protocol.StatusNotSupported:
		return CommandStatusRejected, nil
	default:
		return CommandStatusFailed, fmt.Errorf("unexpected status: %s", status)
	}
}

func generateID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
