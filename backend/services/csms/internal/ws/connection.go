package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chargehub/backend/services/csms/internal/ocpp"
)

const (
	sendBuffer = 64
	readLimit  = 1024 * 1024
)

var (
	ErrConnectionClosed = errors.New("ws: connection closed")
	ErrSendBufferFull   = errors.New("ws: send buffer full")
)

// MessageProcessor handles raw OCPP messages.
type MessageProcessor interface {
	Process(ctx context.Context, stationID string, raw []byte) (ocpp.Result, error)
}

// Connection represents active station WebSocket connection. Frames are read on one
// goroutine and written by another from a buffered queue.
type Connection struct {
	stationID    string
	ws           *websocket.Conn
	send         chan []byte
	logger       *zap.Logger
	processor    MessageProcessor
	writeTimeout time.Duration
	readTimeout  time.Duration
	onClose      func(*Connection)

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
}

// NewConnection builds connection wrapper.
func NewConnection(stationID string, conn *websocket.Conn, processor MessageProcessor, writeTimeout, readTimeout time.Duration, logger *zap.Logger, onClose func(*Connection)) *Connection {
	return &Connection{
		stationID:    stationID,
		ws:           conn,
		send:         make(chan []byte, sendBuffer),
		logger:       logger.With(zap.String("station_id", stationID)),
		processor:    processor,
		writeTimeout: writeTimeout,
		readTimeout:  readTimeout,
		onClose:      onClose,
	}
}

// StationID returns identifier.
func (c *Connection) StationID() string {
	return c.stationID
}

// Start launches the write pump and blocks in the read pump until the connection closes.
func (c *Connection) Start(ctx context.Context) {
	go c.writePump(ctx)
	c.readPump(ctx)
}

func (c *Connection) readPump(ctx context.Context) {
	defer c.cleanup()
	c.ws.SetReadLimit(readLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.readTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.readTimeout))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		messageType, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("connection read failed", zap.Error(err))
			} else {
				c.logger.Info("connection read closed", zap.Error(err))
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.readTimeout))
		if messageType != websocket.TextMessage {
			c.logger.Warn("ignoring non-text frame", zap.Int("message_type", messageType))
			continue
		}

		result, err := c.processor.Process(ctx, c.stationID, message)
		if err != nil {
			c.logger.Warn("failed to process message", zap.Error(err))
			continue
		}
		if result.Response != nil {
			if err := c.Send(result.Response); err != nil {
				c.logger.Warn("failed to queue response", zap.Error(err))
				continue
			}
		}
		if result.After != nil {
			go result.After(ctx)
		}
	}
}

func (c *Connection) writePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			_ = c.ws.Close()
			return
		case msg, ok := <-c.send:
			if !ok {
				_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				_ = c.ws.Close()
				return
			}
			if err := c.write(websocket.TextMessage, msg); err != nil {
				c.logger.Warn("write failed, closing", zap.Error(err))
				_ = c.ws.Close()
				return
			}
		}
	}
}

// Send enqueues a frame for writing. It never blocks.
func (c *Connection) Send(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnectionClosed
	}
	select {
	case c.send <- msg:
		return nil
	default:
		c.logger.Warn("dropping outgoing message, buffer full")
		return ErrSendBufferFull
	}
}

// WriteJSON encodes v and queues it.
func (c *Connection) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Send(data)
}

// Ping sends ping.
func (c *Connection) Ping() error {
	return c.ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(c.writeTimeout))
}

// Close drops the socket; the read pump notices and cleans up.
func (c *Connection) Close() error {
	return c.ws.Close()
}

func (c *Connection) write(messageType int, data []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.ws.WriteMessage(messageType, data)
}

func (c *Connection) cleanup() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		close(c.send)
		c.mu.Unlock()

		if c.onClose != nil {
			c.onClose(c)
		}
	})
}
