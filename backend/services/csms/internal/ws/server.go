package ws

import (
	"context"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chargehub/backend/services/csms/internal/ocpp"
	"chargehub/backend/services/csms/internal/ocpp/protocol"
	"chargehub/backend/services/csms/internal/station"
)

// Sessions creates and closes station sessions.
type Sessions interface {
	Connect(stationID string) *station.Session
	Disconnect(stationID string, sess *station.Session)
}

// Commands is the outbound side that writes CSMS calls to the station.
type Commands interface {
	AttachConnection(stationID string, conn ocpp.Conn)
	DetachConnection(stationID string, conn ocpp.Conn)
}

type ServerConfig struct {
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
}

// Server upgrades HTTP connections to WebSockets for OCPP.
type Server struct {
	manager   *Manager
	sessions  Sessions
	commands  Commands
	processor MessageProcessor
	logger    *zap.Logger
	cfg       ServerConfig
	upgrader  websocket.Upgrader
	ctx       context.Context
}

// NewServer builds ws server. Connections live until ctx is cancelled or the peer leaves.
func NewServer(ctx context.Context, manager *Manager, sessions Sessions, commands Commands, processor MessageProcessor, cfg ServerConfig, logger *zap.Logger) *Server {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 15 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 2 * manager.pingInterval
	}
	return &Server{
		manager:   manager,
		sessions:  sessions,
		commands:  commands,
		processor: processor,
		logger:    logger,
		cfg:       cfg,
		ctx:       ctx,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			Subprotocols:    []string{protocol.Subprotocol},
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// StationID is the last path segment of /ocpp/{stationId}.
func StationID(r *http.Request) string {
	if id := strings.TrimSpace(mux.Vars(r)["stationId"]); id != "" {
		return id
	}
	id := path.Base(strings.TrimRight(r.URL.Path, "/"))
	if id == "." || id == "/" || id == "ocpp" {
		return ""
	}
	return id
}

func offersSubprotocol(r *http.Request) bool {
	for _, p := range websocket.Subprotocols(r) {
		if p == protocol.Subprotocol {
			return true
		}
	}
	return false
}

// HandleWS is HTTP handler for /ocpp/{stationId} endpoint.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	stationID := StationID(r)
	if stationID == "" {
		http.Error(w, "station id is required", http.StatusBadRequest)
		return
	}
	if !offersSubprotocol(r) {
		s.logger.Warn("rejecting connection without ocpp1.6 subprotocol",
			zap.String("station_id", stationID),
			zap.Strings("offered", websocket.Subprotocols(r)),
		)
		http.Error(w, "subprotocol "+protocol.Subprotocol+" is required", http.StatusBadRequest)
		return
	}

	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.String("station_id", stationID), zap.Error(err))
		return
	}

	sess := s.sessions.Connect(stationID)
	ctx, cancel := context.WithCancel(station.WithSession(s.ctx, sess))

	connection := NewConnection(stationID, wsConn, s.processor, s.cfg.WriteTimeout, s.cfg.ReadTimeout, s.logger, func(c *Connection) {
		s.commands.DetachConnection(stationID, c)
		s.manager.Remove(c)
		s.sessions.Disconnect(stationID, sess)
		cancel()
		s.logger.Info("station connection closed", zap.String("station_id", stationID))
	})
	s.commands.AttachConnection(stationID, connection)
	if previous := s.manager.Add(connection); previous != nil {
		_ = previous.Close()
	}

	s.logger.Info("station connected",
		zap.String("station_id", stationID),
		zap.String("remote_addr", r.RemoteAddr),
	)
	go connection.Start(ctx)
}
