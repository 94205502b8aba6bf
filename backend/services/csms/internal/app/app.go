package app

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"chargehub/backend/libs/db"
	libredis "chargehub/backend/libs/redis"
	"chargehub/backend/services/csms/internal/auth"
	"chargehub/backend/services/csms/internal/cache"
	"chargehub/backend/services/csms/internal/config"
	"chargehub/backend/services/csms/internal/events"
	ocpphandlers "chargehub/backend/services/csms/internal/handlers"
	httpserver "chargehub/backend/services/csms/internal/http"
	"chargehub/backend/services/csms/internal/http/handlers"
	"chargehub/backend/services/csms/internal/http/middleware"
	"chargehub/backend/services/csms/internal/integrity"
	"chargehub/backend/services/csms/internal/metrics"
	"chargehub/backend/services/csms/internal/ocpp"
	"chargehub/backend/services/csms/internal/repository"
	"chargehub/backend/services/csms/internal/station"
	"chargehub/backend/services/csms/internal/txid"
	"chargehub/backend/services/csms/internal/ws"
)

// App wires all dependencies for the CSMS.
type App struct {
	cfg      *config.Config
	logger   *zap.Logger
	runID    string
	registry *station.Registry
	commands *ocpp.CommandManager
	manager  *ws.Manager
	metrics  *metrics.Metrics

	ocppHandler http.Handler
	apiHandler  http.Handler

	pool      *pgxpool.Pool
	audit     *repository.AuditRepository
	messages  *repository.MessageLogRepository
	redis     *redis.Client
	mirror    *cache.Mirror
	publisher *events.Publisher

	// connections live on this context so they outlast a single Run call in tests
	connCtx    context.Context
	connCancel context.CancelFunc
	closeOnce  sync.Once
}

// New builds the application graph. Postgres, Redis and MQTT are only wired when configured.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: logger, runID: uuid.NewString()}
	logger.Info("starting csms", zap.String("run_id", a.runID))
	a.connCtx, a.connCancel = context.WithCancel(context.Background())

	a.metrics = metrics.New(registrySource{app: a})
	sinks := station.Sinks{a.metrics}

	var messageLog ocpp.MessageLog
	if cfg.Database.DSN != "" {
		if err := a.openDatabase(ctx); err != nil {
			a.Close()
			return nil, err
		}
		messageLog = a.messages
		sinks = append(sinks, a.audit)
	}
	if cfg.Redis.Addr != "" {
		if err := a.openRedis(ctx); err != nil {
			a.Close()
			return nil, err
		}
		sinks = append(sinks, a.mirror)
	}
	if cfg.MQTT.BrokerURL != "" {
		a.publisher = events.NewPublisher(events.PublisherConfig{
			BrokerURL:    cfg.MQTT.BrokerURL,
			Username:     cfg.MQTT.Username,
			Password:     cfg.MQTT.Password,
			ClientID:     cfg.MQTT.ClientID,
			TopicPrefix:  cfg.MQTT.TopicPrefix,
			QoS:          byte(cfg.MQTT.QoS),
			MeterSamples: cfg.MQTT.MeterSamples,
		}, logger.Named("mqtt"))
		sinks = append(sinks, a.publisher)
	}

	a.commands = ocpp.NewCommandManager(ocpp.CommandManagerConfig{
		Timeout:  cfg.CommandTimeout(),
		History:  cfg.OCPP.CommandHistory,
		Logger:   logger.Named("commands"),
		Observer: a.metrics,
		Log:      messageLog,
	})
	a.registry = station.NewRegistry(station.Deps{
		Commander: a.commands,
		IDs:       txid.NewAllocator(),
		AutoStop: station.NewAutoStopMonitor(station.AutoStopConfig{
			Enabled:     cfg.AutoStop.Enabled,
			ThresholdKW: cfg.AutoStop.ThresholdKW,
			Duration:    cfg.AutoStop.Duration,
		}),
		Sink:   sinks,
		Logger: logger.Named("station"),
		Options: station.Options{
			HeartbeatInterval: cfg.OCPP.HeartbeatInterval,
			CommandTimeout:    cfg.CommandTimeout(),
			BootConfigTimeout: cfg.OCPP.BootConfigTimeout,
			WatchdogEnabled:   cfg.Watchdog.Enabled,
			WatchdogTimeout:   cfg.Watchdog.Timeout,
			AllowedIDTags:     cfg.OCPP.AllowedIDTags,
		},
	})

	router := ocpp.NewRouter()
	if err := ocpphandlers.Register(router, a.registry, logger.Named("handlers")); err != nil {
		a.Close()
		return nil, fmt.Errorf("register ocpp handlers: %w", err)
	}
	processor := ocpp.NewProcessor(ocpp.NewParser(), router, a.commands, messageLog, logger.Named("processor"))

	a.manager = ws.NewManager(cfg.PingInterval(), logger.Named("ws"))
	wsServer := ws.NewServer(a.connCtx, a.manager, a.registry, a.commands, processor, ws.ServerConfig{
		WriteTimeout: cfg.WriteTimeout(),
		ReadTimeout:  cfg.ReadTimeout(),
	}, logger.Named("ws"))

	ocppRouter := mux.NewRouter()
	ocppRouter.HandleFunc("/ocpp/{stationId}", wsServer.HandleWS)
	ocppRouter.HandleFunc("/{stationId}", wsServer.HandleWS)
	a.ocppHandler = ocppRouter

	var tokens *auth.TokenService
	if secret := cfg.TokenSecret(); secret != "" {
		tokens = auth.NewTokenService(secret, cfg.Auth.TokenTTL)
	}
	authenticator := integrity.NewAuthenticator(cfg.IntegrityMode(), a.metrics, logger.Named("integrity"))
	a.apiHandler = httpserver.NewRouter(httpserver.RouterDeps{
		Control:        handlers.NewControlHandlers(a.registry, authenticator, logger.Named("api")),
		Stations:       handlers.NewStationsHandlers(a.registry, a.commands, logger.Named("api")),
		Health:         handlers.HealthHandler(a.registry),
		Metrics:        a.metrics.Handler(),
		AuthMiddleware: middleware.AuthMiddleware(auth.NewKeyVerifier(cfg.Auth.APIKey, cfg.Auth.APIKeyHash), tokens, logger.Named("auth")),
	})

	return a, nil
}

func (a *App) openDatabase(ctx context.Context) error {
	pool, err := db.NewPostgresPool(ctx, a.cfg.Database.DSN)
	if err != nil {
		return err
	}
	a.pool = pool
	if a.cfg.Database.Migrate {
		if err := repository.Migrate(ctx, pool); err != nil {
			return err
		}
	}
	a.audit = repository.NewAuditRepository(pool, a.runID, a.logger.Named("audit"))
	a.messages = repository.NewMessageLogRepository(pool, a.logger.Named("ocpp_log"))
	return nil
}

func (a *App) openRedis(ctx context.Context) error {
	client, err := libredis.NewRedisClient(ctx, libredis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	if err != nil {
		return err
	}
	a.redis = client
	a.mirror = cache.NewMirror(cache.NewStore(client, a.cfg.Redis.Prefix, a.cfg.Redis.TTL), a.logger.Named("cache"))
	return nil
}

// registrySource defers to the registry, which is built after metrics.
type registrySource struct {
	app *App
}

func (s registrySource) Count() (int, int) {
	if s.app.registry == nil {
		return 0, 0
	}
	return s.app.registry.Count()
}

func (s registrySource) Active() []station.ActiveTransaction {
	if s.app.registry == nil {
		return nil
	}
	return s.app.registry.Active()
}

// OCPPHandler serves station WebSocket connections.
func (a *App) OCPPHandler() http.Handler {
	return a.ocppHandler
}

// APIHandler serves the control API, health and metrics.
func (a *App) APIHandler() http.Handler {
	return a.apiHandler
}

// Registry exposes station sessions.
func (a *App) Registry() *station.Registry {
	return a.registry
}

// Run starts background workers and both listeners, and blocks until ctx is done or a
// listener fails.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go a.manager.Start(ctx)
	if a.audit != nil {
		go a.audit.Run(ctx)
		go a.messages.Run(ctx)
	}
	if a.mirror != nil {
		go a.mirror.Run(ctx)
	}
	if a.publisher != nil {
		go func() {
			if err := a.publisher.Connect(); err != nil {
				a.logger.Warn("mqtt unavailable, events will not be published", zap.Error(err))
			}
		}()
	}

	servers := []*httpserver.Server{
		httpserver.NewServer(a.cfg.OCPPAddress(), a.ocppHandler, 0, a.logger.Named("ocpp_http")),
		httpserver.NewServer(a.cfg.HTTPAddress(), a.apiHandler, a.cfg.HTTP.WriteTimeout, a.logger.Named("api_http")),
	}
	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		go func(srv *httpserver.Server) {
			if err := srv.Run(ctx); err != nil {
				errCh <- fmt.Errorf("%s: %w", srv.Addr(), err)
				return
			}
			errCh <- nil
		}(srv)
	}

	received := 0
	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		received++
		cancel()
	}

	a.shutdown(context.Background())
	for ; received < len(servers); received++ {
		if err := <-errCh; err != nil && runErr == nil {
			runErr = err
		}
	}
	return runErr
}

func (a *App) shutdown(ctx context.Context) {
	a.connCancel()
	a.manager.CloseAll()
	a.registry.Shutdown(ctx)
}

// Close releases resources. It is safe to call more than once.
func (a *App) Close() {
	a.closeOnce.Do(a.close)
}

func (a *App) close() {
	if a.connCancel != nil {
		a.connCancel()
	}
	if a.manager != nil {
		a.manager.CloseAll()
	}
	if a.publisher != nil {
		a.publisher.Disconnect()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
