// Package app wires the gateway components into one runnable process.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"gomint/auth"
	"gomint/chat"
	"gomint/community"
	"gomint/config"
	"gomint/crypto"
	"gomint/discovery"
	"gomint/gateway"
	"gomint/identity"
	"gomint/metrics"
	"gomint/network"
	"gomint/notification"
	"gomint/presence"
	"gomint/relationship"
	"gomint/rooms"
	"gomint/storage"
)

const shutdownTimeout = 10 * time.Second

// App owns every long-lived component of the gateway process.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	store         *storage.Store
	registry      *prometheus.Registry
	metrics       *metrics.Metrics
	users         *identity.Directory
	gate          *relationship.Gate
	rooms         *rooms.Registry
	notifications *notification.Service
	chat          *chat.Service
	communities   *community.Service
	security      *gateway.SecurityRecorder
	authenticator *auth.Authenticator
	gateway       *gateway.Gateway
	handshake     network.HandshakeOptions

	ctx      context.Context
	cancel   context.CancelFunc
	group    *errgroup.Group
	sessions sync.WaitGroup

	httpServer   *http.Server
	httpListener net.Listener
	tcpServer    *network.Server
	advertiser   *discovery.Advertiser

	stopOnce sync.Once
	stopErr  error
}

// NewLogger builds the root logger from the log section.
func NewLogger(cfg config.LogConfig) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("parse log level %q: %w", cfg.Level, err)
		}
		zcfg.Level = level
	}
	return zcfg.Build()
}

// Build opens the store and constructs the dependency graph. Nothing listens
// until Start.
func Build(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	store, err := storage.OpenPath(cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	store.SetSecurityEventRetention(cfg.Storage.SecurityEventRetention)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	users := identity.NewDirectory(store, identity.Options{
		CacheSize: cfg.Identity.CacheSize,
		CacheTTL:  cfg.Identity.CacheTTL,
	}, logger)
	gate := relationship.NewGate(store, users)
	registry := rooms.NewRegistry(m, logger)
	tracker := presence.NewTracker()
	engine := crypto.NewEngine()
	notifications := notification.NewService(store, registry, m, logger)

	chatService := chat.NewService(chat.Deps{
		Store: store, Users: users, Gate: gate, Cipher: engine,
		Rooms: registry, Presence: tracker, Notifier: notifications,
		Metrics: m, Logger: logger,
	})
	communityService := community.NewService(community.Deps{
		Store: store, Users: users, Cipher: engine,
		Rooms: registry, Presence: tracker, Notifier: notifications,
		Metrics: m, Logger: logger,
	})

	security := gateway.NewSecurityRecorder(store, logger)
	authenticator := auth.NewAuthenticator(auth.Options{
		JWTSecret:           cfg.Auth.JWTSecret,
		AllowUnsignedWallet: cfg.Auth.AllowUnsignedWallet,
		AutoRegister:        cfg.Auth.AutoRegister,
		ChallengePrefix:     cfg.Auth.ChallengePrefix,
	}, users, logger)

	gw := gateway.New(gateway.Deps{
		Chat:          chatService,
		Communities:   communityService,
		Notifications: notifications,
		Relationships: gate,
		Rooms:         registry,
		Security:      security,
		Metrics:       m,
		Logger:        logger,
		Limits: gateway.Limits{
			EventsPerSecond: cfg.Limits.EventsPerSecond,
			Burst:           cfg.Limits.EventBurst,
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	group, groupCtx := errgroup.WithContext(ctx)

	a := &App{
		cfg:           cfg,
		logger:        logger.Named("app"),
		store:         store,
		registry:      reg,
		metrics:       m,
		users:         users,
		gate:          gate,
		rooms:         registry,
		notifications: notifications,
		chat:          chatService,
		communities:   communityService,
		security:      security,
		authenticator: authenticator,
		gateway:       gw,
		ctx:           groupCtx,
		cancel:        cancel,
		group:         group,
	}
	a.handshake = network.HandshakeOptions{
		Authenticator:             authenticator,
		ConnectionTimeout:         cfg.KeepAlive.ConnectionTimeout,
		KeepAliveInterval:         cfg.KeepAlive.Interval,
		KeepAliveTimeout:          cfg.KeepAlive.Timeout,
		SendQueueSize:             cfg.Limits.SendQueueSize,
		MaxFrameSize:              cfg.Limits.MaxFrameSize,
		ConnectionRateLimitPerIP:  cfg.Limits.ConnectionsPerIP,
		ConnectionRateLimitWindow: cfg.Limits.ConnectionRateLimitWindow,
		OnInboundConnectionRateLimit: func(remote string) {
			m.ConnectionRejected("rate_limited")
			security.ConnectionRateLimited(remote)
		},
		OnAuthenticationFailure: func(remote string, err error) {
			m.ConnectionRejected("unauthorized")
			security.AuthFailed(remote, err)
		},
		Logger: logger,
	}

	return a, nil
}

// Handler returns the HTTP surface: the WebSocket endpoint, metrics, health
// and, when a service token is configured, the internal ingest endpoints.
func (a *App) Handler() (http.Handler, error) {
	ws, err := network.NewWebSocketHandler(a.handshake, a.cfg.Server.AllowedOrigins, a.attach)
	if err != nil {
		return nil, fmt.Errorf("build websocket handler: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle(a.cfg.Server.WSPath, ws)
	mux.Handle(a.cfg.Server.MetricsPath, metrics.Handler(a.registry))
	mux.HandleFunc("GET /healthz", a.handleHealth)
	if a.cfg.Internal.ServiceToken != "" {
		a.registerInternal(mux)
	}
	return mux, nil
}

// attach hands an authenticated connection to the gateway.
func (a *App) attach(conn *network.Connection) {
	a.sessions.Add(1)
	go func() {
		defer a.sessions.Done()
		a.gateway.Serve(a.ctx, conn)
	}()
}

// Start binds the listeners and returns once they accept connections.
func (a *App) Start() error {
	handler, err := a.Handler()
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", a.cfg.Server.HTTPAddress)
	if err != nil {
		return fmt.Errorf("listen http %s: %w", a.cfg.Server.HTTPAddress, err)
	}
	a.httpListener = listener
	a.httpServer = &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	a.group.Go(func() error {
		if err := a.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})
	a.logger.Info("http listening", zap.String("addr", listener.Addr().String()), zap.String("ws_path", a.cfg.Server.WSPath))

	if a.cfg.Server.TCPAddress != "" {
		server, err := network.Listen(a.cfg.Server.TCPAddress, a.handshake)
		if err != nil {
			return fmt.Errorf("listen tcp: %w", err)
		}
		a.tcpServer = server
		a.group.Go(a.serveTCP)
		a.logger.Info("tcp listening", zap.String("addr", server.Addr().String()))
	}

	a.group.Go(a.pruneSecurityEvents)

	if a.cfg.Discovery.Enabled {
		a.startAdvertiser()
	}
	return nil
}

func (a *App) serveTCP() error {
	errs := a.tcpServer.Errors()
	for {
		select {
		case <-a.ctx.Done():
			return nil
		case conn, ok := <-a.tcpServer.Incoming():
			if !ok {
				return nil
			}
			a.attach(conn)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			a.logger.Debug("tcp handshake failed", zap.Error(err))
		}
	}
}

// pruneSecurityEvents trims the audit log on a fixed interval.
func (a *App) pruneSecurityEvents() error {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-a.ctx.Done():
			return nil
		case <-ticker.C:
			cutoff := time.Now().Add(-a.cfg.Storage.SecurityEventRetention).UnixMilli()
			removed, err := a.store.PruneSecurityEvents(cutoff)
			if err != nil {
				a.logger.Warn("prune security events failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				a.logger.Info("pruned security events", zap.Int64("removed", removed))
			}
		}
	}
}

func (a *App) startAdvertiser() {
	port, err := discovery.PortFromAddress(a.httpListener.Addr().String())
	if err != nil {
		a.logger.Warn("discovery disabled", zap.Error(err))
		return
	}
	tcpPort := 0
	if a.tcpServer != nil {
		tcpPort, _ = discovery.PortFromAddress(a.tcpServer.Addr().String())
	}

	advertiser, err := discovery.StartAdvertiser(discovery.Config{
		InstanceName: a.cfg.Discovery.InstanceName,
		Port:         port,
		WSPath:       a.cfg.Server.WSPath,
		TCPPort:      tcpPort,
		Logger:       a.logger,
	})
	if err != nil {
		a.logger.Warn("discovery startup failed", zap.Error(err))
		return
	}
	a.advertiser = advertiser
}

// HTTPAddr returns the bound HTTP address, or nil before Start.
func (a *App) HTTPAddr() net.Addr {
	if a.httpListener == nil {
		return nil
	}
	return a.httpListener.Addr()
}

// TCPAddr returns the bound TCP address, or nil when the listener is disabled.
func (a *App) TCPAddr() net.Addr {
	if a.tcpServer == nil {
		return nil
	}
	return a.tcpServer.Addr()
}

// Wait blocks until a listener fails or Stop is called.
func (a *App) Wait() error {
	return a.group.Wait()
}

// Stop shuts down listeners, drains connections and closes the store.
func (a *App) Stop(ctx context.Context) error {
	a.stopOnce.Do(func() {
		if ctx == nil {
			ctx = context.Background()
		}
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()
		}

		var err error
		a.advertiser.Stop()
		if a.httpServer != nil {
			err = multierr.Append(err, a.httpServer.Shutdown(ctx))
		}
		if a.tcpServer != nil {
			err = multierr.Append(err, a.tcpServer.Close())
		}

		a.cancel()
		err = multierr.Append(err, a.group.Wait())
		a.sessions.Wait()

		err = multierr.Append(err, a.store.Close())
		a.stopErr = err
		a.logger.Info("stopped", zap.Error(err))
	})
	return a.stopErr
}
