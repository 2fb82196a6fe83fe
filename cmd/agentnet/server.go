package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/BaSui01/agentnet/api/handlers"
	"github.com/BaSui01/agentnet/config"
	"github.com/BaSui01/agentnet/coordination"
	"github.com/BaSui01/agentnet/internal/cache"
	"github.com/BaSui01/agentnet/internal/database"
	"github.com/BaSui01/agentnet/internal/metrics"
	"github.com/BaSui01/agentnet/internal/server"
	"github.com/BaSui01/agentnet/internal/telemetry"
	"github.com/BaSui01/agentnet/registry"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// statusGaugeInterval paces the agents-by-status gauge refresh.
const statusGaugeInterval = 15 * time.Second

// Server assembles the full service: registry, health monitor,
// coordination manager, persistence, and the HTTP and metrics listeners.
type Server struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger

	collector *metrics.Collector
	telemetry *telemetry.Providers

	cacheManager  *cache.Manager
	snapshotStore *cache.SnapshotStore
	pool          *database.PoolManager
	auditStore    *database.AuditStore

	reg      *registry.AgentRegistry
	monitor  *registry.HealthMonitor
	coordMgr *coordination.CoordinationManager

	hotReload *config.HotReloadManager
	configAPI *config.ConfigAPIHandler

	httpManager    *server.Manager
	metricsManager *server.Manager

	bgCtx    context.Context
	bgCancel context.CancelFunc
	wg       sync.WaitGroup
}

// NewServer creates an unstarted server.
func NewServer(cfg *config.Config, configPath string, logger *zap.Logger) *Server {
	bgCtx, bgCancel := context.WithCancel(context.Background())
	return &Server{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
		bgCtx:      bgCtx,
		bgCancel:   bgCancel,
	}
}

// Start brings up every component and begins serving. It does not block;
// callers follow with WaitForShutdown.
func (s *Server) Start() error {
	s.collector = metrics.NewCollector("agentnet", s.logger)

	providers, err := telemetry.Init(s.cfg.Telemetry, s.logger)
	if err != nil {
		s.logger.Warn("telemetry init failed, continuing without it", zap.Error(err))
		providers = nil
	}
	s.telemetry = providers

	s.reg = registry.NewAgentRegistry(s.logger)

	if err := s.initCache(); err != nil {
		s.logger.Warn("cache unavailable, registry snapshots disabled", zap.Error(err))
	}
	if err := s.initDatabase(); err != nil {
		return fmt.Errorf("init database: %w", err)
	}

	s.monitor = registry.NewHealthMonitor(s.reg, registry.MonitorConfig{
		HeartbeatInterval:    s.cfg.Registry.HeartbeatInterval,
		MissedBeatsThreshold: s.cfg.Registry.MissedBeatsThreshold,
		OfflineTimeout:       s.cfg.Registry.OfflineTimeout,
		SweepInterval:        s.cfg.Registry.SweepInterval,
	}, s.logger)
	if err := s.monitor.Start(s.bgCtx); err != nil {
		return fmt.Errorf("start health monitor: %w", err)
	}

	var archiver coordination.Archiver
	if s.auditStore != nil {
		archiver = s.auditStore
	}
	s.coordMgr = coordination.NewCoordinationManager(s.reg, archiver, coordination.ManagerConfig{
		SweepInterval: s.cfg.Coordination.SweepInterval,
		DefaultPolicy: coordination.SessionPolicy{
			MaxRetries:               s.cfg.Coordination.MaxRetries,
			QuorumFraction:           s.cfg.Coordination.QuorumFraction,
			VotingDeadline:           s.cfg.Coordination.VotingDeadline,
			BidWindow:                s.cfg.Coordination.BidWindow,
			FailSessionOnTaskFailure: s.cfg.Coordination.FailSessionOnTaskFailure,
			TTL:                      s.cfg.Coordination.SessionTTL,
		},
	}, s.logger)
	s.coordMgr.Start()

	s.wireMetrics()

	if err := s.initHotReload(); err != nil {
		s.logger.Warn("config hot reload unavailable", zap.Error(err))
	}

	if err := s.startHTTPServer(); err != nil {
		return err
	}
	return s.startMetricsServer()
}

// initCache connects to Redis and restores the last registry snapshot.
func (s *Server) initCache() error {
	if !s.cfg.Redis.Enabled {
		return nil
	}

	mgr, err := cache.NewManager(cache.Config{
		Addr:         s.cfg.Redis.Addr,
		Password:     s.cfg.Redis.Password,
		DB:           s.cfg.Redis.DB,
		DefaultTTL:   s.cfg.Redis.DefaultTTL,
		PoolSize:     s.cfg.Redis.PoolSize,
		MinIdleConns: s.cfg.Redis.MinIdleConns,
	}, s.logger)
	if err != nil {
		return err
	}
	s.cacheManager = mgr
	s.snapshotStore = cache.NewSnapshotStore(mgr, s.cfg.Redis.SnapshotKey, 0, s.logger)

	records, err := s.snapshotStore.Load(s.bgCtx)
	if err != nil {
		s.logger.Warn("registry snapshot restore failed", zap.Error(err))
	} else if len(records) > 0 {
		s.reg.Restore(records)
		s.logger.Info("registry restored from snapshot", zap.Int("agents", len(records)))
	}

	if interval := s.cfg.Registry.SnapshotInterval; interval > 0 {
		s.wg.Add(1)
		go s.snapshotLoop(interval)
	}
	return nil
}

func (s *Server) snapshotLoop(interval time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.bgCtx.Done():
			return
		case <-ticker.C:
			if err := s.snapshotStore.Save(s.bgCtx, s.reg.List(s.bgCtx)); err != nil {
				s.logger.Warn("registry snapshot save failed", zap.Error(err))
			}
		}
	}
}

// initDatabase opens the audit store when the database is enabled.
func (s *Server) initDatabase() error {
	if !s.cfg.Database.Enabled {
		return nil
	}

	db, err := openDatabase(s.cfg.Database)
	if err != nil {
		return err
	}

	pool, err := database.NewPoolManager(db, database.PoolConfig{
		MaxIdleConns:    s.cfg.Database.MaxIdleConns,
		MaxOpenConns:    s.cfg.Database.MaxOpenConns,
		ConnMaxLifetime: s.cfg.Database.ConnMaxLifetime,
	}, s.logger)
	if err != nil {
		return err
	}
	s.pool = pool

	store, err := database.NewAuditStore(pool, s.logger)
	if err != nil {
		return err
	}
	s.auditStore = store
	return nil
}

// wireMetrics feeds registry and coordination activity into Prometheus.
func (s *Server) wireMetrics() {
	s.reg.Subscribe(func(ev *registry.Event) {
		s.collector.RecordRegistryEvent(string(ev.Type))
	})
	s.coordMgr.Subscribe(func(ev *coordination.Event) {
		s.collector.RecordCoordinationEvent(string(ev.Type))
	})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(statusGaugeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.bgCtx.Done():
				return
			case <-ticker.C:
				for status, count := range s.reg.StatusCounts() {
					s.collector.SetAgents(string(status), count)
				}
			}
		}
	}()
}

// initHotReload starts the config file watcher and the config API.
func (s *Server) initHotReload() error {
	opts := []config.HotReloadOption{config.WithHotReloadLogger(s.logger)}
	if s.configPath != "" {
		opts = append(opts, config.WithConfigPath(s.configPath))
	}

	hrm := config.NewHotReloadManager(s.cfg, opts...)
	hrm.OnChange(func(change config.ConfigChange) {
		s.logger.Info("config changed",
			zap.String("path", change.Path),
			zap.String("source", change.Source),
			zap.Bool("requires_restart", change.RequiresRestart),
		)
	})
	hrm.OnReload(func(_, newConfig *config.Config) {
		s.cfg = newConfig
	})

	if err := hrm.Start(s.bgCtx); err != nil {
		return err
	}
	s.hotReload = hrm
	s.configAPI = config.NewConfigAPIHandler(hrm, s.cfg.Server.AllowedOrigin)
	return nil
}

func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	healthHandler := handlers.NewHealthHandler(s.logger)
	if s.cacheManager != nil {
		healthHandler.RegisterCheck(handlers.NewPingCheck("redis", s.cacheManager.Ping))
	}
	if s.pool != nil {
		healthHandler.RegisterCheck(handlers.NewPingCheck("database", s.pool.Ping))
	}

	mux.HandleFunc("/health", healthHandler.HandleHealth)
	mux.HandleFunc("/healthz", healthHandler.HandleHealth)
	mux.HandleFunc("/ready", healthHandler.HandleReady)
	mux.HandleFunc("/readyz", healthHandler.HandleReady)
	mux.HandleFunc("/version", healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	handlers.NewAgentHandler(s.reg, s.logger).RegisterRoutes(mux)
	handlers.NewCoordinationHandler(s.coordMgr, s.logger).RegisterRoutes(mux)
	handlers.NewEventsHandler(s.reg, s.coordMgr, s.logger).RegisterRoutes(mux)

	if s.configAPI != nil {
		configAuth := config.NewConfigAPIMiddleware(s.configAPI, s.cfg.Auth.APIKey)
		mux.HandleFunc("/api/v1/config", configAuth.RequireAuth(s.configAPI.HandleConfig))
		mux.HandleFunc("/api/v1/config/reload", configAuth.RequireAuth(s.configAPI.HandleReload))
		mux.HandleFunc("/api/v1/config/fields", configAuth.RequireAuth(s.configAPI.HandleFields))
		mux.HandleFunc("/api/v1/config/changes", configAuth.RequireAuth(s.configAPI.HandleChanges))
	}

	skipAuthPaths := []string{"/health", "/healthz", "/ready", "/readyz", "/version", "/metrics"}

	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		OTelTracing(),
		MetricsMiddleware(s.collector),
		CORS(s.cfg.Server.AllowedOrigin),
	}
	if s.cfg.Server.RateLimitRPS > 0 {
		middlewares = append(middlewares,
			RateLimiter(s.bgCtx, float64(s.cfg.Server.RateLimitRPS), s.cfg.Server.RateLimitBurst, s.logger))
	}
	if s.cfg.Auth.Enabled {
		middlewares = append(middlewares, Auth(s.cfg.Auth, skipAuthPaths, s.logger))
	}

	handler := Chain(mux, middlewares...)

	idleTimeout := s.cfg.Server.IdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = 2 * s.cfg.Server.ReadTimeout
	}

	s.httpManager = server.NewManager(handler, server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     idleTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)

	if s.cfg.Server.TLSCertFile != "" && s.cfg.Server.TLSKeyFile != "" {
		return s.httpManager.StartTLS(s.cfg.Server.TLSCertFile, s.cfg.Server.TLSKeyFile)
	}
	return s.httpManager.Start()
}

// startMetricsServer exposes /metrics on its own port. Port 0 disables it.
func (s *Server) startMetricsServer() error {
	if s.cfg.Server.MetricsPort <= 0 {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	s.metricsManager = server.NewManager(mux, server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     60 * time.Second,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: 5 * time.Second,
	}, s.logger)
	return s.metricsManager.Start()
}

// WaitForShutdown blocks until the HTTP server stops, then tears down
// every component.
func (s *Server) WaitForShutdown() {
	s.httpManager.WaitForShutdown()
	s.Shutdown()
}

// Shutdown stops background work, closes listeners, and flushes state.
func (s *Server) Shutdown() {
	timeout := s.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.bgCancel()

	if s.hotReload != nil {
		if err := s.hotReload.Stop(); err != nil {
			s.logger.Warn("hot reload stop failed", zap.Error(err))
		}
	}

	s.coordMgr.Stop()
	if err := s.monitor.Stop(ctx); err != nil {
		s.logger.Warn("health monitor stop failed", zap.Error(err))
	}

	if s.snapshotStore != nil {
		if err := s.snapshotStore.Save(ctx, s.reg.List(ctx)); err != nil {
			s.logger.Warn("final registry snapshot failed", zap.Error(err))
		}
	}

	// The remaining components are independent of each other.
	var g errgroup.Group
	if s.metricsManager != nil {
		g.Go(func() error { return s.metricsManager.Shutdown(ctx) })
	}
	if s.cacheManager != nil {
		g.Go(func() error { return s.cacheManager.Close() })
	}
	if s.pool != nil {
		g.Go(func() error { return s.pool.Close() })
	}
	if s.telemetry != nil {
		g.Go(func() error { return s.telemetry.Shutdown(ctx) })
	}
	if err := g.Wait(); err != nil {
		s.logger.Warn("component shutdown failed", zap.Error(err))
	}

	s.wg.Wait()
	s.logger.Info("server stopped")
}
