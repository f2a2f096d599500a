package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/jackzampolin/shrinkify/internal/api"
	"github.com/jackzampolin/shrinkify/internal/cascade"
	"github.com/jackzampolin/shrinkify/internal/config"
	"github.com/jackzampolin/shrinkify/internal/home"
	"github.com/jackzampolin/shrinkify/internal/metrics"
	"github.com/jackzampolin/shrinkify/internal/pipeline"
	"github.com/jackzampolin/shrinkify/internal/predict"
	"github.com/jackzampolin/shrinkify/internal/providers"
	"github.com/jackzampolin/shrinkify/internal/server/endpoints"
	"github.com/jackzampolin/shrinkify/internal/statedb"
	"github.com/jackzampolin/shrinkify/internal/svcctx"
	"github.com/jackzampolin/shrinkify/internal/warehouse"
)

// Server is the Shrinkify HTTP server. It serves the form API and the
// completion trigger. When no state store DSN is configured it manages a
// local Postgres container, starting it on server start and stopping it on
// shutdown.
type Server struct {
	httpServer *http.Server
	stateDB    *statedb.DockerManager
	registry   *providers.Registry
	configMgr  *config.Manager
	home       *home.Dir
	promReg    *prometheus.Registry
	recorder   *metrics.Recorder
	logger     *slog.Logger

	// services holds all core services for context enrichment
	services *svcctx.Services
	// closers release backends opened by Start, in reverse order.
	closers []func() error

	// endpoints registry for HTTP routes
	endpointRegistry *api.Registry

	mu      sync.RWMutex
	running bool
}

// Config holds server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1)
	Host string
	// Port is the port to listen on (default: 8080)
	Port string
	// ConfigManager provides configuration with hot-reload support
	ConfigManager *config.Manager
	// Home is the shrinkify home directory; the local state DB persists under it.
	Home *home.Dir
	// Services, when set, replaces the warehouse, state store and model
	// backends Start would otherwise connect to.
	Services *svcctx.Services
	// Logger is the structured logger to use
	Logger *slog.Logger
}

// New creates a new Server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ConfigManager == nil {
		return nil, errors.New("config manager is required")
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	s := &Server{
		configMgr: cfg.ConfigManager,
		home:      cfg.Home,
		promReg:   promReg,
		recorder:  metrics.NewRecorder(promReg),
		logger:    cfg.Logger,
	}

	if cfg.Services != nil {
		s.services = cfg.Services
		s.registry = cfg.Services.Registry
		if s.services.Metrics == nil {
			s.services.Metrics = s.recorder
		}
	} else {
		c := cfg.ConfigManager.Get()
		if c.Store.Driver == "postgres" && c.StoreDSN() == "" {
			mgr, err := statedb.NewDockerManager(stateDBConfig(c, cfg.Home))
			if err != nil {
				return nil, fmt.Errorf("failed to create state db manager: %w", err)
			}
			s.stateDB = mgr
		}
	}

	s.endpointRegistry = endpoints.NewRegistry(endpoints.Config{StateDB: s.stateDB, Gatherer: promReg})

	mux := http.NewServeMux()
	s.endpointRegistry.RegisterRoutes(mux, s.requireInit)

	s.httpServer = &http.Server{
		Addr:        net.JoinHostPort(cfg.Host, cfg.Port),
		Handler:     s.withServices(mux),
		ReadTimeout: 30 * time.Second,
		// Run creation partitions the source table before responding.
		WriteTimeout: 30 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// stateDBConfig maps the store.container settings to the Docker manager.
func stateDBConfig(c *config.Config, h *home.Dir) statedb.DockerConfig {
	dc := statedb.DockerConfig{
		ContainerName: c.Store.Container.ContainerName,
		Image:         c.Store.Container.Image,
		HostPort:      c.Store.Container.Port,
		Password:      c.Store.Container.Password,
	}
	if h != nil {
		dc.DataPath = h.StateDBPath()
	}
	return dc
}

// Start connects the backends and serves HTTP.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()

	if s.currentServices() == nil {
		if err := s.connect(ctx); err != nil {
			s.closeBackends()
			s.setNotRunning()
			return err
		}
	}

	s.configMgr.OnChange(func(c *config.Config) {
		if s.registry != nil {
			s.registry.Reload(context.Background(), c.ToProviderRegistryConfig())
			s.logger.Info("preview providers reloaded from config")
		}
	})

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			_ = s.shutdown()
			return fmt.Errorf("HTTP server error: %w", err)
		}
	}

	return s.shutdown()
}

// connect opens the state store, warehouse and batch submitter and builds
// the services every request sees.
func (s *Server) connect(ctx context.Context) error {
	c := s.configMgr.Get()

	format, err := predict.ParseOutputFormat(c.Model.OutputFormat)
	if err != nil {
		return err
	}

	store, err := s.openStore(ctx, c)
	if err != nil {
		return err
	}
	s.closers = append(s.closers, store.Close)

	bq, err := warehouse.NewBigQuery(ctx, warehouse.BigQueryConfig{
		Project:  c.Warehouse.Project,
		Location: c.Warehouse.Location,
		Logger:   s.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to BigQuery: %w", err)
	}
	s.closers = append(s.closers, bq.Close)

	submitter, err := predict.NewVertexBatch(ctx, predict.VertexConfig{
		Project:  bq.Project(),
		Location: c.Model.Location,
		Model:    c.Model.Name,
		Logger:   s.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create batch submitter: %w", err)
	}

	regCfg := c.ToProviderRegistryConfig()
	regCfg.Project = bq.Project()
	s.registry = providers.NewRegistryFromConfig(ctx, regCfg)
	s.registry.SetLogger(s.logger)

	handler := &cascade.Handler{
		Warehouse: bq,
		Submitter: submitter,
		Store:     store,
		Format:    format,
		Metrics:   s.recorder,
		Logger:    s.logger,
	}
	svc := &svcctx.Services{
		Warehouse: bq,
		Store:     store,
		Handler:   handler,
		Pipeline: &pipeline.Pipeline{
			Warehouse: bq,
			Store:     store,
			Handler:   handler,
			Settings:  settingsFrom(c, format),
			Logger:    s.logger,
		},
		Registry:      s.registry,
		ConfigManager: s.configMgr,
		Metrics:       s.recorder,
		Logger:        s.logger,
		Home:          s.home,
	}
	s.mu.Lock()
	s.services = svc
	s.mu.Unlock()

	s.logger.Info("backends ready", "project", bq.Project(), "store", c.Store.Driver, "model", c.Model.Name)
	return nil
}

func (s *Server) openStore(ctx context.Context, c *config.Config) (cascade.Store, error) {
	switch c.Store.Driver {
	case "memory":
		s.logger.Warn("using in-memory state store; run state is lost on restart")
		return cascade.NewMemoryStore(), nil
	case "postgres":
	default:
		return nil, fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}

	dsn := c.StoreDSN()
	if s.stateDB != nil {
		if s.home != nil {
			if err := s.home.EnsureExists(); err != nil {
				return nil, err
			}
		}
		if err := s.stateDB.ValidateExisting(ctx); err != nil {
			return nil, fmt.Errorf("existing state db container incompatible: %w", err)
		}
		s.logger.Info("starting state db container")
		if err := s.stateDB.Start(ctx); err != nil {
			return nil, fmt.Errorf("failed to start state db: %w", err)
		}
		dsn = s.stateDB.DSN()
	}

	pg := cascade.OpenPostgres(cascade.PostgresConfig{DSN: dsn, Debug: c.Store.Debug, Logger: s.logger})
	if err := pg.WaitReady(ctx, 30); err != nil {
		_ = pg.Close()
		return nil, fmt.Errorf("state db not reachable: %w", err)
	}
	if err := pg.Migrate(ctx); err != nil {
		_ = pg.Close()
		return nil, fmt.Errorf("state db migration failed: %w", err)
	}
	return pg, nil
}

// settingsFrom maps the pipeline config section to run settings.
func settingsFrom(c *config.Config, format predict.OutputFormat) pipeline.Settings {
	return pipeline.Settings{
		ChunkSize:       c.Pipeline.ChunkSize,
		OutputDataset:   c.Pipeline.OutputDataset,
		OutputTable:     c.Pipeline.OutputTable,
		DatasetLocation: c.Warehouse.Location,
		Format:          format,
	}
}

// shutdown stops the HTTP server, closes backends and stops the state db.
func (s *Server) shutdown() error {
	s.logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	s.closeBackends()

	if s.stateDB != nil {
		s.logger.Info("stopping state db container")
		if err := s.stateDB.Stop(shutdownCtx); err != nil {
			s.logger.Error("state db stop error", "error", err)
		}
		if err := s.stateDB.Close(); err != nil {
			s.logger.Error("state db manager close error", "error", err)
		}
	}

	s.setNotRunning()
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) closeBackends() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.logger.Error("backend close error", "error", err)
		}
	}
	s.closers = nil
}

func (s *Server) setNotRunning() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Registry returns the preview provider registry.
func (s *Server) Registry() *providers.Registry {
	return s.registry
}

// withServices wraps a handler to enrich the request context with services.
func (s *Server) withServices(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc := s.currentServices(); svc != nil {
			ctx = svcctx.WithServices(ctx, svc)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) currentServices() *svcctx.Services {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.services
}

// requireInit is middleware that ensures the backends are connected.
// Returns 503 Service Unavailable until Start has built the services.
func (s *Server) requireInit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.currentServices() == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"server not fully initialized"}`))
			return
		}
		next(w, r)
	}
}
