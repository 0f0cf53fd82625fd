// Package server runs the Skein HTTP API. It owns the document store
// container lifecycle, the relational store, and the pipeline wiring.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/skeinlabs/skein/internal/api"
	"github.com/skeinlabs/skein/internal/checkpoint"
	"github.com/skeinlabs/skein/internal/config"
	"github.com/skeinlabs/skein/internal/docstore"
	"github.com/skeinlabs/skein/internal/home"
	"github.com/skeinlabs/skein/internal/jobs"
	"github.com/skeinlabs/skein/internal/pipeline"
	"github.com/skeinlabs/skein/internal/providers"
	"github.com/skeinlabs/skein/internal/relstore"
	"github.com/skeinlabs/skein/internal/server/endpoints"
	"github.com/skeinlabs/skein/internal/svcctx"
)

// Server is the main Skein HTTP server. It manages the document store
// container lifecycle when configured to, starting it on server start
// and stopping it on shutdown.
type Server struct {
	httpServer    *http.Server
	dockerManager *docstore.DockerManager
	docClient     *docstore.Client
	sink          *docstore.Sink
	relStore      *relstore.Store
	jobManager    *jobs.Manager
	registry      *providers.Registry
	configMgr     *config.Manager
	homeDir       *home.Dir
	logger        *slog.Logger

	// services holds all core services for context enrichment
	services *svcctx.Services

	endpointRegistry *api.Registry

	mu      sync.RWMutex
	running bool
}

// Config holds server construction inputs.
type Config struct {
	// ConfigManager provides configuration with hot-reload support.
	ConfigManager *config.Manager
	// Home is the skein home directory (data paths).
	Home *home.Dir
	// Logger is the structured logger to use.
	Logger *slog.Logger
}

// New creates a new Server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.ConfigManager == nil {
		return nil, errors.New("config manager is required")
	}
	if cfg.Home == nil {
		return nil, errors.New("home directory is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	appCfg := cfg.ConfigManager.Get()

	var dockerManager *docstore.DockerManager
	if appCfg.Docstore.Manage {
		dm, err := docstore.NewDockerManager(docstore.DockerConfig{
			DataPath: cfg.Home.DocStorePath(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create docstore manager: %w", err)
		}
		dockerManager = dm
	}

	registry := providers.NewRegistry()
	registry.SetLogger(cfg.Logger)
	registry.BuildRegistry(appCfg.ToRegistryConfig())

	cfg.ConfigManager.OnChange(func(c *config.Config) {
		registry.BuildRegistry(c.ToRegistryConfig())
		cfg.Logger.Info("provider registry reloaded from config")
	})

	s := &Server{
		dockerManager: dockerManager,
		registry:      registry,
		configMgr:     cfg.ConfigManager,
		homeDir:       cfg.Home,
		logger:        cfg.Logger,
	}

	s.endpointRegistry = api.NewRegistry()
	for _, ep := range endpoints.All(endpoints.Config{DockerManager: dockerManager}) {
		s.endpointRegistry.Register(ep)
	}

	mux := http.NewServeMux()
	s.endpointRegistry.RegisterRoutes(mux, s.requireInit)

	s.httpServer = &http.Server{
		Addr:        net.JoinHostPort(appCfg.Server.Host, strconv.Itoa(appCfg.Server.Port)),
		Handler:     s.withServices(mux),
		ReadTimeout: 30 * time.Second,
		// Process requests run the pipeline synchronously.
		WriteTimeout: 45 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// Start starts the server and its stores. It blocks until the context
// is cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()

	appCfg := s.configMgr.Get()

	docURL := appCfg.Docstore.URL
	if s.dockerManager != nil {
		s.logger.Info("starting document store container")
		if err := s.dockerManager.Start(ctx); err != nil {
			s.setNotRunning()
			return fmt.Errorf("failed to start document store: %w", err)
		}
		docURL = s.dockerManager.URL()
	}

	s.docClient = docstore.NewClient(docURL)
	if err := s.docClient.HealthCheck(ctx); err != nil {
		_ = s.shutdown()
		return fmt.Errorf("document store health check failed: %w", err)
	}
	s.logger.Info("document store is ready", "url", docURL)

	s.logger.Info("initializing document store schemas")
	if err := docstore.Initialize(ctx, s.docClient, s.logger); err != nil {
		_ = s.shutdown()
		return fmt.Errorf("schema initialization failed: %w", err)
	}

	relStore, err := relstore.Open(s.homeDir.RelStorePath())
	if err != nil {
		_ = s.shutdown()
		return fmt.Errorf("failed to open relational store: %w", err)
	}
	s.relStore = relStore

	s.sink = docstore.NewSink(docstore.SinkConfig{Client: s.docClient, Logger: s.logger})
	s.sink.Start(ctx)

	s.jobManager = jobs.NewManager(s.docClient, s.logger)

	tracker := pipeline.NewTracker()
	runner := s.buildRunner(appCfg, tracker)
	s.configMgr.OnChange(func(c *config.Config) {
		// Policies and timeouts are read once per run; rebuild the
		// orchestrator so new runs pick them up.
		runner.Orch = s.buildOrchestrator(c, tracker)
	})

	s.mu.Lock()
	s.services = &svcctx.Services{
		DocStore:   s.docClient,
		Sink:       s.sink,
		RelStore:   s.relStore,
		Runner:     runner,
		Tracker:    tracker,
		JobManager: s.jobManager,
		Registry:   s.registry,
		Config:     s.configMgr,
		Logger:     s.logger,
		Home:       s.homeDir,
	}
	s.mu.Unlock()

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

// buildOrchestrator wires an orchestrator from the current config.
func (s *Server) buildOrchestrator(cfg *config.Config, tracker *pipeline.Tracker) *pipeline.Orchestrator {
	return &pipeline.Orchestrator{
		Client:            s.registry.Client(cfg.Providers.Default),
		Model:             cfg.DefaultModel(),
		ExtractionPolicy:  cfg.Pipeline.Extraction,
		SynthesisPolicy:   cfg.Pipeline.Synthesis,
		MaxSynthesisChars: cfg.Pipeline.MaxSynthesisChars,
		FlowTimeout:       cfg.Pipeline.FlowTimeout,
		Writer: &checkpoint.Writer{
			Docs:   s.docClient,
			Rel:    s.relStore,
			Logger: s.logger,
		},
		Sink:    s.sink,
		Tracker: tracker,
		Logger:  s.logger,
	}
}

func (s *Server) buildRunner(cfg *config.Config, tracker *pipeline.Tracker) *pipeline.Runner {
	return &pipeline.Runner{
		Chapters: s.relStore,
		Acc:      &pipeline.Accumulator{Rel: s.relStore, Docs: s.docClient},
		Orch:     s.buildOrchestrator(cfg, tracker),
		Jobs:     s.jobManager,
		Logger:   s.logger,
	}
}

// shutdown performs graceful shutdown of the HTTP server and stores.
func (s *Server) shutdown() error {
	s.logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	if s.sink != nil {
		s.sink.Stop()
	}

	if s.relStore != nil {
		if err := s.relStore.Close(); err != nil {
			s.logger.Error("relational store close error", "error", err)
		}
	}

	if s.dockerManager != nil {
		s.logger.Info("stopping document store container")
		if err := s.dockerManager.Stop(shutdownCtx); err != nil {
			s.logger.Error("document store stop error", "error", err)
		}
		if err := s.dockerManager.Close(); err != nil {
			s.logger.Error("document store manager close error", "error", err)
		}
	}

	s.setNotRunning()
	s.logger.Info("server stopped")
	return nil
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

// Registry returns the provider registry.
func (s *Server) Registry() *providers.Registry {
	return s.registry
}

// withServices wraps a handler to enrich the request context with services.
func (s *Server) withServices(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		s.mu.RLock()
		services := s.services
		s.mu.RUnlock()
		if services != nil {
			ctx = svcctx.WithServices(ctx, services)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireInit ensures the server is fully initialized before handling
// requests that need the stores and pipeline.
func (s *Server) requireInit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.RLock()
		ready := s.services != nil
		s.mu.RUnlock()
		if !ready {
			http.Error(w, `{"error":"server is still initializing"}`, http.StatusServiceUnavailable)
			return
		}
		next(w, r)
	}
}
