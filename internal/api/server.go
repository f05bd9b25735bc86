package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rackwise/rackwise-core/internal/infrastructure/config"
	"github.com/rackwise/rackwise-core/internal/infrastructure/logging"
	"github.com/rackwise/rackwise-core/internal/pipeline"
	"github.com/rackwise/rackwise-core/internal/relay"
	"github.com/rackwise/rackwise-core/internal/sink"
	"github.com/rackwise/rackwise-core/internal/state"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight
// requests to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// HealthChecker reports one component's liveness.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.ServerConfig
	WS      config.WebSocketConfig
	Logger  *logging.Logger
	Cache   *sink.Cache
	History *sink.HistoryStore // nil when the database is disabled
	Engine  *state.Engine
	Buffer  *sink.WriteBuffer
	Line    *pipeline.Pipeline

	// Callbacks and Relay contribute delivery counters to /api/stats.
	Callbacks *sink.Callbacks
	Relay     *relay.Relay

	// Components lists named health check targets for /health.
	Components map[string]HealthChecker

	// ExternalHub injects a hub shared with the pipeline broadcaster.
	ExternalHub *Hub
	Version     string
}

// Server is the HTTP API server for Rackwise Core.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
type Server struct {
	cfg        config.ServerConfig
	wsCfg      config.WebSocketConfig
	logger     *logging.Logger
	cache      *sink.Cache
	history    *sink.HistoryStore
	engine     *state.Engine
	buffer     *sink.WriteBuffer
	line       *pipeline.Pipeline
	callbacks  *sink.Callbacks
	relay      *relay.Relay
	components map[string]HealthChecker
	version    string

	server      *http.Server
	hub         *Hub
	externalHub bool
	limiter     *rateLimiter
	cancel      context.CancelFunc
}

// New creates an API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Cache == nil {
		return nil, fmt.Errorf("record cache is required")
	}

	s := &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		logger:     deps.Logger,
		cache:      deps.Cache,
		history:    deps.History,
		engine:     deps.Engine,
		buffer:     deps.Buffer,
		line:       deps.Line,
		callbacks:  deps.Callbacks,
		relay:      deps.Relay,
		components: deps.Components,
		version:    deps.Version,
	}

	if deps.ExternalHub != nil {
		s.hub = deps.ExternalHub
		s.externalHub = true
	}

	if deps.Config.RateLimit.MaxRequests > 0 {
		window := time.Duration(deps.Config.RateLimit.WindowMs) * time.Millisecond
		s.limiter = newRateLimiter(window, deps.Config.RateLimit.MaxRequests)
	}

	return s, nil
}

// SetPipeline wires the pipeline after construction. The server and
// pipeline reference each other (hub broadcast one way, stats the
// other), so the pipeline is attached once both exist.
func (s *Server) SetPipeline(line *pipeline.Pipeline) {
	s.line = line
}

// Start begins listening for HTTP connections.
//
// It builds the router, starts the WebSocket hub, and launches the
// HTTP listener in a background goroutine. Stop with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
	}
	go s.hub.Run(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		err := s.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	s.logger.Info("API server started", "address", s.server.Addr)
	return nil
}

// Hub returns the WebSocket hub, creating it if needed so the pipeline
// can broadcast before Start.
func (s *Server) Hub() *Hub {
	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
	}
	return s.hub
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests, then closes
// remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
