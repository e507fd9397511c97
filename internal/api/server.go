package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/kiosk-gateway/internal/gateway"
	"github.com/nerrad567/kiosk-gateway/internal/infrastructure/config"
	"github.com/nerrad567/kiosk-gateway/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// HealthChecker reports whether a dependency is reachable.
// Satisfied by *database.DB, *mqtt.Manager and *influxdb.Client.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// StatsProvider exposes gateway counters. Satisfied by *gateway.Gateway.
type StatsProvider interface {
	Stats() gateway.Stats
}

// TransferStats exposes image transfer counters. Satisfied by *transfer.Reassembler.
type TransferStats interface {
	Len() int
	Evicted() uint64
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config    config.APIConfig
	Logger    *logging.Logger
	Database  HealthChecker
	MQTT      HealthChecker
	Gateway   StatsProvider // Optional
	Transfers TransferStats // Optional
	Version   string
	GatewayID string // Sent as X-Gateway-ID when set
}

// Server is the health and metrics HTTP server.
type Server struct {
	cfg       config.APIConfig
	logger    *logging.Logger
	db        HealthChecker
	mqtt      HealthChecker
	gateway   StatsProvider
	transfers TransferStats
	version   string
	gatewayID string
	startTime time.Time
	panics    atomic.Uint64

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// New creates a server. It is not listening until Start.
//
// Returns:
//   - error: If a required dependency is missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Database == nil {
		return nil, fmt.Errorf("database health checker is required")
	}
	if deps.MQTT == nil {
		return nil, fmt.Errorf("mqtt health checker is required")
	}

	return &Server{
		cfg:       deps.Config,
		logger:    deps.Logger,
		db:        deps.Database,
		mqtt:      deps.MQTT,
		gateway:   deps.Gateway,
		transfers: deps.Transfers,
		version:   deps.Version,
		gatewayID: deps.GatewayID,
		startTime: time.Now(),
	}, nil
}

// Handler returns the router. Exposed for tests.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start binds the listener and serves in a background goroutine.
//
// Returns:
//   - error: If the address cannot be bound
func (s *Server) Start(_ context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	s.mu.Lock()
	s.server = srv
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("API server listening", "address", ln.Addr().String())

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the server, waiting up to 10 seconds for
// in-flight requests.
func (s *Server) Close() error {
	s.mu.Lock()
	srv := s.server
	s.server = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}
