package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// healthCheckTimeout bounds each dependency probe in /health.
const healthCheckTimeout = 2 * time.Second

// Dependency states reported by /health.
const (
	stateConnected    = "connected"
	stateDisconnected = "disconnected"

	statusOK       = "OK"
	statusDegraded = "DEGRADED"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.tagMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "method not allowed")
	})

	return r
}

// HealthResponse is the /health body.
type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	MQTT     string `json:"mqtt"`
	Version  string `json:"version,omitempty"`
}

// handleHealth probes the database and broker connection.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	resp := HealthResponse{
		Status:   statusOK,
		Database: s.probe(ctx, "database", s.db),
		MQTT:     s.probe(ctx, "mqtt", s.mqtt),
		Version:  s.version,
	}

	code := http.StatusOK
	if resp.Database != stateConnected || resp.MQTT != stateConnected {
		resp.Status = statusDegraded
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (s *Server) probe(ctx context.Context, name string, hc HealthChecker) string {
	if err := hc.HealthCheck(ctx); err != nil {
		s.logger.Debug("health probe failed", "dependency", name, "error", err)
		return stateDisconnected
	}
	return stateConnected
}
