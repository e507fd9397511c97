package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/kiosk-gateway/internal/gateway"
)

// SystemMetrics is the /metrics body.
type SystemMetrics struct {
	Timestamp     string           `json:"timestamp"`
	GatewayID     string           `json:"gateway_id,omitempty"`
	Version       string           `json:"version"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	HandlerPanics uint64           `json:"handler_panics"`
	Runtime       RuntimeMetrics   `json:"runtime"`
	Requests      *gateway.Stats   `json:"requests,omitempty"`
	Transfers     *TransferMetrics `json:"transfers,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// TransferMetrics contains image transfer cache statistics.
type TransferMetrics struct {
	Pending int    `json:"pending"`
	Evicted uint64 `json:"evicted"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		GatewayID:     s.gatewayID,
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		HandlerPanics: s.panics.Load(),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
	}

	if s.gateway != nil {
		stats := s.gateway.Stats()
		metrics.Requests = &stats
	}
	if s.transfers != nil {
		metrics.Transfers = &TransferMetrics{
			Pending: s.transfers.Len(),
			Evicted: s.transfers.Evicted(),
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}
