package influxdb_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/kiosk-gateway/internal/infrastructure/config"
	"github.com/nerrad567/kiosk-gateway/internal/infrastructure/influxdb"
)

// fakeInflux answers /ping and records line protocol posted to /api/v2/write.
type fakeInflux struct {
	mu      sync.Mutex
	lines   []string
	pingErr bool
}

func (f *fakeInflux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case strings.HasSuffix(r.URL.Path, "/ping"):
		f.mu.Lock()
		fail := f.pingErr
		f.mu.Unlock()
		if fail {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case r.URL.Path == "/api/v2/write":
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		for _, line := range strings.Split(strings.TrimSpace(string(body)), "\n") {
			if line != "" {
				f.lines = append(f.lines, line)
			}
		}
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeInflux) written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

func startFake(t *testing.T) (*fakeInflux, config.InfluxDBConfig) {
	t.Helper()
	fake := &fakeInflux{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	return fake, config.InfluxDBConfig{
		Enabled:       true,
		URL:           srv.URL,
		Token:         "test-token",
		Org:           "library",
		Bucket:        "kiosks",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

// =============================================================================
// Connection Tests
// =============================================================================

func TestConnect(t *testing.T) {
	_, cfg := startFake(t)

	client, err := influxdb.Connect(cfg, "gw-test")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestConnect_Disabled(t *testing.T) {
	_, cfg := startFake(t)
	cfg.Enabled = false

	_, err := influxdb.Connect(cfg, "gw-test")
	if !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	cfg := config.InfluxDBConfig{Enabled: true, URL: "http://127.0.0.1:1"}

	_, err := influxdb.Connect(cfg, "gw-test")
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnect_Unhealthy(t *testing.T) {
	fake, cfg := startFake(t)
	fake.pingErr = true

	if _, err := influxdb.Connect(cfg, "gw-test"); err == nil {
		t.Error("Connect() expected error for unhealthy server, got nil")
	}
}

func TestConnect_DefaultBatchSettings(t *testing.T) {
	_, cfg := startFake(t)
	cfg.BatchSize = 0
	cfg.FlushInterval = -1

	client, err := influxdb.Connect(cfg, "gw-test")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()
}

// =============================================================================
// Write Tests
// =============================================================================

func TestRecordRequest(t *testing.T) {
	fake, cfg := startFake(t)
	client, err := influxdb.Connect(cfg, "gw-test")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	client.RecordRequest("loan", "granted", 4200*time.Microsecond)
	client.RecordRequest("auth", "denied", time.Millisecond)
	client.Flush()

	lines := fake.written()
	if len(lines) != 2 {
		t.Fatalf("wrote %d lines, want 2: %q", len(lines), lines)
	}
	wantPrefixes := []string{
		"kiosk_requests,gateway_id=gw-test,kind=loan,outcome=granted count=1i,duration_ms=4.2 ",
		"kiosk_requests,gateway_id=gw-test,kind=auth,outcome=denied count=1i,duration_ms=1 ",
	}
	for i, want := range wantPrefixes {
		if !strings.HasPrefix(lines[i], want) {
			t.Errorf("line %d = %q, want prefix %q", i, lines[i], want)
		}
	}
}

func TestWriteGatewayStats(t *testing.T) {
	fake, cfg := startFake(t)
	client, err := influxdb.Connect(cfg, "gw-test")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	client.WriteGatewayStats(nil)
	client.WriteGatewayStats(map[string]any{"received": uint64(10), "dropped": uint64(1)})
	client.Flush()

	lines := fake.written()
	if len(lines) != 1 {
		t.Fatalf("wrote %d lines, want 1: %q", len(lines), lines)
	}
	if !strings.HasPrefix(lines[0], "kiosk_gateway,gateway_id=gw-test dropped=1u,received=10u ") {
		t.Errorf("line = %q", lines[0])
	}
}

func TestWrite_AfterCloseIsNoOp(t *testing.T) {
	fake, cfg := startFake(t)
	client, err := influxdb.Connect(cfg, "gw-test")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	client.RecordRequest("auth", "granted", time.Millisecond)
	client.Flush()

	if lines := fake.written(); len(lines) != 0 {
		t.Errorf("wrote %d lines after Close, want 0", len(lines))
	}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() after Close error = %v, want ErrNotConnected", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestClose_Nil(t *testing.T) {
	var client *influxdb.Client
	if err := client.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v", err)
	}
}
