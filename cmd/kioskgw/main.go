// Kiosk Gateway - MQTT front end for the library loan service
//
// Library kiosks (ESP32 devices) publish auth, status, loan and photo
// requests to the broker; this process answers each one from the loan
// database and replies on the kiosk's response topic.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/kiosk-gateway/internal/api"
	"github.com/nerrad567/kiosk-gateway/internal/decode"
	"github.com/nerrad567/kiosk-gateway/internal/gateway"
	"github.com/nerrad567/kiosk-gateway/internal/infrastructure/config"
	"github.com/nerrad567/kiosk-gateway/internal/infrastructure/database"
	"github.com/nerrad567/kiosk-gateway/internal/infrastructure/influxdb"
	"github.com/nerrad567/kiosk-gateway/internal/infrastructure/logging"
	"github.com/nerrad567/kiosk-gateway/internal/infrastructure/mqtt"
	"github.com/nerrad567/kiosk-gateway/internal/library"
	"github.com/nerrad567/kiosk-gateway/internal/transfer"
	"github.com/nerrad567/kiosk-gateway/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// statsInterval is how often gateway counters are written to InfluxDB.
const statsInterval = 30 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
//
// Returns:
//   - error: nil on clean shutdown, mqtt.ErrBrokerUnreachable when the
//     broker stays down, or a startup failure
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting kiosk gateway",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version).With("gateway_id", cfg.Gateway.ID)
	log.Info("configuration loaded", "path", configPath, "level", cfg.Logging.Level)

	// Database
	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", db.Path())

	repo := library.NewSQLiteRepository(db.DB)

	// Optional telemetry
	influxClient := connectInfluxDB(cfg, log)
	defer func() {
		if influxClient != nil {
			log.Info("closing InfluxDB")
			influxClient.Close() //nolint:errcheck // Close always returns nil
		}
	}()

	// Broker connection and gateway
	manager := mqtt.NewManager(cfg.MQTT)
	manager.SetLogger(log)
	defer func() {
		log.Info("disconnecting from MQTT")
		manager.Disconnect()
	}()

	transfers := transfer.New(transfer.Config{
		MaxPending: cfg.Transfers.MaxPending,
		MaxParts:   cfg.Transfers.MaxParts,
		IdleTTL:    cfg.Transfers.IdleTTLDuration(),
	}, log)

	opts := gateway.Options{
		Publisher:      manager,
		Store:          repo,
		Transfers:      transfers,
		Decoder:        decode.NewZXingDecoder(),
		Logger:         log,
		MaxActiveLoans: cfg.Loans.MaxActive,
		LoanPeriod:     cfg.Loans.Period(),
		RequestTimeout: cfg.Loans.RequestTimeoutDuration(),
	}
	if influxClient != nil {
		opts.Metrics = influxClient
	}
	gw, err := gateway.New(opts)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}
	// Deferred after Disconnect so it runs first: in-flight replies drain
	// while the connection is still up.
	defer gw.Stop()

	if err := manager.Connect(ctx, gw.Subscriptions(), gw.Route); err != nil {
		return fmt.Errorf("starting MQTT: %w", err)
	}
	log.Info("MQTT manager started",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", manager.ClientID(),
		"topics", gw.Subscriptions(),
	)

	// HTTP health endpoint
	if cfg.API.Enabled {
		srv, srvErr := api.New(api.Deps{
			Config:    cfg.API,
			Logger:    log,
			Database:  db,
			MQTT:      manager,
			Gateway:   gw,
			Transfers: transfers,
			Version:   version,
			GatewayID: cfg.Gateway.ID,
		})
		if srvErr != nil {
			return fmt.Errorf("creating API server: %w", srvErr)
		}
		if srvErr := srv.Start(ctx); srvErr != nil {
			return fmt.Errorf("starting API server: %w", srvErr)
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	if influxClient != nil {
		go reportStats(ctx, gw, influxClient)
	}

	log.Info("kiosk gateway started")

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
		return nil
	case fatalErr := <-manager.Fatal():
		log.Error("giving up on MQTT broker", "error", fatalErr)
		return fatalErr
	}
}

// getConfigPath returns the configuration file path from KIOSKGW_CONFIG or
// the default.
func getConfigPath() string {
	if path := os.Getenv("KIOSKGW_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// connectInfluxDB returns a connected client, or nil when telemetry is
// disabled or unreachable. Telemetry never blocks startup.
func connectInfluxDB(cfg *config.Config, log *logging.Logger) *influxdb.Client {
	client, err := influxdb.Connect(cfg.InfluxDB, cfg.Gateway.ID)
	if errors.Is(err, influxdb.ErrDisabled) {
		return nil
	}
	if err != nil {
		log.Warn("InfluxDB unavailable, continuing without telemetry", "error", err)
		return nil
	}
	client.SetOnError(func(writeErr error) {
		log.Warn("InfluxDB write failed", "error", writeErr)
	})
	log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	return client
}

// reportStats writes gateway counters to InfluxDB until ctx ends.
func reportStats(ctx context.Context, gw *gateway.Gateway, client *influxdb.Client) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := gw.Stats()
			client.WriteGatewayStats(map[string]any{
				"received":         s.Received,
				"dropped":          s.Dropped,
				"replies":          s.Replies,
				"publish_failures": s.PublishFailures,
				"store_faults":     s.StoreFaults,
				"in_flight":        s.InFlight,
			})
		}
	}
}
