package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the kiosk gateway.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Gateway   GatewayConfig   `yaml:"gateway"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	Transfers TransfersConfig `yaml:"transfers"`
	Loans     LoansConfig     `yaml:"loans"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// GatewayConfig identifies this gateway instance.
type GatewayConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	TLS  bool   `yaml:"tls"`

	// ClientIDPrefix is combined with a random suffix so every gateway
	// process connects with a unique client identifier.
	ClientIDPrefix string `yaml:"client_id_prefix"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	// Delay is the fixed wait between reconnect attempts (seconds).
	// Zero selects the built-in default.
	Delay int `yaml:"delay"`

	// MaxAttempts is the number of consecutive failed retries tolerated
	// before the broker is reported unreachable.
	MaxAttempts int `yaml:"max_attempts"`
}

// APIConfig contains the health-check HTTP listener settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// TransfersConfig bounds the image chunk reassembly cache.
type TransfersConfig struct {
	// MaxPending is the maximum number of concurrent in-flight transfers.
	// The least recently touched transfer is evicted when exceeded.
	MaxPending int `yaml:"max_pending"`

	// MaxParts is the largest total_parts value a device may announce.
	MaxParts int `yaml:"max_parts"`

	// IdleTTL is how long a transfer may sit without receiving a chunk (seconds).
	IdleTTL int `yaml:"idle_ttl"`
}

// LoansConfig contains the lending rules applied by the gateway.
type LoansConfig struct {
	MaxActive  int `yaml:"max_active"`
	PeriodDays int `yaml:"period_days"`

	// RequestTimeout bounds the store work of a single device request (seconds).
	RequestTimeout int `yaml:"request_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: KIOSKGW_SECTION_KEY
// For example: KIOSKGW_DATABASE_PATH, KIOSKGW_MQTT_HOST
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			ID:   "kioskgw-01",
			Name: "Library Kiosk Gateway",
		},
		Database: DatabaseConfig{
			Path:        "./data/kioskgw.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:           "localhost",
				Port:           1883,
				ClientIDPrefix: "server",
			},
			QoS: 0,
			Reconnect: MQTTReconnectConfig{
				Delay:       5,
				MaxAttempts: 5,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    3000,
			Timeouts: APITimeoutConfig{
				Read:  10,
				Write: 10,
				Idle:  60,
			},
		},
		Transfers: TransfersConfig{
			MaxPending: 64,
			MaxParts:   256,
			IdleTTL:    60,
		},
		Loans: LoansConfig{
			MaxActive:      3,
			PeriodDays:     7,
			RequestTimeout: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("KIOSKGW_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("KIOSKGW_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("KIOSKGW_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("KIOSKGW_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("KIOSKGW_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("KIOSKGW_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	if v := os.Getenv("KIOSKGW_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Gateway.ID == "" {
		errs = append(errs, "gateway.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Reconnect.Delay < 0 {
		errs = append(errs, "mqtt.reconnect.delay must not be negative")
	}
	if c.MQTT.Reconnect.MaxAttempts < 1 {
		errs = append(errs, "mqtt.reconnect.max_attempts must be at least 1")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Transfers.MaxPending < 1 {
		errs = append(errs, "transfers.max_pending must be at least 1")
	}
	if c.Transfers.MaxParts < 1 {
		errs = append(errs, "transfers.max_parts must be at least 1")
	}
	if c.Transfers.IdleTTL < 1 {
		errs = append(errs, "transfers.idle_ttl must be at least 1 second")
	}

	if c.Loans.MaxActive < 1 {
		errs = append(errs, "loans.max_active must be at least 1")
	}
	if c.Loans.PeriodDays < 1 {
		errs = append(errs, "loans.period_days must be at least 1")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ReconnectDelay returns the MQTT reconnect backoff as a Duration.
func (c MQTTConfig) ReconnectDelay() time.Duration {
	return time.Duration(c.Reconnect.Delay) * time.Second
}

// IdleTTLDuration returns the transfer idle TTL as a Duration.
func (c TransfersConfig) IdleTTLDuration() time.Duration {
	return time.Duration(c.IdleTTL) * time.Second
}

// Period returns the loan period as a Duration.
func (c LoansConfig) Period() time.Duration {
	return time.Duration(c.PeriodDays) * 24 * time.Hour
}

// RequestTimeoutDuration returns the per-request store timeout.
// Zero disables the timeout.
func (c LoansConfig) RequestTimeoutDuration() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
