package mqtt

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/nerrad567/kiosk-gateway/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout bounds a single connection attempt.
	defaultConnectTimeout = 10 * time.Second

	// defaultSubscribeTimeout bounds each subscription made after connecting.
	defaultSubscribeTimeout = 5 * time.Second

	// defaultPublishTimeout is the maximum time to wait for a publish to complete.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending work on disconnect.
	defaultDisconnectQuiesce = 250 // milliseconds

	// defaultKeepAlive is the keepalive interval for the connection.
	defaultKeepAlive = 60 * time.Second

	// defaultClientIDPrefix is used when the config leaves the prefix empty.
	defaultClientIDPrefix = "server"

	// maxPayloadSize caps outbound payloads. Replies are small JSON objects.
	maxPayloadSize = 64 * 1024

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// generateClientID returns prefix followed by a random UUID, so parallel
// gateway processes never take over each other's session.
func generateClientID(prefix string) string {
	if prefix == "" {
		prefix = defaultClientIDPrefix
	}
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}

// brokerURL builds the tcp:// or ssl:// URL for the configured broker.
func brokerURL(cfg config.MQTTConfig) string {
	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port)
}

// buildClientOptions creates paho options for one connection attempt.
//
// paho's own reconnect and connect-retry loops are disabled: the Manager
// owns reconnection so it can bound the attempts and report exhaustion.
// Order-matters delivery keeps inbound messages in broker order, which the
// chunk reassembly path relies on.
func buildClientOptions(cfg config.MQTTConfig, clientID string) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(brokerURL(cfg))
	opts.SetClientID(clientID)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetOrderMatters(true)
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})
	}

	return opts
}
