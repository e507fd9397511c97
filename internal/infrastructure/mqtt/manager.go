package mqtt

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/kiosk-gateway/internal/infrastructure/config"
)

// Reconnection defaults used when the config leaves them unset.
const (
	defaultReconnectDelay = 5 * time.Second
	defaultMaxAttempts    = 5
)

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MessageHandler is the callback signature for received messages.
//
// With order-matters delivery paho invokes handlers one at a time on its
// router goroutine, so a handler that blocks stalls every later message.
// Hand slow work to another goroutine.
//
// Returns:
//   - error: Logged; delivery is not retried
type MessageHandler func(topic string, payload []byte) error

// Manager owns the gateway's single broker connection.
//
// It connects, subscribes the fixed topic set on every new connection, and
// on an unsolicited disconnect retries after a fixed delay. After
// MaxAttempts consecutive failed retries it stops and reports
// ErrBrokerUnreachable on Fatal.
//
// All methods are safe for concurrent use.
type Manager struct {
	cfg         config.MQTTConfig
	clientID    string
	backoff     time.Duration
	maxAttempts int
	newClient   func(*pahomqtt.ClientOptions) pahomqtt.Client

	mu         sync.Mutex
	client     pahomqtt.Client
	topics     []string
	handler    pahomqtt.MessageHandler
	attempts   int
	connecting bool
	started    bool
	closed     bool
	ctx        context.Context
	cancel     context.CancelFunc

	connected atomic.Bool
	wg        sync.WaitGroup
	fatal     chan error

	logger   Logger
	loggerMu sync.RWMutex
}

// NewManager creates a Manager for the configured broker. It does not connect.
func NewManager(cfg config.MQTTConfig) *Manager {
	backoff := cfg.ReconnectDelay()
	if cfg.Reconnect.Delay == 0 {
		backoff = defaultReconnectDelay
	}
	maxAttempts := cfg.Reconnect.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	return &Manager{
		cfg:         cfg,
		clientID:    generateClientID(cfg.Broker.ClientIDPrefix),
		backoff:     backoff,
		maxAttempts: maxAttempts,
		newClient:   pahomqtt.NewClient,
		fatal:       make(chan error, 1),
		logger:      noopLogger{},
	}
}

// ClientID returns the identifier this manager presents to the broker.
func (m *Manager) ClientID() string {
	return m.clientID
}

// Connect makes the first connection attempt and subscribes topics with
// handler once connected. The same topics are subscribed again after every
// reconnect.
//
// A failed attempt is not returned as an error; it starts the reconnect
// cycle. Cancelling ctx stops any pending reconnect.
//
// Returns:
//   - error: ErrNoTopics, ErrNilHandler, ErrAlreadyStarted or ErrClosed
func (m *Manager) Connect(ctx context.Context, topics []string, handler MessageHandler) error {
	if len(topics) == 0 {
		return ErrNoTopics
	}
	if handler == nil {
		return ErrNilHandler
	}

	m.mu.Lock()
	switch {
	case m.closed:
		m.mu.Unlock()
		return ErrClosed
	case m.started:
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.started = true
	m.topics = append([]string(nil), topics...)
	m.handler = m.wrapHandler(handler)
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()

	m.dial()
	return nil
}

// dial makes one connection attempt. Failure schedules a retry.
func (m *Manager) dial() {
	m.mu.Lock()
	if m.closed || m.connecting {
		m.mu.Unlock()
		return
	}
	m.connecting = true

	opts := buildClientOptions(m.cfg, m.clientID)
	opts.SetConnectionLostHandler(m.handleConnectionLost)
	client := m.newClient(opts)
	m.client = client
	m.mu.Unlock()

	err := waitToken(client.Connect(), defaultConnectTimeout)

	m.mu.Lock()
	m.connecting = false
	m.mu.Unlock()

	if err != nil {
		m.getLogger().Warn("MQTT connection attempt failed",
			"broker", brokerURL(m.cfg),
			"error", err,
		)
		m.scheduleReconnect(err)
		return
	}

	m.onConnected(client)
}

// onConnected resets the retry counter and subscribes every topic on client.
// Per-topic failures are logged and do not drop the connection.
func (m *Manager) onConnected(client pahomqtt.Client) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		client.Disconnect(0)
		return
	}
	m.attempts = 0
	topics := m.topics
	handler := m.handler
	m.mu.Unlock()

	m.connected.Store(true)

	logger := m.getLogger()
	for _, topic := range topics {
		if err := waitToken(client.Subscribe(topic, byte(m.cfg.QoS), handler), defaultSubscribeTimeout); err != nil {
			logger.Error("MQTT subscribe failed", "topic", topic, "error", err)
		}
	}

	logger.Info("MQTT connected",
		"broker", brokerURL(m.cfg),
		"client_id", m.clientID,
		"topics", len(topics),
	)
}

// handleConnectionLost is paho's connection-lost callback.
func (m *Manager) handleConnectionLost(client pahomqtt.Client, err error) {
	m.mu.Lock()
	stale := m.closed || client != m.client
	m.mu.Unlock()
	if stale {
		return
	}

	m.connected.Store(false)
	m.getLogger().Warn("MQTT connection lost", "error", err)
	m.scheduleReconnect(err)
}

// scheduleReconnect waits the backoff and dials again, or reports the broker
// unreachable once the retry budget is spent.
func (m *Manager) scheduleReconnect(cause error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if m.attempts >= m.maxAttempts {
		attempts := m.attempts
		m.mu.Unlock()
		m.reportFatal(fmt.Errorf("%w: %d reconnect attempts failed: %w", ErrBrokerUnreachable, attempts, cause))
		return
	}
	m.attempts++
	attempt := m.attempts
	ctx := m.ctx
	m.wg.Add(1)
	m.mu.Unlock()

	m.getLogger().Info("MQTT reconnect scheduled",
		"attempt", attempt,
		"max_attempts", m.maxAttempts,
		"delay", m.backoff.String(),
	)

	go func() {
		defer m.wg.Done()

		timer := time.NewTimer(m.backoff)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		m.dial()
	}()
}

func (m *Manager) reportFatal(err error) {
	m.getLogger().Error("MQTT broker unreachable, giving up", "error", err)
	select {
	case m.fatal <- err:
	default:
	}
}

// Fatal delivers ErrBrokerUnreachable (wrapped) once reconnection is abandoned.
func (m *Manager) Fatal() <-chan error {
	return m.fatal
}

// Publish sends payload on topic at the configured QoS, not retained.
//
// Returns:
//   - error: ErrInvalidTopic, ErrPayloadTooLarge, ErrNotConnected or ErrPublishFailed
func (m *Manager) Publish(topic string, payload []byte) error {
	if topic == "" || strings.ContainsAny(topic, "+#") {
		return fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrPayloadTooLarge, len(payload), maxPayloadSize)
	}

	m.mu.Lock()
	client := m.client
	m.mu.Unlock()
	if client == nil || !m.connected.Load() {
		return ErrNotConnected
	}

	if err := waitToken(client.Publish(topic, byte(m.cfg.QoS), false, payload), defaultPublishTimeout); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// Disconnect closes the connection and stops reconnecting. It waits for any
// pending reconnect goroutine to finish. Safe to call more than once.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	client := m.client
	cancel := m.cancel
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if client != nil && client.IsConnectionOpen() {
		client.Disconnect(defaultDisconnectQuiesce)
	}
	m.connected.Store(false)

	m.wg.Wait()
}

// IsConnected reports whether a connection is currently established.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	client := m.client
	m.mu.Unlock()
	return m.connected.Load() && client != nil && client.IsConnected()
}

// HealthCheck returns nil when the broker connection is up.
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !m.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// SetLogger sets the logger. A nil logger discards output.
func (m *Manager) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	m.loggerMu.Lock()
	m.logger = logger
	m.loggerMu.Unlock()
}

func (m *Manager) getLogger() Logger {
	m.loggerMu.RLock()
	defer m.loggerMu.RUnlock()
	return m.logger
}

// wrapHandler adapts a MessageHandler to paho with panic recovery and logging.
func (m *Manager) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				m.getLogger().Error("MQTT handler panic recovered",
					"topic", msg.Topic(),
					"panic", r,
				)
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			m.getLogger().Warn("MQTT handler returned error",
				"topic", msg.Topic(),
				"error", err,
			)
		}
	}
}

// waitToken waits for tok and returns its error, or a timeout error.
func waitToken(tok pahomqtt.Token, timeout time.Duration) error {
	if !tok.WaitTimeout(timeout) {
		return fmt.Errorf("timeout after %v", timeout)
	}
	return tok.Error()
}
