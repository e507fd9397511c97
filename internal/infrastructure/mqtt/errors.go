package mqtt

import "errors"

// Domain-specific errors for MQTT operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned when publishing without a live connection.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrClosed is returned when using a Manager after Disconnect.
	ErrClosed = errors.New("mqtt: manager closed")

	// ErrAlreadyStarted is returned when Connect is called twice.
	ErrAlreadyStarted = errors.New("mqtt: manager already started")

	// ErrBrokerUnreachable is delivered on Fatal when every reconnect attempt
	// has failed. The owning process is expected to exit.
	ErrBrokerUnreachable = errors.New("mqtt: broker unreachable")

	// ErrPublishFailed is returned when a publish operation fails.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrInvalidTopic is returned for empty publish topics or topics containing wildcards.
	ErrInvalidTopic = errors.New("mqtt: invalid topic")

	// ErrNoTopics is returned when Connect is given no subscription filters.
	ErrNoTopics = errors.New("mqtt: no topics to subscribe")

	// ErrNilHandler is returned when Connect is given a nil MessageHandler.
	ErrNilHandler = errors.New("mqtt: handler cannot be nil")

	// ErrPayloadTooLarge is returned when a payload exceeds maxPayloadSize.
	ErrPayloadTooLarge = errors.New("mqtt: payload too large")
)
