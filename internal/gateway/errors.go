package gateway

import "errors"

// Protocol errors returned by Route. A message that fails with one of these
// is dropped without a reply.
var (
	// ErrMalformedPayload is returned when the payload is not valid JSON for its topic.
	ErrMalformedPayload = errors.New("gateway: malformed payload")

	// ErrMissingClientID is returned when a payload carries no client_id.
	ErrMissingClientID = errors.New("gateway: client_id required")

	// ErrInvalidClientID is returned when a client_id contains MQTT topic
	// separators or wildcards ('/', '+', '#').
	ErrInvalidClientID = errors.New("gateway: client_id contains topic characters")

	// ErrInvalidUserID is returned when user_id is neither an integer nor a numeric string.
	ErrInvalidUserID = errors.New("gateway: invalid user_id")

	// ErrStopped is returned for messages that arrive after Stop.
	ErrStopped = errors.New("gateway: stopped")
)
