// Package logging provides structured logging for the kiosk gateway.
//
// It wraps log/slog so every component logs with the same default fields
// (service, version) and the same level and format selection.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("request served", "kind", "auth", "client_id", id)
//
// Never log MQTT passwords or InfluxDB tokens. Image payloads are logged
// by size only.
package logging
