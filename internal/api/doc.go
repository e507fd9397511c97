// Package api serves the gateway's HTTP operations surface.
//
// It exposes two unauthenticated endpoints for probes and dashboards:
//
//	GET /health   {status, database, mqtt}; 503 when a dependency is down
//	GET /metrics  runtime, request and transfer counters as JSON
//
// Kiosks never talk to this server; all kiosk traffic goes over MQTT.
package api
