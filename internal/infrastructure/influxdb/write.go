package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	measurementRequests = "kiosk_requests"
	measurementGateway  = "kiosk_gateway"
)

// RecordRequest writes one handled kiosk request.
//
//	kiosk_requests,gateway_id=kioskgw-01,kind=loan,outcome=granted count=1i,duration_ms=4.2
//
// Satisfies gateway.Metrics.
func (c *Client) RecordRequest(kind, outcome string, elapsed time.Duration) {
	c.writePoint(measurementRequests,
		map[string]string{
			"kind":    kind,
			"outcome": outcome,
		},
		map[string]any{
			"count":       1,
			"duration_ms": float64(elapsed.Microseconds()) / 1000,
		},
		time.Now(),
	)
}

// WriteGatewayStats writes a snapshot of gateway counters.
//
// Example:
//
//	client.WriteGatewayStats(map[string]any{"received": 120, "dropped": 2})
func (c *Client) WriteGatewayStats(fields map[string]any) {
	if len(fields) == 0 {
		return
	}
	c.writePoint(measurementGateway, nil, fields, time.Now())
}

// writePoint adds the gateway tag and queues the point.
func (c *Client) writePoint(measurement string, tags map[string]string, fields map[string]any, ts time.Time) {
	if !c.IsConnected() {
		return
	}

	all := make(map[string]string, len(tags)+1)
	for k, v := range tags {
		all[k] = v
	}
	if c.gatewayID != "" {
		all["gateway_id"] = c.gatewayID
	}

	c.writeAPI.WritePoint(write.NewPoint(measurement, all, fields, ts))
}
