// Package influxdb records kiosk request telemetry in InfluxDB v2.
//
// It wraps the official influxdb-client-go v2 library. Each handled request
// becomes one kiosk_requests point tagged with kind and outcome; periodic
// counter snapshots go to kiosk_gateway.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB, cfg.Gateway.ID)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.RecordRequest("auth", "granted", 3*time.Millisecond)
//
// # Thread Safety
//
// All methods are safe for concurrent use. Writes are batched according to
// batch_size and flush_interval.
package influxdb
