// Package config loads and validates the kiosk gateway configuration.
//
// Configuration is read once at startup from a YAML file, layered over
// built-in defaults, and then overridden by KIOSKGW_* environment variables.
// Credentials (MQTT password, InfluxDB token) are expected to arrive through
// the environment rather than the file.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.MQTT.Broker.Host)
package config
