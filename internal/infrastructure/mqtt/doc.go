// Package mqtt manages the gateway's broker connection.
//
// A Manager holds at most one live paho connection. It subscribes a fixed
// set of topic filters every time a connection opens and owns reconnection:
// on an unsolicited disconnect it waits a fixed delay and dials again, and
// after a bounded run of failed retries it gives up and reports
// ErrBrokerUnreachable on Fatal so the process can exit.
//
// # Delivery
//
// Inbound messages are delivered in broker order, one at a time, to the
// MessageHandler passed to Connect. Handler panics are recovered and logged.
//
// # Usage
//
//	m := mqtt.NewManager(cfg.MQTT)
//	m.SetLogger(logger.With("component", "mqtt"))
//	if err := m.Connect(ctx, gw.Subscriptions(), gw.Route); err != nil {
//	    return err
//	}
//	defer m.Disconnect()
//
//	select {
//	case <-ctx.Done():
//	case err := <-m.Fatal():
//	    return err
//	}
//
// Replies are published at QoS 0 and are never retained.
package mqtt
