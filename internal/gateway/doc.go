// Package gateway implements the kiosk request/reply protocol over MQTT.
//
// Kiosks publish JSON requests under esp32/{kind}/request and expect exactly
// one JSON reply on esp32/{kind}/response/{client_id}:
//
//	esp32/auth/request     {client_id, user_id}            -> {auth, status}
//	esp32/status/request   {client_id, user_id}            -> {auth, status}
//	esp32/loan/request     {client_id, user_id, book_code} -> {auth, status, loan}
//	esp32/loan/make        (alias of loan/request)
//	esp32/image/request/.../part  {client_id, part, total_parts, image_chunk}
//	                                                        -> {image, code}
//	esp32/image/request/.../final (ignored)
//
// Business rejections are negative replies. Malformed messages and store
// faults get no reply; the kiosk retries after its own timeout.
//
// # Usage
//
//	gw, err := gateway.New(gateway.Options{
//	    Publisher: mqttManager,
//	    Store:     repo,
//	    Transfers: transfer.New(transfer.Config{}, log),
//	    Decoder:   decode.NewZXingDecoder(),
//	    Logger:    log,
//	})
//	if err != nil {
//	    return err
//	}
//	defer gw.Stop()
//
//	err = mqttManager.Connect(ctx, gw.Subscriptions(), gw.Route)
//
// # Thread Safety
//
// Route must be called from a single delivery goroutine to preserve chunk
// order per client. All other methods are safe for concurrent use.
package gateway
