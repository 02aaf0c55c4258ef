// Package influxdb records session telemetry in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library for connection
// management, batched point writing and health monitoring, and provides an
// event observer that turns presence and delivery changes into points:
//
//   - presence: tags namespace, user; field online (bool)
//   - pending_messages: tags namespace, user; field count (int)
//   - presence_poll: tags namespace; field expired (int)
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry off
//	}
//	defer client.Close()
//
//	bus.Subscribe(client.Observer(cfg.Session.Namespace))
//
// # Thread Safety
//
// All methods are safe for concurrent use. Writes are non-blocking and
// batched according to batch_size and flush_interval; batch errors are
// delivered to the SetOnError callback.
package influxdb
