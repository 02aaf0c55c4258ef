// Package mqtt provides the broker connection used by momcore sessions.
//
// This package manages:
//   - Connection to an MQTT 3.1.1 broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT), supplied per connection
//   - Connection health monitoring
//
// # Architecture
//
// Client implements transport.Transport and Dialer implements
// transport.Dialer, so the coordination core never imports paho:
//
//	session ↔ transport.Transport ↔ mqtt.Client ↔ broker
//
// Each session opens one long-lived connection carrying its presence
// will, plus one short-lived connection per authentication handshake.
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//
// # Usage
//
//	dialer := mqtt.NewDialer(cfg.MQTT, logger)
//	conn, err := dialer.Dial(ctx, transport.DialOptions{Will: will})
//	if err != nil {
//	    return err
//	}
//	defer conn.Close()
//
//	err = conn.Subscribe(topics.AllPrivate(), 1, router.OnInbound)
package mqtt
