// Package transport defines the publish/subscribe contract the coordination
// core is written against, and an in-memory broker implementing it.
//
// The contract mirrors what an MQTT 3.1.1 broker offers: topic wildcards
// ("+" for one level, "#" for the remainder), retained messages where an
// empty retained payload deletes the stored value, and a last-will message
// the broker publishes when a connection is lost without a clean close.
//
// Implementations:
//   - infrastructure/mqtt: a paho-based client for real brokers
//   - Loopback: an in-process broker for tests and single-process demos
package transport

import "context"

// MessageHandler is invoked for every message matching a subscription.
//
// Handlers run on the transport's delivery goroutine and must not block;
// the dispatch router only enqueues. A returned error is logged and does
// not affect delivery of later messages.
type MessageHandler func(topic string, payload []byte) error

// Transport is one broker connection.
type Transport interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler MessageHandler) error
	Unsubscribe(topic string) error
	IsConnected() bool
	Close() error
}

// Will is the message a broker publishes on an abrupt disconnect.
type Will struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

// DialOptions configures a single connection.
type DialOptions struct {
	// ClientID is the broker-side identity. Empty means generate one.
	ClientID string

	// Will is optional.
	Will *Will
}

// Dialer opens broker connections. Each logical role (main session,
// authentication handshake) gets its own connection.
type Dialer interface {
	Dial(ctx context.Context, opts DialOptions) (Transport, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, opts DialOptions) (Transport, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context, opts DialOptions) (Transport, error) {
	return f(ctx, opts)
}
