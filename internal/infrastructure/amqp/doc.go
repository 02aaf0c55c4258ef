// Package amqp provides the queue-broker connection used in hybrid mode.
//
// In hybrid mode MQTT still carries directory control, presence and the
// authentication handshake, while private messages travel through a
// durable per-user queue and topic messages through a fanout exchange per
// topic. This package wraps github.com/streadway/amqp with exactly the
// operations that needs:
//
//   - DeclareQueue / DeleteQueue / QueueDepth for per-user mailboxes
//   - DeclareExchange / DeleteExchange for topics
//   - PublishToQueue (persistent) / PublishToExchange
//   - ConsumeQueue / ConsumeExchange, each on its own channel
//
// # Usage
//
//	client, err := amqp.Connect(cfg.AMQP)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	if err := client.DeclareQueue("momcore.queue_alice"); err != nil {
//	    return err
//	}
package amqp
