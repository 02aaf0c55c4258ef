// Package hybrid carries private and topic traffic over a queue broker
// while directory, presence and login stay on the pub/sub broker.
//
// Each user owns a durable queue and each topic a fanout exchange:
//
//	<namespace>.queue_<user>     durable, persistent messages
//	<namespace>.topic_<topic>    fanout, one exclusive queue per follower
//
// The manager runs a Provisioner, which declares and deletes those from
// directory events. A user session runs a Mailbox, which sends into the
// recipient's queue, consumes its own, and hands every delivery back under
// the equivalent pub/sub topic name so the dispatch router needs no
// special case. The queue broker's own consumption replaces the ACK and
// clear-after-read of the pub/sub path.
//
// Bridging is best-effort: a message is either on one broker or the other,
// and nothing coordinates the two.
package hybrid

import (
	"context"
	"strings"

	"github.com/nerrad567/momcore/internal/protocol"
	"github.com/nerrad567/momcore/internal/transport"
)

// Broker is the queue-broker surface this package needs. The AMQP client
// in infrastructure/amqp implements it.
type Broker interface {
	DeclareQueue(name string) error
	DeleteQueue(name string) error
	QueueDepth(name string) (int, error)
	DeclareExchange(name string) error
	DeleteExchange(name string) error
	PublishToQueue(queue string, body []byte) error
	PublishToExchange(exchange string, body []byte) error
	ConsumeQueue(ctx context.Context, queue string, handler transport.MessageHandler) error
	ConsumeExchange(ctx context.Context, exchange string, handler transport.MessageHandler) error
}

// Logger defines the logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// Names builds queue and exchange names for a namespace. AMQP names are
// flat, so the namespace's "/" levels become ".".
type Names struct {
	prefix string
}

// NewNames derives queue-broker names from the namespace.
func NewNames(topics protocol.Topics) Names {
	return Names{prefix: strings.ReplaceAll(topics.Namespace(), "/", ".")}
}

// Queue returns the durable queue of a user.
func (n Names) Queue(user string) string {
	return n.prefix + ".queue_" + user
}

// Exchange returns the fanout exchange of a topic.
func (n Names) Exchange(topic string) string {
	return n.prefix + ".topic_" + topic
}
