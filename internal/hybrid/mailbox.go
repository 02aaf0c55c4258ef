package hybrid

import (
	"context"
	"fmt"
	"sync"

	"github.com/nerrad567/momcore/internal/protocol"
	"github.com/nerrad567/momcore/internal/transport"
)

// Mailbox is a user's side of the queue broker.
//
// Thread Safety: all methods are safe for concurrent use.
type Mailbox struct {
	broker Broker
	names  Names
	topics protocol.Topics
	logger Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	ctx     context.Context
	self    string
	deliver transport.MessageHandler
	follows map[string]context.CancelFunc
}

// NewMailbox creates a closed mailbox for the namespace.
func NewMailbox(broker Broker, topics protocol.Topics) *Mailbox {
	return &Mailbox{
		broker: broker,
		names:  NewNames(topics),
		topics: topics,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger.
func (m *Mailbox) SetLogger(logger Logger) {
	m.logger = logger
}

// Open starts consuming self's queue. Deliveries reach deliver as if they
// had arrived on self's private channel. ctx only bounds the setup; the
// consumers run until Close.
func (m *Mailbox) Open(ctx context.Context, self string, deliver transport.MessageHandler) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if deliver == nil {
		return transport.ErrNilHandler
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return ErrAlreadyOpen
	}

	consumeCtx, cancel := context.WithCancel(context.Background())
	inbox := m.topics.Private(self)
	err := m.broker.ConsumeQueue(consumeCtx, m.names.Queue(self), func(_ string, body []byte) error {
		return deliver(inbox, body)
	})
	if err != nil {
		cancel()
		return fmt.Errorf("consuming own queue: %w", err)
	}

	m.ctx, m.cancel = consumeCtx, cancel
	m.self = self
	m.deliver = deliver
	m.follows = make(map[string]context.CancelFunc)
	m.logger.Info("mailbox opened", "user", self, "queue", m.names.Queue(self))
	return nil
}

// Send publishes a persistent message into the recipient's queue. The
// queue is declared first so a message to a user the manager has not
// provisioned yet is kept rather than dropped by the broker.
func (m *Mailbox) Send(to string, payload []byte) error {
	if !m.isOpen() {
		return ErrNotOpen
	}
	queue := m.names.Queue(to)
	if err := m.broker.DeclareQueue(queue); err != nil {
		return err
	}
	return m.broker.PublishToQueue(queue, payload)
}

// Publish sends payload to every follower of topic. Publishing to a
// missing exchange is a channel error in AMQP, so the exchange is
// declared first.
func (m *Mailbox) Publish(topic string, payload []byte) error {
	if !m.isOpen() {
		return ErrNotOpen
	}
	exchange := m.names.Exchange(topic)
	if err := m.broker.DeclareExchange(exchange); err != nil {
		return err
	}
	return m.broker.PublishToExchange(exchange, payload)
}

// Follow binds an exclusive queue to the topic's exchange. Following twice
// is a no-op.
func (m *Mailbox) Follow(topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel == nil {
		return ErrNotOpen
	}
	if _, ok := m.follows[topic]; ok {
		return nil
	}

	ctx, cancel := context.WithCancel(m.ctx)
	deliver := m.deliver
	name := m.topics.Topic(topic)
	err := m.broker.ConsumeExchange(ctx, m.names.Exchange(topic), func(_ string, body []byte) error {
		return deliver(name, body)
	})
	if err != nil {
		cancel()
		return fmt.Errorf("following %s: %w", topic, err)
	}
	m.follows[topic] = cancel
	return nil
}

// Unfollow stops the topic's consumer. Its exclusive queue goes with it.
func (m *Mailbox) Unfollow(topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cancel, ok := m.follows[topic]; ok {
		cancel()
		delete(m.follows, topic)
	}
	return nil
}

// Close stops every consumer. The mailbox can be opened again.
func (m *Mailbox) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel == nil {
		return nil
	}
	m.cancel()
	m.logger.Info("mailbox closed", "user", m.self)
	m.cancel, m.ctx, m.deliver, m.follows, m.self = nil, nil, nil, nil, ""
	return nil
}

func (m *Mailbox) isOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancel != nil
}
