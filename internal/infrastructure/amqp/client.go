package amqp

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/streadway/amqp"

	"github.com/nerrad567/momcore/internal/infrastructure/config"
	"github.com/nerrad567/momcore/internal/transport"
)

const (
	// exchangeKind is the only exchange type topics use.
	exchangeKind = "fanout"

	// consumerPrefetch bounds unacknowledged deliveries per consumer.
	consumerPrefetch = 1

	contentType = "text/plain"
)

// Logger interface for optional logging support.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Client is one AMQP connection with a shared channel for management and
// publishing. Consumers open their own channels.
//
// Thread Safety: all methods are safe for concurrent use.
type Client struct {
	conn *amqp.Connection

	// ch is used for declarations, deletions and publishing.
	ch   *amqp.Channel
	chMu sync.Mutex

	closed   bool
	closedMu sync.RWMutex

	consumers sync.WaitGroup

	logger   Logger
	loggerMu sync.RWMutex
}

// Connect dials the broker at cfg.URL and opens the management channel.
func Connect(cfg config.AMQPConfig) (*Client, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: opening channel: %w", ErrConnectionFailed, err)
	}

	c := &Client{conn: conn, ch: ch}

	lost := conn.NotifyClose(make(chan *amqp.Error, 1))
	go c.watch(lost)

	return c, nil
}

// watch marks the client closed when the broker drops the connection.
func (c *Client) watch(lost <-chan *amqp.Error) {
	err, ok := <-lost
	c.closedMu.Lock()
	c.closed = true
	c.closedMu.Unlock()

	if ok && err != nil {
		if logger := c.getLogger(); logger != nil {
			logger.Warn("AMQP connection lost", "error", err)
		}
	}
}

// IsConnected reports whether the connection is still open.
func (c *Client) IsConnected() bool {
	c.closedMu.RLock()
	defer c.closedMu.RUnlock()
	return c.conn != nil && !c.closed
}

// HealthCheck returns nil while the connection is open.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("amqp health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// SetLogger sets a logger for consumer errors.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// withChannel runs fn on the management channel.
func (c *Client) withChannel(name string, fn func(ch *amqp.Channel) error) error {
	if name == "" {
		return ErrInvalidName
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	c.chMu.Lock()
	defer c.chMu.Unlock()
	return fn(c.ch)
}

// DeclareQueue declares a durable queue. Declaring an existing queue
// with the same arguments is a no-op.
func (c *Client) DeclareQueue(name string) error {
	return c.withChannel(name, func(ch *amqp.Channel) error {
		if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declaring queue %s: %w", name, err)
		}
		return nil
	})
}

// DeleteQueue deletes a queue together with any messages still in it.
func (c *Client) DeleteQueue(name string) error {
	return c.withChannel(name, func(ch *amqp.Channel) error {
		if _, err := ch.QueueDelete(name, false, false, false); err != nil {
			return fmt.Errorf("deleting queue %s: %w", name, err)
		}
		return nil
	})
}

// QueueDepth returns the number of ready messages in a queue.
//
// A passive declare of a missing queue makes the broker close the channel,
// so the check runs on a throwaway channel.
func (c *Client) QueueDepth(name string) (int, error) {
	if name == "" {
		return 0, ErrInvalidName
	}
	if !c.IsConnected() {
		return 0, ErrNotConnected
	}

	ch, err := c.conn.Channel()
	if err != nil {
		return 0, fmt.Errorf("opening channel: %w", err)
	}
	defer ch.Close()

	q, err := ch.QueueDeclarePassive(name, true, false, false, false, nil)
	if err != nil {
		return 0, fmt.Errorf("inspecting queue %s: %w", name, err)
	}
	return q.Messages, nil
}

// DeclareExchange declares a fanout exchange.
func (c *Client) DeclareExchange(name string) error {
	return c.withChannel(name, func(ch *amqp.Channel) error {
		if err := ch.ExchangeDeclare(name, exchangeKind, false, false, false, false, nil); err != nil {
			return fmt.Errorf("declaring exchange %s: %w", name, err)
		}
		return nil
	})
}

// DeleteExchange deletes an exchange.
func (c *Client) DeleteExchange(name string) error {
	return c.withChannel(name, func(ch *amqp.Channel) error {
		if err := ch.ExchangeDelete(name, false, false); err != nil {
			return fmt.Errorf("deleting exchange %s: %w", name, err)
		}
		return nil
	})
}

// PublishToQueue publishes a persistent message through the default
// exchange straight into the named queue.
func (c *Client) PublishToQueue(queue string, body []byte) error {
	return c.withChannel(queue, func(ch *amqp.Channel) error {
		return ch.Publish("", queue, false, false, amqp.Publishing{
			ContentType:  contentType,
			Body:         body,
			DeliveryMode: amqp.Persistent,
		})
	})
}

// PublishToExchange publishes a transient message to every queue bound
// to the exchange.
func (c *Client) PublishToExchange(exchange string, body []byte) error {
	return c.withChannel(exchange, func(ch *amqp.Channel) error {
		return ch.Publish(exchange, "", false, false, amqp.Publishing{
			ContentType: contentType,
			Body:        body,
		})
	})
}

// ConsumeQueue delivers every message in the durable queue to handler
// until ctx is cancelled. The queue is declared first so a consumer can
// start before the manager has provisioned it. Messages are
// acknowledged on receipt; handler errors are logged.
func (c *Client) ConsumeQueue(ctx context.Context, queue string, handler transport.MessageHandler) error {
	return c.consume(ctx, queue, handler, func(ch *amqp.Channel) (string, error) {
		if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			return "", fmt.Errorf("declaring queue %s: %w", queue, err)
		}
		return queue, nil
	})
}

// ConsumeExchange binds an exclusive server-named queue to the fanout
// exchange and delivers its messages to handler until ctx is cancelled.
// Messages published before the bind are not seen.
func (c *Client) ConsumeExchange(ctx context.Context, exchange string, handler transport.MessageHandler) error {
	return c.consume(ctx, exchange, handler, func(ch *amqp.Channel) (string, error) {
		if err := ch.ExchangeDeclare(exchange, exchangeKind, false, false, false, false, nil); err != nil {
			return "", fmt.Errorf("declaring exchange %s: %w", exchange, err)
		}
		q, err := ch.QueueDeclare("", false, true, true, false, nil)
		if err != nil {
			return "", fmt.Errorf("declaring exclusive queue: %w", err)
		}
		if err := ch.QueueBind(q.Name, "", exchange, false, nil); err != nil {
			return "", fmt.Errorf("binding to %s: %w", exchange, err)
		}
		return q.Name, nil
	})
}

// consume opens a dedicated channel, lets setup pick the queue to read,
// and pumps deliveries to handler on a new goroutine. source is passed to
// handler as its first argument.
func (c *Client) consume(ctx context.Context, source string, handler transport.MessageHandler, setup func(*amqp.Channel) (string, error)) error {
	if source == "" {
		return ErrInvalidName
	}
	if handler == nil {
		return transport.ErrNilHandler
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("opening channel: %w", err)
	}
	if err := ch.Qos(consumerPrefetch, 0, false); err != nil {
		ch.Close()
		return fmt.Errorf("setting prefetch: %w", err)
	}

	queue, err := setup(ch)
	if err != nil {
		ch.Close()
		return err
	}

	deliveries, err := ch.Consume(queue, "", true, false, false, false, nil)
	if err != nil {
		ch.Close()
		return fmt.Errorf("consuming %s: %w", queue, err)
	}

	c.consumers.Add(1)
	go func() {
		defer c.consumers.Done()
		defer ch.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				c.invoke(handler, source, d.Body)
			}
		}
	}()

	return nil
}

func (c *Client) invoke(handler transport.MessageHandler, source string, body []byte) {
	defer func() {
		if r := recover(); r != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Error("AMQP handler panic recovered", "source", source, "panic", r)
			}
		}
	}()

	if err := handler(source, body); err != nil {
		if logger := c.getLogger(); logger != nil {
			logger.Warn("AMQP handler returned error", "source", source, "error", err)
		}
	}
}

// Close closes the connection. Consumers stop once their delivery
// channels are closed by the library.
func (c *Client) Close() error {
	c.closedMu.Lock()
	if c.conn == nil || c.closed {
		c.closedMu.Unlock()
		return nil
	}
	c.closed = true
	c.closedMu.Unlock()

	err := c.conn.Close()
	c.consumers.Wait()
	if err != nil && !errors.Is(err, amqp.ErrClosed) {
		return fmt.Errorf("closing amqp connection: %w", err)
	}
	return nil
}
