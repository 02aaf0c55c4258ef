package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Logger is the optional logging hook for the loopback broker.
type Logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Loopback is an in-process broker. It keeps a retained store, matches "+"
// and "#" filters, and publishes a connection's will when the connection is
// dropped (but not when it is closed).
//
// Each connection delivers on its own goroutine in arrival order, so handler
// code sees the same asynchrony it would with a network broker.
//
// Thread Safety: all methods are safe for concurrent use.
type Loopback struct {
	mu       sync.Mutex
	retained map[string][]byte
	conns    map[*LoopbackConn]struct{}
	logger   Logger

	// inflight counts queued plus executing deliveries across all connections.
	inflight atomic.Int64
}

// NewLoopback creates an empty broker.
func NewLoopback() *Loopback {
	return &Loopback{
		retained: make(map[string][]byte),
		conns:    make(map[*LoopbackConn]struct{}),
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger used for handler errors and panics.
func (b *Loopback) SetLogger(logger Logger) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if logger == nil {
		logger = noopLogger{}
	}
	b.logger = logger
}

// Dial implements Dialer.
func (b *Loopback) Dial(ctx context.Context, opts DialOptions) (Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return b.Connect(opts)
}

// Connect opens a connection and returns the concrete type so tests can Drop it.
func (b *Loopback) Connect(opts DialOptions) (*LoopbackConn, error) {
	if opts.Will != nil && !ValidTopic(opts.Will.Topic) {
		return nil, fmt.Errorf("%w: will topic %q", ErrInvalidTopic, opts.Will.Topic)
	}

	id := opts.ClientID
	if id == "" {
		id = "loopback-" + uuid.NewString()
	}

	c := &LoopbackConn{
		broker: b,
		id:     id,
		will:   opts.Will,
		subs:   make(map[string]MessageHandler),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	b.mu.Lock()
	b.conns[c] = struct{}{}
	b.mu.Unlock()

	go c.deliverLoop()
	return c, nil
}

// Retained returns the retained payload stored for topic.
func (b *Loopback) Retained(topic string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.retained[topic]
	return p, ok
}

// Connections returns the number of open connections.
func (b *Loopback) Connections() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conns)
}

// Flush waits until no delivery is queued or executing, or the timeout
// elapses. It reports whether the broker went idle.
func (b *Loopback) Flush(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if b.inflight.Load() == 0 {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}
}

// publish routes a message to matching subscriptions and updates the
// retained store.
func (b *Loopback) publish(topic string, payload []byte, retained bool) {
	data := append([]byte(nil), payload...)

	b.mu.Lock()
	defer b.mu.Unlock()

	if retained {
		if len(data) == 0 {
			delete(b.retained, topic)
		} else {
			b.retained[topic] = data
		}
	}

	for c := range b.conns {
		for _, handler := range c.matching(topic) {
			c.enqueue(delivery{topic: topic, payload: data, handler: handler})
		}
	}
}

// subscribe registers the filter and queues matching retained messages in
// one step, so a concurrent retained publish is seen exactly once.
func (b *Loopback) subscribe(c *LoopbackConn, filter string, handler MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.subs[filter] = handler
	c.mu.Unlock()

	for topic, payload := range b.retained {
		if Match(filter, topic) {
			c.enqueue(delivery{topic: topic, payload: payload, handler: handler})
		}
	}
	return nil
}

func (b *Loopback) detach(c *LoopbackConn) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.conns[c]; !ok {
		return false
	}
	delete(b.conns, c)
	return true
}

func (b *Loopback) getLogger() Logger {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.logger
}

type delivery struct {
	topic   string
	payload []byte
	handler MessageHandler
}

// LoopbackConn is a connection to a Loopback broker.
type LoopbackConn struct {
	broker *Loopback
	id     string
	will   *Will

	mu      sync.Mutex
	subs    map[string]MessageHandler
	pending []delivery
	closed  bool

	notify chan struct{}
	done   chan struct{}
}

// ClientID returns the connection's identity.
func (c *LoopbackConn) ClientID() string {
	return c.id
}

// Publish implements Transport. QoS is accepted and ignored.
func (c *LoopbackConn) Publish(topic string, payload []byte, _ byte, retained bool) error {
	if !ValidTopic(topic) {
		return fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}
	if !c.IsConnected() {
		return ErrClosed
	}
	c.broker.publish(topic, payload, retained)
	return nil
}

// Subscribe implements Transport. Retained messages matching the filter are
// delivered immediately after subscription.
func (c *LoopbackConn) Subscribe(filter string, _ byte, handler MessageHandler) error {
	if !ValidFilter(filter) {
		return fmt.Errorf("%w: %q", ErrInvalidTopic, filter)
	}
	if handler == nil {
		return ErrNilHandler
	}

	return c.broker.subscribe(c, filter, handler)
}

// Unsubscribe implements Transport.
func (c *LoopbackConn) Unsubscribe(filter string) error {
	if filter == "" {
		return ErrInvalidTopic
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	delete(c.subs, filter)
	return nil
}

// IsConnected implements Transport.
func (c *LoopbackConn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// Close disconnects cleanly. The will is discarded.
func (c *LoopbackConn) Close() error {
	c.shutdown()
	return nil
}

// Drop simulates an abrupt disconnect: the broker publishes the will.
func (c *LoopbackConn) Drop() {
	if !c.shutdown() {
		return
	}
	if w := c.will; w != nil {
		c.broker.publish(w.Topic, w.Payload, w.Retained)
	}
}

// shutdown detaches the connection and stops delivery. It reports whether
// this call performed the shutdown.
func (c *LoopbackConn) shutdown() bool {
	if !c.broker.detach(c) {
		return false
	}

	c.mu.Lock()
	c.closed = true
	dropped := len(c.pending)
	c.pending = nil
	c.mu.Unlock()

	c.broker.inflight.Add(int64(-dropped))
	close(c.done)
	return true
}

// matching returns the handlers whose filter matches topic. Called with the
// broker lock held.
func (c *LoopbackConn) matching(topic string) map[string]MessageHandler {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out map[string]MessageHandler
	for filter, h := range c.subs {
		if Match(filter, topic) {
			if out == nil {
				out = make(map[string]MessageHandler)
			}
			out[filter] = h
		}
	}
	return out
}

func (c *LoopbackConn) enqueue(d delivery) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.pending = append(c.pending, d)
	c.broker.inflight.Add(1)
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (c *LoopbackConn) deliverLoop() {
	for {
		select {
		case <-c.done:
			return
		case <-c.notify:
		}

		for {
			c.mu.Lock()
			if c.closed || len(c.pending) == 0 {
				c.mu.Unlock()
				break
			}
			d := c.pending[0]
			c.pending = c.pending[1:]
			c.mu.Unlock()

			c.invoke(d)
			c.broker.inflight.Add(-1)
		}
	}
}

func (c *LoopbackConn) invoke(d delivery) {
	defer func() {
		if r := recover(); r != nil {
			c.broker.getLogger().Error("loopback handler panic recovered",
				"client_id", c.id,
				"topic", d.topic,
				"panic", r,
			)
		}
	}()

	if err := d.handler(d.topic, d.payload); err != nil {
		c.broker.getLogger().Warn("loopback handler returned error",
			"client_id", c.id,
			"topic", d.topic,
			"error", err,
		)
	}
}
