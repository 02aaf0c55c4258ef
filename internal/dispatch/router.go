package dispatch

import (
	"errors"
	"sync"

	"github.com/nerrad567/momcore/internal/protocol"
)

// Sink receives decoded inbound messages. Every method runs on the drain
// loop, in arrival order.
type Sink interface {
	// ControlChanged is a user or topic directory control message.
	ControlChanged(kind protocol.Kind, name string, op protocol.ControlOp)

	// PresenceObserved is an announcement or last will on the presence channel.
	PresenceObserved(msg protocol.PresenceMessage)

	// PollObserved is a presence poll.
	PollObserved()

	// OwnPrivate is a message on this client's own private channel.
	OwnPrivate(msg protocol.PrivateMessage)

	// PrivateObserved is a message on another user's private channel.
	PrivateObserved(to string, msg protocol.PrivateMessage)

	// AckObserved is an acknowledgment published by name.
	AckObserved(name string)

	// AuthRequested is a login request for the authority.
	AuthRequested(req protocol.AuthRequest)

	// TopicMessage is traffic on a directory topic. The sink decides
	// whether this client is subscribed.
	TopicMessage(topic string, payload []byte)
}

// Router is the single entry point for inbound broker traffic.
//
// OnInbound runs on transport goroutines: it classifies and decodes
// immediately and hands the Sink call to the queue. It never touches
// tracker state.
type Router struct {
	topics  protocol.Topics
	queue   *Queue
	sink    Sink
	metrics *Metrics
	logger  Logger

	selfMu sync.RWMutex
	self   string
}

// NewRouter creates a router feeding sink through queue.
func NewRouter(topics protocol.Topics, queue *Queue, sink Sink, metrics *Metrics) *Router {
	return &Router{
		topics:  topics,
		queue:   queue,
		sink:    sink,
		metrics: metrics,
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the router.
func (r *Router) SetLogger(logger Logger) {
	r.logger = logger
}

// SetSelf sets the name whose private channel is this client's inbox.
// Empty means no inbox (manager role).
func (r *Router) SetSelf(name string) {
	r.selfMu.Lock()
	defer r.selfMu.Unlock()
	r.self = name
}

// Self returns the current inbox owner.
func (r *Router) Self() string {
	r.selfMu.RLock()
	defer r.selfMu.RUnlock()
	return r.self
}

// OnInbound classifies one message and enqueues its handler. It matches
// transport.MessageHandler. Unmatched topics are dropped silently;
// malformed payloads are logged and counted. The returned error is only
// for the transport's own logging.
func (r *Router) OnInbound(topic string, payload []byte) error {
	task, route, err := r.route(topic, payload)
	if err != nil {
		r.metrics.incMalformed(route.String())
		r.logger.Warn("malformed payload discarded", "topic", topic, "route", route, "error", err)
		return nil
	}
	if task == nil {
		return nil
	}

	if err := r.queue.TryPush(task); err != nil {
		if errors.Is(err, ErrQueueFull) {
			r.logger.Warn("dispatch queue full, message dropped", "topic", topic, "route", route)
		}
		return err
	}
	r.metrics.incHandled(route.String())
	return nil
}

// route returns the task for a message, or nil when the message is not
// for this client. The returned kind labels metrics and logs.
func (r *Router) route(topic string, payload []byte) (Task, protocol.RouteKind, error) {
	route := r.topics.Classify(topic)
	self := r.Self()
	sink := r.sink

	// Own inbox first, ahead of every system channel.
	if route.Kind == protocol.RoutePrivate && self != "" && route.Name == self {
		msg, ok := protocol.DecodePrivate(payload)
		if !ok {
			// Echo of our own retained clear.
			return nil, route.Kind, nil
		}
		return func() { sink.OwnPrivate(msg) }, route.Kind, nil
	}

	switch route.Kind {
	case protocol.RoutePresence:
		msg, err := protocol.DecodePresence(payload)
		if err != nil {
			return nil, route.Kind, err
		}
		return func() { sink.PresenceObserved(msg) }, route.Kind, nil

	case protocol.RoutePresencePoll:
		return sink.PollObserved, route.Kind, nil

	case protocol.RouteUserControl, protocol.RouteTopicControl:
		op, err := protocol.DecodeControl(payload)
		if err != nil {
			return nil, route.Kind, err
		}
		kind := protocol.KindUser
		if route.Kind == protocol.RouteTopicControl {
			kind = protocol.KindTopic
		}
		name := route.Name
		return func() { sink.ControlChanged(kind, name, op) }, route.Kind, nil

	case protocol.RoutePrivate:
		msg, ok := protocol.DecodePrivate(payload)
		if !ok {
			// Clear-after-read tombstones never count as a send.
			return nil, route.Kind, nil
		}
		to := route.Name
		return func() { sink.PrivateObserved(to, msg) }, route.Kind, nil

	case protocol.RouteAck:
		if err := protocol.DecodeAck(payload); err != nil {
			return nil, route.Kind, err
		}
		name := route.Name
		return func() { sink.AckObserved(name) }, route.Kind, nil

	case protocol.RouteAuthRequest:
		req, err := r.topics.DecodeAuthRequest(payload)
		if err != nil {
			return nil, route.Kind, err
		}
		return func() { sink.AuthRequested(req) }, route.Kind, nil

	case protocol.RouteTopic:
		name := route.Name
		data := append([]byte(nil), payload...)
		return func() { sink.TopicMessage(name, data) }, route.Kind, nil
	}

	return nil, route.Kind, nil
}
