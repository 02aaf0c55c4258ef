package hybrid

import (
	"context"
	"sort"

	"github.com/nerrad567/momcore/internal/event"
	"github.com/nerrad567/momcore/internal/protocol"
)

// DefaultBacklog is used when NewProvisioner is given a non-positive size.
const DefaultBacklog = 128

type jobKind int

const (
	declareQueue jobKind = iota
	deleteQueue
	declareExchange
	deleteExchange
)

type job struct {
	kind jobKind
	name string
}

// Provisioner mirrors the directory onto the queue broker: a queue per
// user and an exchange per topic.
//
// Observe runs on the drain loop and only queues work; Run performs the
// broker calls on its own goroutine. Declarations are idempotent, so the
// replay of retained directory state on every start is harmless.
type Provisioner struct {
	broker Broker
	names  Names
	jobs   chan job
	logger Logger
}

// NewProvisioner creates a provisioner with room for backlog pending changes.
func NewProvisioner(broker Broker, names Names, backlog int) *Provisioner {
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	return &Provisioner{
		broker: broker,
		names:  names,
		jobs:   make(chan job, backlog),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger. Call before Run.
func (p *Provisioner) SetLogger(logger Logger) {
	p.logger = logger
}

// Observe implements event.Observer.
func (p *Provisioner) Observe(e event.Event) {
	var j job
	switch {
	case e.Type == event.EntityAdded && e.Kind == protocol.KindUser:
		j = job{declareQueue, p.names.Queue(e.Name)}
	case e.Type == event.EntityRemoved && e.Kind == protocol.KindUser:
		j = job{deleteQueue, p.names.Queue(e.Name)}
	case e.Type == event.EntityAdded && e.Kind == protocol.KindTopic:
		j = job{declareExchange, p.names.Exchange(e.Name)}
	case e.Type == event.EntityRemoved && e.Kind == protocol.KindTopic:
		j = job{deleteExchange, p.names.Exchange(e.Name)}
	default:
		return
	}

	select {
	case p.jobs <- j:
	default:
		p.logger.Warn("provisioning change dropped", "name", j.name, "error", ErrBacklogFull)
	}
}

// Run performs queued changes until ctx is cancelled.
func (p *Provisioner) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case j := <-p.jobs:
			p.apply(j)
		}
	}
}

func (p *Provisioner) apply(j job) {
	var err error
	var action string
	switch j.kind {
	case declareQueue:
		action, err = "declared queue", p.broker.DeclareQueue(j.name)
	case deleteQueue:
		action, err = "deleted queue", p.broker.DeleteQueue(j.name)
	case declareExchange:
		action, err = "declared exchange", p.broker.DeclareExchange(j.name)
	case deleteExchange:
		action, err = "deleted exchange", p.broker.DeleteExchange(j.name)
	}
	if err != nil {
		p.logger.Warn("provisioning failed", "name", j.name, "error", err)
		return
	}
	p.logger.Info(action, "name", j.name)
}

// Depth is the number of messages waiting in a user's queue.
type Depth struct {
	Name    string `json:"name"`
	Pending int    `json:"pending"`
}

// QueueDepths reports the waiting messages per user, the queue-broker
// counterpart of the pending counter. Users whose queue cannot be
// inspected are left out and logged.
func (p *Provisioner) QueueDepths(users []string) []Depth {
	out := make([]Depth, 0, len(users))
	for _, name := range users {
		n, err := p.broker.QueueDepth(p.names.Queue(name))
		if err != nil {
			p.logger.Debug("queue depth unavailable", "name", name, "error", err)
			continue
		}
		out = append(out, Depth{Name: name, Pending: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
