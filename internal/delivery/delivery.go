// Package delivery keeps a per-user count of private messages sent but not
// yet acknowledged.
//
// Every subscriber of the private wildcard sees every direct message, so an
// aggregator can count traffic it is not part of. The count is advisory: it
// stays accurate only because receivers acknowledge and then clear their
// retained private message, which stops redelivery on resubscribe.
//
// A Tracker is owned by the dispatch drain loop and is not safe for
// concurrent use.
package delivery

import (
	"sort"

	"github.com/nerrad567/momcore/internal/event"
	"github.com/nerrad567/momcore/internal/protocol"
)

// Logger defines the logging interface used by the Tracker.
type Logger interface {
	Debug(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}

// Tracker holds pending counters for every user the directory knows.
type Tracker struct {
	pending map[string]int
	emit    event.Emitter
	logger  Logger
}

// New creates an empty tracker.
func New(emit event.Emitter) *Tracker {
	if emit == nil {
		emit = event.Discard
	}
	return &Tracker{
		pending: make(map[string]int),
		emit:    emit,
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the tracker.
func (t *Tracker) SetLogger(logger Logger) {
	t.logger = logger
}

// Init starts a newly added user at zero.
func (t *Tracker) Init(name string) {
	t.pending[name] = 0
}

// Drop forgets a removed user.
func (t *Tracker) Drop(name string) {
	delete(t.pending, name)
}

// OnSend counts a message observed on name's private channel.
func (t *Tracker) OnSend(name string) bool {
	n, ok := t.pending[name]
	if !ok {
		t.logger.Debug("send for unknown user ignored", "name", name)
		return false
	}
	t.set(name, n+1)
	return true
}

// OnAck counts an acknowledgment from name. The counter never goes below zero.
func (t *Tracker) OnAck(name string) bool {
	n, ok := t.pending[name]
	if !ok {
		t.logger.Debug("ack for unknown user ignored", "name", name)
		return false
	}
	if n == 0 {
		t.logger.Debug("ack with nothing pending", "name", name)
		return false
	}
	t.set(name, n-1)
	return true
}

func (t *Tracker) set(name string, n int) {
	t.pending[name] = n
	t.emit(event.Event{Type: event.PendingChanged, Kind: protocol.KindUser, Name: name, Pending: n})
}

// Pending returns name's counter and whether the user is known.
func (t *Tracker) Pending(name string) (int, bool) {
	n, ok := t.pending[name]
	return n, ok
}

// Entry is one row of a Snapshot.
type Entry struct {
	Name    string `json:"name"`
	Pending int    `json:"pending"`
}

// Snapshot returns every counter, sorted by name.
func (t *Tracker) Snapshot() []Entry {
	out := make([]Entry, 0, len(t.pending))
	for name, n := range t.pending {
		out = append(out, Entry{Name: name, Pending: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// =============================================================================
// Receiver side
// =============================================================================

// Receipt builds the two publishes a recipient makes after reading its
// private message: the acknowledgment, then the retained clear. Both are
// required; without the clear a resubscribe redelivers the message and the
// aggregators count it twice.
func Receipt(topics protocol.Topics, self string) []protocol.Outbound {
	return []protocol.Outbound{
		{Topic: topics.Ack(self), Payload: []byte(protocol.PayloadAck)},
		{Topic: topics.Private(self), Payload: []byte{}, Retained: true},
	}
}
