// Package directory maintains the known users and topics by replaying
// retained ADD/empty control messages.
//
// The broker's retained store is the only source of truth. Local adds and
// removes are published as control messages and applied when the broker
// echoes them back, so a local change and a remote change take the same
// path through Apply.
//
// A Directory is not safe for concurrent use. It is owned by the dispatch
// drain loop; every read from elsewhere goes through dispatch.Queue.Do.
package directory

import (
	"fmt"
	"sort"

	"github.com/nerrad567/momcore/internal/event"
	"github.com/nerrad567/momcore/internal/protocol"
)

// Logger defines the logging interface used by the Directory.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Member owns auxiliary per-user state. Init runs in the same step a user
// record is inserted and Drop in the same step it is erased, so auxiliary
// state never outlives or predates its record.
type Member interface {
	Init(name string)
	Drop(name string)
}

// TopicRecord is a known topic and whether this client receives its traffic.
type TopicRecord struct {
	Name       string `json:"name"`
	Subscribed bool   `json:"subscribed"`
}

// Directory is the replicated membership view.
type Directory struct {
	topics  protocol.Topics
	users   map[string]struct{}
	entries map[string]*TopicRecord
	members []Member
	emit    event.Emitter
	logger  Logger
}

// New creates an empty directory for the namespace.
func New(topics protocol.Topics, emit event.Emitter) *Directory {
	if emit == nil {
		emit = event.Discard
	}
	return &Directory{
		topics:  topics,
		users:   make(map[string]struct{}),
		entries: make(map[string]*TopicRecord),
		emit:    emit,
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the directory.
func (d *Directory) SetLogger(logger Logger) {
	d.logger = logger
}

// AddMember registers an auxiliary state owner. Members added after users
// are known are initialised for those users immediately.
func (d *Directory) AddMember(m Member) {
	d.members = append(d.members, m)
	for name := range d.users {
		m.Init(name)
	}
}

// Apply applies one control message. ADD for an absent entity inserts it;
// remove for a present entity erases it. Every other combination is a no-op,
// which makes replay of retained messages on resubscription harmless.
// It reports whether the directory changed.
func (d *Directory) Apply(kind protocol.Kind, name string, op protocol.ControlOp) bool {
	switch kind {
	case protocol.KindUser:
		return d.applyUser(name, op)
	case protocol.KindTopic:
		return d.applyTopic(name, op)
	default:
		d.logger.Warn("control message for unknown kind", "kind", kind, "name", name)
		return false
	}
}

func (d *Directory) applyUser(name string, op protocol.ControlOp) bool {
	_, exists := d.users[name]

	switch {
	case op == protocol.OpAdd && !exists:
		d.users[name] = struct{}{}
		for _, m := range d.members {
			m.Init(name)
		}
	case op == protocol.OpRemove && exists:
		delete(d.users, name)
		for _, m := range d.members {
			m.Drop(name)
		}
	default:
		d.logger.Debug("control message is a no-op", "kind", protocol.KindUser, "name", name, "op", op)
		return false
	}

	d.notify(protocol.KindUser, name, op, false)
	return true
}

func (d *Directory) applyTopic(name string, op protocol.ControlOp) bool {
	rec, exists := d.entries[name]

	switch {
	case op == protocol.OpAdd && !exists:
		d.entries[name] = &TopicRecord{Name: name}
		d.notify(protocol.KindTopic, name, op, false)
	case op == protocol.OpRemove && exists:
		delete(d.entries, name)
		d.notify(protocol.KindTopic, name, op, rec.Subscribed)
	default:
		d.logger.Debug("control message is a no-op", "kind", protocol.KindTopic, "name", name, "op", op)
		return false
	}
	return true
}

func (d *Directory) notify(kind protocol.Kind, name string, op protocol.ControlOp, subscribed bool) {
	typ := event.EntityAdded
	if op == protocol.OpRemove {
		typ = event.EntityRemoved
	}
	d.logger.Info("directory changed", "kind", kind, "name", name, "op", op)
	d.emit(event.Event{Type: typ, Kind: kind, Name: name, Subscribed: subscribed})
}

// Has reports whether an entity of the given kind is known.
func (d *Directory) Has(kind protocol.Kind, name string) bool {
	if kind == protocol.KindTopic {
		return d.HasTopic(name)
	}
	return d.HasUser(name)
}

// HasUser reports whether name is a known user.
func (d *Directory) HasUser(name string) bool {
	_, ok := d.users[name]
	return ok
}

// HasTopic reports whether name is a known topic.
func (d *Directory) HasTopic(name string) bool {
	_, ok := d.entries[name]
	return ok
}

// Users returns the known user names, sorted.
func (d *Directory) Users() []string {
	out := make([]string, 0, len(d.users))
	for name := range d.users {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Topics returns copies of the known topic records, sorted by name.
func (d *Directory) Topics() []TopicRecord {
	out := make([]TopicRecord, 0, len(d.entries))
	for _, rec := range d.entries {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of known entities of the given kind.
func (d *Directory) Len(kind protocol.Kind) int {
	if kind == protocol.KindTopic {
		return len(d.entries)
	}
	return len(d.users)
}

// SetSubscribed records local subscription state for a known topic. It
// reports whether the value changed. The flag is never replicated.
func (d *Directory) SetSubscribed(name string, subscribed bool) bool {
	rec, ok := d.entries[name]
	if !ok || rec.Subscribed == subscribed {
		return false
	}
	rec.Subscribed = subscribed
	d.emit(event.Event{Type: event.SubscriptionChanged, Kind: protocol.KindTopic, Name: name, Subscribed: subscribed})
	return true
}

// Subscribed reports whether this client receives traffic for topic name.
func (d *Directory) Subscribed(name string) bool {
	rec, ok := d.entries[name]
	return ok && rec.Subscribed
}

// ControlMessage builds the retained control publish for an add or remove.
// The directory itself is not changed; the change lands when the broker
// echoes the message back.
func (d *Directory) ControlMessage(kind protocol.Kind, name string, op protocol.ControlOp) (protocol.Outbound, error) {
	if err := protocol.ValidateName(kind, name); err != nil {
		return protocol.Outbound{}, err
	}
	if op != protocol.OpAdd && op != protocol.OpRemove {
		return protocol.Outbound{}, fmt.Errorf("directory: invalid control op %d", op)
	}
	return protocol.Outbound{
		Topic:    d.topics.Control(kind, name),
		Payload:  op.Payload(),
		Retained: true,
	}, nil
}
