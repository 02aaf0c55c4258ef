// Package presence tracks ONLINE/OFFLINE status for known users.
//
// Status is driven by three inputs: explicit announcements on the presence
// channel, the broker-published last will when a client disconnects
// abruptly, and the presence poll. Announcements are not retained, so a
// joining client publishes a poll and every online client re-announces.
//
// A poll opens a window. Users that are ONLINE locally but do not
// re-announce before the window ends are marked OFFLINE, which covers a
// client whose last will was lost.
//
// A Tracker is owned by the dispatch drain loop and is not safe for
// concurrent use.
package presence

import (
	"sort"
	"time"

	"github.com/nerrad567/momcore/internal/event"
	"github.com/nerrad567/momcore/internal/protocol"
)

// Logger defines the logging interface used by the Tracker.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}

// Tracker holds presence for every user the directory knows.
type Tracker struct {
	topics protocol.Topics
	status map[string]protocol.Status
	emit   event.Emitter
	logger Logger

	// confirmed is non-nil while a poll window is open.
	confirmed map[string]bool
	pollStart time.Time
}

// New creates a tracker for the namespace.
func New(topics protocol.Topics, emit event.Emitter) *Tracker {
	if emit == nil {
		emit = event.Discard
	}
	return &Tracker{
		topics: topics,
		status: make(map[string]protocol.Status),
		emit:   emit,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the tracker.
func (t *Tracker) SetLogger(logger Logger) {
	t.logger = logger
}

// Init starts a newly added user OFFLINE.
func (t *Tracker) Init(name string) {
	t.status[name] = protocol.StatusOffline
}

// Drop forgets a removed user.
func (t *Tracker) Drop(name string) {
	delete(t.status, name)
	delete(t.confirmed, name)
}

// Apply records an observed status. Updates for users the directory does
// not know are ignored, so a stale retained OFFLINE cannot resurrect a
// removed user. It reports whether the status changed.
func (t *Tracker) Apply(name string, status protocol.Status) bool {
	current, known := t.status[name]
	if !known {
		t.logger.Debug("presence for unknown user ignored", "name", name, "status", status)
		return false
	}

	if status == protocol.StatusOnline {
		t.Confirm(name)
	}
	if current == status {
		return false
	}

	t.status[name] = status
	t.logger.Info("presence changed", "name", name, "status", status)
	t.emit(event.Event{Type: event.PresenceChanged, Kind: protocol.KindUser, Name: name, Presence: status})
	return true
}

// Status returns a user's status and whether the user is known.
func (t *Tracker) Status(name string) (protocol.Status, bool) {
	s, ok := t.status[name]
	return s, ok
}

// Online returns the names of users currently ONLINE, sorted.
func (t *Tracker) Online() []string {
	var out []string
	for name, s := range t.status {
		if s == protocol.StatusOnline {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Snapshot returns a copy of every known user's status.
func (t *Tracker) Snapshot() map[string]protocol.Status {
	out := make(map[string]protocol.Status, len(t.status))
	for name, s := range t.status {
		out[name] = s
	}
	return out
}

// =============================================================================
// Poll window
// =============================================================================

// BeginPoll opens a poll window and returns the poll publish. A poll that is
// already open is restarted.
func (t *Tracker) BeginPoll(now time.Time) protocol.Outbound {
	t.confirmed = make(map[string]bool)
	t.pollStart = now
	return protocol.Outbound{
		Topic:   t.topics.PresenceRequest(),
		Payload: []byte(protocol.PayloadPoll),
	}
}

// Polling reports whether a poll window is open.
func (t *Tracker) Polling() bool {
	return t.confirmed != nil
}

// Confirm marks name as having answered the open poll.
func (t *Tracker) Confirm(name string) {
	if t.confirmed == nil {
		return
	}
	if _, known := t.status[name]; known {
		t.confirmed[name] = true
	}
}

// EndPoll closes the window. Every user still ONLINE that did not confirm
// is marked OFFLINE. It returns those users; without an open window it does
// nothing.
func (t *Tracker) EndPoll(now time.Time) []string {
	if t.confirmed == nil {
		return nil
	}

	var expired []string
	for _, name := range t.Online() {
		if !t.confirmed[name] {
			expired = append(expired, name)
		}
	}
	t.confirmed = nil

	for _, name := range expired {
		t.Apply(name, protocol.StatusOffline)
	}

	t.logger.Info("presence poll completed",
		"online", len(t.Online()),
		"expired", len(expired),
		"duration", now.Sub(t.pollStart),
	)
	t.emit(event.Event{Type: event.PollCompleted, Expired: len(expired)})
	return expired
}

// =============================================================================
// Outbound
// =============================================================================

// Announcement builds a presence publish. ONLINE is ephemeral; OFFLINE is
// retained so it also pre-empts the last will on graceful logout.
func (t *Tracker) Announcement(name string, status protocol.Status) protocol.Outbound {
	return protocol.Outbound{
		Topic:    t.topics.Presence(),
		Payload:  protocol.EncodePresence(name, status),
		Retained: status == protocol.StatusOffline,
	}
}

// LastWill builds the message the broker publishes if name disconnects
// without logging out.
func (t *Tracker) LastWill(name string) protocol.Outbound {
	return t.Announcement(name, protocol.StatusOffline)
}
