package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/momcore/internal/event"
	"github.com/nerrad567/momcore/internal/protocol"
)

// Measurement names.
const (
	measurementPresence = "presence"
	measurementPending  = "pending_messages"
	measurementPoll     = "presence_poll"
)

// WritePresence records a user's presence state.
func (c *Client) WritePresence(namespace, user string, status protocol.Status, at time.Time) {
	c.WritePointWithTime(measurementPresence,
		map[string]string{"namespace": namespace, "user": user},
		map[string]any{"online": status == protocol.StatusOnline},
		at,
	)
}

// WritePending records a user's pending private message count.
func (c *Client) WritePending(namespace, user string, pending int, at time.Time) {
	c.WritePointWithTime(measurementPending,
		map[string]string{"namespace": namespace, "user": user},
		map[string]any{"count": pending},
		at,
	)
}

// WritePoll records the outcome of one presence poll window.
func (c *Client) WritePoll(namespace string, expired int, at time.Time) {
	c.WritePointWithTime(measurementPoll,
		map[string]string{"namespace": namespace},
		map[string]any{"expired": expired},
		at,
	)
}

// WritePointWithTime writes a custom point with a specific timestamp.
// It is a no-op while disconnected.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, timestamp))
}

// Observer returns an event observer writing presence, pending and poll
// events for namespace. Other event types are ignored. Writes are
// buffered by the client, so the observer does not block the drain loop.
func (c *Client) Observer(namespace string) event.Observer {
	return func(e event.Event) {
		switch e.Type {
		case event.PresenceChanged:
			c.WritePresence(namespace, e.Name, e.Presence, e.At)
		case event.PendingChanged:
			c.WritePending(namespace, e.Name, e.Pending, e.At)
		case event.PollCompleted:
			c.WritePoll(namespace, e.Expired, e.At)
		}
	}
}
