package session

import (
	"github.com/nerrad567/momcore/internal/delivery"
	"github.com/nerrad567/momcore/internal/event"
	"github.com/nerrad567/momcore/internal/protocol"
)

// The methods below implement dispatch.Sink. They run on the drain loop.

// ControlChanged applies a directory control message. A removed topic this
// session follows is unsubscribed as well.
func (s *Session) ControlChanged(kind protocol.Kind, name string, op protocol.ControlOp) {
	following := kind == protocol.KindTopic && op == protocol.OpRemove && s.dir.Subscribed(name)

	if !s.dir.Apply(kind, name, op) || !following {
		return
	}
	if err := s.unfollow(name); err != nil {
		s.logger.Warn("unsubscribing removed topic", "topic", name, "error", err)
	}
}

// PresenceObserved applies an announcement or last will.
func (s *Session) PresenceObserved(msg protocol.PresenceMessage) {
	s.presence.Apply(msg.Name, msg.Status)
}

// PollObserved answers a presence poll with an ONLINE announcement while
// logged in.
func (s *Session) PollObserved() {
	self := s.Self()
	if self == "" || s.transport() == nil {
		return
	}
	if err := s.publish(s.presence.Announcement(self, protocol.StatusOnline)); err != nil {
		s.logger.Warn("answering presence poll", "error", err)
	}
}

// OwnPrivate delivers a message addressed to this session, then
// acknowledges it and clears the retained copy. Over a mailbox the queue
// broker has already consumed it, so no receipt is published.
func (s *Session) OwnPrivate(msg protocol.PrivateMessage) {
	self := s.Self()
	if self == "" {
		return
	}
	// A queue message was acknowledged by the broker on consume and has no
	// ACK to balance it, so only pub/sub deliveries count as pending.
	if s.tracking() && !s.Hybrid() {
		s.delivery.OnSend(self)
	}

	s.bus.Publish(event.Event{
		Type: event.PrivateReceived,
		Kind: protocol.KindUser,
		Name: self,
		From: msg.From,
		Text: msg.Text,
	})

	if s.Hybrid() {
		return
	}
	for _, out := range delivery.Receipt(s.topics, self) {
		if err := s.publish(out); err != nil {
			s.logger.Warn("publishing receipt", "topic", out.Topic, "error", err)
			return
		}
	}
}

// PrivateObserved counts a message sent to another user.
func (s *Session) PrivateObserved(to string, _ protocol.PrivateMessage) {
	if s.tracking() {
		s.delivery.OnSend(to)
	}
}

// AckObserved counts an acknowledgment.
func (s *Session) AckObserved(name string) {
	if s.tracking() {
		s.delivery.OnAck(name)
	}
}

// AuthRequested answers a login request. Only the manager is an authority.
func (s *Session) AuthRequested(req protocol.AuthRequest) {
	if s.cfg.Role != RoleManager {
		return
	}
	if err := s.publish(s.authority.Handle(req)); err != nil {
		s.logger.Warn("answering auth request", "name", req.Name, "error", err)
	}
}

// TopicMessage delivers traffic on a topic this session follows.
func (s *Session) TopicMessage(topic string, payload []byte) {
	if !s.dir.Subscribed(topic) {
		return
	}
	msg, _ := protocol.DecodePrivate(payload)
	s.bus.Publish(event.Event{
		Type:  event.TopicReceived,
		Kind:  protocol.KindTopic,
		Name:  topic,
		Topic: topic,
		From:  msg.From,
		Text:  msg.Text,
	})
}
