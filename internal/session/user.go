package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/momcore/internal/auth"
	"github.com/nerrad567/momcore/internal/protocol"
	"github.com/nerrad567/momcore/internal/transport"
)

// Login authenticates name and connects the main session.
//
// The handshake runs on its own short-lived connection without a will. The
// main connection carries the last will name:OFFLINE, so the broker marks
// the user offline if the process dies. Once subscribed the user announces
// ONLINE and polls, since announcements are not retained.
func (s *Session) Login(ctx context.Context, name string) error {
	if s.cfg.Role != RoleUser {
		return ErrWrongRole
	}
	s.loginMu.Lock()
	defer s.loginMu.Unlock()

	if s.Self() != "" {
		return ErrLoggedIn
	}
	if err := protocol.ValidateName(protocol.KindUser, name); err != nil {
		return err
	}

	if err := s.authenticate(ctx, name); err != nil {
		return err
	}

	will := s.presence.LastWill(name)
	conn, err := s.dialMain(ctx, &transport.Will{
		Topic:    will.Topic,
		Payload:  will.Payload,
		QoS:      s.cfg.QoS,
		Retained: will.Retained,
	})
	if err != nil {
		return err
	}

	s.router.SetSelf(name)
	s.swapTransport(conn)

	if err := s.subscribeUser(ctx, conn, name); err != nil {
		s.abortLogin()
		return err
	}

	err = s.do(ctx, func() error {
		if err := s.publish(s.presence.Announcement(name, protocol.StatusOnline)); err != nil {
			return err
		}
		return s.beginPoll(time.Now())
	})
	if err != nil {
		s.abortLogin()
		return err
	}

	s.logger.Info("logged in", "name", name, "hybrid", s.Hybrid())
	return nil
}

// authenticate runs the login handshake on a dedicated connection.
func (s *Session) authenticate(ctx context.Context, name string) error {
	conn, err := s.dialer.Dial(ctx, transport.DialOptions{})
	if err != nil {
		return fmt.Errorf("connecting auth transport: %w", err)
	}
	defer conn.Close()

	h := auth.Handshake{
		Topics:  s.topics,
		Timeout: s.cfg.AuthTimeout,
		QoS:     s.cfg.QoS,
		Logger:  s.logger,
	}
	return h.Run(ctx, conn, name)
}

// subscribeUser subscribes the directory and presence channels first, so
// the retained membership is queued ahead of any private message.
func (s *Session) subscribeUser(ctx context.Context, conn transport.Transport, name string) error {
	filters := []string{
		s.topics.AllUserControl(),
		s.topics.AllTopicControl(),
		s.topics.Presence(),
		s.topics.PresenceRequest(),
	}
	switch {
	case s.Hybrid():
		// Private traffic arrives through the mailbox. Tracking still
		// follows acknowledgments, which stay on the pub/sub broker.
		if s.cfg.TrackDelivery {
			filters = append(filters, s.topics.AllAcks())
		}
	case s.cfg.TrackDelivery:
		filters = append(filters, s.topics.AllPrivate(), s.topics.AllAcks())
	default:
		filters = append(filters, s.topics.Private(name))
	}

	if err := s.subscribe(conn, filters...); err != nil {
		return err
	}

	if s.Hybrid() {
		if err := s.mailbox.Open(ctx, name, s.router.OnInbound); err != nil {
			return fmt.Errorf("opening mailbox: %w", err)
		}
	}
	return nil
}

// abortLogin undoes a half-finished login. The connection is closed
// cleanly, so the will is not published.
func (s *Session) abortLogin() {
	if err := s.disconnect(); err != nil {
		s.logger.Warn("aborting login", "error", err)
	}
}

// disconnect forgets the logged-in user and closes the main transport and
// the mailbox. Whoever swaps the transport out closes it, so concurrent
// callers close it once.
func (s *Session) disconnect() error {
	s.router.SetSelf("")
	conn := s.swapTransport(nil)
	if conn == nil {
		return nil
	}

	var errs []error
	if err := conn.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing main transport: %w", err))
	}
	if s.Hybrid() {
		if err := s.mailbox.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing mailbox: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Logout publishes the retained OFFLINE, which pre-empts the last will,
// and closes the main connection.
//
// The teardown runs inside the queued task. If ctx ends while the task is
// still waiting, Logout returns ctx's error and the task completes the
// logout when it reaches the drain loop.
func (s *Session) Logout(ctx context.Context) error {
	if s.cfg.Role != RoleUser {
		return ErrWrongRole
	}
	s.loginMu.Lock()
	defer s.loginMu.Unlock()

	self := s.Self()
	if self == "" {
		return ErrNotLoggedIn
	}

	err := s.do(ctx, func() error {
		if s.Self() != self || s.transport() == nil {
			return ErrNotLoggedIn
		}
		var errs []error
		if err := s.publish(s.presence.Announcement(self, protocol.StatusOffline)); err != nil {
			errs = append(errs, fmt.Errorf("announcing offline: %w", err))
		}
		for _, rec := range s.dir.Topics() {
			s.dir.SetSubscribed(rec.Name, false)
		}
		if err := s.disconnect(); err != nil {
			errs = append(errs, err)
		}
		s.logger.Info("logged out", "name", self)
		return errors.Join(errs...)
	})
	return err
}

// SendPrivate sends text to a known user. Over MQTT the message is retained
// on the recipient's channel until the recipient reads and clears it.
func (s *Session) SendPrivate(ctx context.Context, to, text string) error {
	if s.cfg.Role != RoleUser {
		return ErrWrongRole
	}
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}

	return s.do(ctx, func() error {
		self, err := s.loggedIn()
		if err != nil {
			return err
		}
		if !s.dir.HasUser(to) {
			return fmt.Errorf("%w: %s", ErrUnknownUser, to)
		}

		payload := protocol.EncodePrivate(self, text)
		if s.Hybrid() {
			return s.mailbox.Send(to, payload)
		}
		return s.publish(protocol.Outbound{
			Topic:    s.topics.Private(to),
			Payload:  payload,
			Retained: true,
		})
	})
}

// SendTopic publishes text to a known topic.
func (s *Session) SendTopic(ctx context.Context, topic, text string) error {
	if s.cfg.Role != RoleUser {
		return ErrWrongRole
	}
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}

	return s.do(ctx, func() error {
		self, err := s.loggedIn()
		if err != nil {
			return err
		}
		if !s.dir.HasTopic(topic) {
			return fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
		}

		payload := protocol.EncodePrivate(self, text)
		if s.Hybrid() {
			return s.mailbox.Publish(topic, payload)
		}
		return s.publish(protocol.Outbound{Topic: s.topics.Topic(topic), Payload: payload})
	})
}

// SubscribeTopic starts receiving traffic for a known topic. Subscribing
// twice is a no-op.
func (s *Session) SubscribeTopic(ctx context.Context, topic string) error {
	if s.cfg.Role != RoleUser {
		return ErrWrongRole
	}

	return s.do(ctx, func() error {
		if _, err := s.loggedIn(); err != nil {
			return err
		}
		if !s.dir.HasTopic(topic) {
			return fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
		}
		if s.dir.Subscribed(topic) {
			return nil
		}

		if err := s.follow(topic); err != nil {
			return err
		}
		s.dir.SetSubscribed(topic, true)
		return nil
	})
}

// UnsubscribeTopic stops receiving traffic for a topic.
func (s *Session) UnsubscribeTopic(ctx context.Context, topic string) error {
	if s.cfg.Role != RoleUser {
		return ErrWrongRole
	}

	return s.do(ctx, func() error {
		if _, err := s.loggedIn(); err != nil {
			return err
		}
		if !s.dir.HasTopic(topic) {
			return fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
		}
		if !s.dir.Subscribed(topic) {
			return nil
		}

		if err := s.unfollow(topic); err != nil {
			return err
		}
		s.dir.SetSubscribed(topic, false)
		return nil
	})
}

// loggedIn returns the user name when the main transport is up. Runs on
// the drain loop.
func (s *Session) loggedIn() (string, error) {
	self := s.Self()
	if self == "" || s.transport() == nil {
		return "", ErrNotLoggedIn
	}
	return self, nil
}

func (s *Session) follow(topic string) error {
	if s.Hybrid() {
		return s.mailbox.Follow(topic)
	}
	conn := s.transport()
	if conn == nil {
		return ErrNotLoggedIn
	}
	return s.subscribe(conn, s.topics.Topic(topic))
}

func (s *Session) unfollow(topic string) error {
	if s.Hybrid() {
		return s.mailbox.Unfollow(topic)
	}
	conn := s.transport()
	if conn == nil {
		return nil
	}
	if err := conn.Unsubscribe(s.topics.Topic(topic)); err != nil {
		return fmt.Errorf("unsubscribing from %s: %w", topic, err)
	}
	return nil
}
