package session

import (
	"context"
	"fmt"

	"github.com/nerrad567/momcore/internal/protocol"
)

// startManager connects the manager and subscribes it to everything it
// aggregates or answers: the directory, presence, every private channel,
// every acknowledgment and login requests.
func (s *Session) startManager(ctx context.Context) error {
	conn, err := s.dialMain(ctx, nil)
	if err != nil {
		return err
	}
	s.swapTransport(conn)

	err = s.subscribe(conn,
		s.topics.AllUserControl(),
		s.topics.AllTopicControl(),
		s.topics.Presence(),
		s.topics.PresenceRequest(),
		s.topics.AllPrivate(),
		s.topics.AllAcks(),
		s.topics.AuthRequest(),
	)
	if err != nil {
		s.swapTransport(nil)
		conn.Close()
		return err
	}

	s.logger.Info("manager session started", "namespace", s.topics.Namespace())
	return s.PollPresence(ctx)
}

// AddUser publishes a retained ADD for name. The directory changes when the
// broker echoes it back.
func (s *Session) AddUser(ctx context.Context, name string) error {
	return s.control(ctx, protocol.KindUser, name, protocol.OpAdd)
}

// RemoveUser publishes the retained tombstone for name.
func (s *Session) RemoveUser(ctx context.Context, name string) error {
	return s.control(ctx, protocol.KindUser, name, protocol.OpRemove)
}

// AddTopic publishes a retained ADD for a topic.
func (s *Session) AddTopic(ctx context.Context, name string) error {
	return s.control(ctx, protocol.KindTopic, name, protocol.OpAdd)
}

// RemoveTopic publishes the retained tombstone for a topic.
func (s *Session) RemoveTopic(ctx context.Context, name string) error {
	return s.control(ctx, protocol.KindTopic, name, protocol.OpRemove)
}

// control checks a directory change against the local view and publishes
// it. The local check only gives the caller a useful error; a change raced
// by another manager is still harmless because Apply is idempotent.
func (s *Session) control(ctx context.Context, kind protocol.Kind, name string, op protocol.ControlOp) error {
	if s.cfg.Role != RoleManager {
		return ErrWrongRole
	}

	return s.do(ctx, func() error {
		out, err := s.dir.ControlMessage(kind, name, op)
		if err != nil {
			return err
		}
		if s.transport() == nil {
			return ErrNotConnected
		}

		exists := s.dir.Has(kind, name)
		switch {
		case op == protocol.OpAdd && exists:
			return fmt.Errorf("%w: %s %s", ErrAlreadyExists, kind, name)
		case op == protocol.OpRemove && !exists:
			return unknown(kind, name)
		}

		if err := s.publish(out); err != nil {
			return err
		}
		s.logger.Info("directory change published", "kind", kind, "name", name, "op", op)
		return nil
	})
}

func unknown(kind protocol.Kind, name string) error {
	if kind == protocol.KindTopic {
		return fmt.Errorf("%w: %s", ErrUnknownTopic, name)
	}
	return fmt.Errorf("%w: %s", ErrUnknownUser, name)
}
