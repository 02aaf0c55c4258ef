// Package session wires the directory, presence, delivery and auth trackers
// to a transport, for either side of the protocol.
//
// A manager session is the authority and aggregator. It subscribes to the
// whole directory, presence, every private channel and every acknowledgment,
// answers login requests, and publishes directory changes:
//
//	s, err := session.New(session.Deps{Config: cfg, Dialer: dialer})
//	if err := s.Start(ctx); err != nil { ... }
//	defer s.Close()
//	err = s.AddUser(ctx, "alice")
//
// A user session connects on Login. The login handshake runs on its own
// short-lived connection; the main connection carries the user's last will.
//
//	err = s.Login(ctx, "alice")
//	err = s.SendPrivate(ctx, "bob", "hello")
//
// All state lives on the dispatch drain loop. Inbound messages reach it
// through the router and every action or read is submitted with Queue.Do,
// so nothing here takes a lock on tracker state.
//
// In hybrid mode a Mailbox carries private and topic traffic over a queue
// broker, while directory, presence and login stay on the pub/sub broker.
package session
