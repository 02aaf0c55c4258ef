// Package dispatch serialises all inbound traffic and local actions onto a
// single drain loop.
//
// # Architecture
//
//	transport goroutines           drain loop (one goroutine)
//	┌──────────────────┐          ┌───────────────────────────────┐
//	│ Router.OnInbound │──TryPush▶│ Queue.Run                      │
//	│  classify+decode │          │  • directory / presence        │
//	└──────────────────┘          │  • delivery / auth authority   │
//	┌──────────────────┐          │  • tick hooks (poll windows)   │
//	│ API / CLI action │───Do────▶│  • local actions, reads        │
//	└──────────────────┘          └───────────────────────────────┘
//
// The drain loop is the only goroutine that reads or writes tracker state,
// so the trackers need no locks. TryPush never blocks: a full queue drops the
// message and counts it, which keeps broker callbacks from stalling the
// network client. Do blocks the caller until its function has run on the
// loop and must never be called from the loop itself.
//
// # Routing
//
// Router classifies a topic once, decodes its payload into a typed message,
// and enqueues the matching Sink call. First match wins, in this order:
// own private channel, presence, presence poll, user control, topic
// control, other private channels, acknowledgments, auth requests, then
// plain topic traffic. Anything else is dropped silently; a payload that
// fails to decode is logged and counted, never fatal.
package dispatch
