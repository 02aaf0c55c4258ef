// Package protocol defines the wire contract shared by every momcore client.
//
// This package manages:
//   - Namespace-qualified topic naming for all control, presence,
//     authentication and message channels
//   - Typed decoding of the small text payloads carried on those channels
//   - Classification of inbound topics into routes
//
// # Topic Hierarchy
//
// All topics live under a deployment namespace P so that independent
// sessions sharing a public broker never observe each other:
//
//	P/sys/mgmt/users/<name>       retained  "ADD" or empty (tombstone)
//	P/sys/mgmt/topics/<name>      retained  "ADD" or empty (tombstone)
//	P/sys/presence                          "<name>:ONLINE" / "<name>:OFFLINE"
//	P/sys/presence/request                  any payload triggers re-announce
//	P/users/<name>                retained  "<sender>: <text>" until cleared
//	P/sys/ack/<name>                        "ACK"
//	P/sys/auth/request                      "<name>;<responseChannel>"
//	P/sys/auth/response/<token>             "VALIDO" / "INVALIDO"
//	P/<topic>                               free-form
//
// # Decoding
//
// Payloads are decoded exactly once, at the dispatch boundary. Anything that
// does not decode is reported as ErrMalformedPayload and dropped by the caller.
package protocol
