// Package api implements the HTTP REST API and WebSocket server for a
// momcore session.
//
// This package provides:
//   - REST endpoints for the directory, presence polls, login and messages
//   - A WebSocket event feed, filtered per client by event type and name
//   - A paged view over the event journal and queue-broker backlog
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Authentication
//
// Every route except /health needs an HS256 bearer token (see
// auth.IssueToken). Viewer tokens may only read; changes need operator
// scope. The WebSocket feed cannot carry a header, so a client first
// trades its token for a single-use ticket at POST /auth/ws-ticket and
// connects with ?ticket=.
//
// # Roles
//
// A process runs one session, so the same routes serve both roles. Actions
// that belong to the other role fail with 403; user actions before login
// fail with 401.
//
// # Graceful Degradation
//
// The journal and queue endpoints return 404 when their backing store is
// not configured. Reads keep working while the broker is unreachable.
package api
