// Package auth implements the broker-mediated login handshake.
//
// A candidate proves that its name is in the directory by asking the
// authority, the manager role that owns the canonical membership:
//
//  1. The candidate subscribes to a fresh response channel
//     P/sys/auth/response/<uuid>.
//  2. It publishes "<name>;<channel>" to P/sys/auth/request.
//  3. The authority checks membership and publishes VALIDO or INVALIDO to
//     the channel, non-retained.
//  4. The candidate takes the first answer, unsubscribes, and proceeds or
//     rejects the login.
//
// Unlike a bare request/response, the candidate side is bounded by a
// timeout: no answer means ErrTimeout, not an indefinite wait.
//
// If two authorities run at once both answer. The answers agree, and the
// later one lands on a channel nobody is subscribed to any more.
//
// # API tokens
//
// The HTTP API is guarded separately by HS256 bearer tokens. A token
// carries a subject and a Scope. ScopeViewer may read, ScopeOperator may
// also change the directory and drive the session. Tokens are minted
// offline with IssueToken (the `momcore token` command) from the shared
// security.jwt.secret.
//
// # Usage
//
//	authority := auth.NewAuthority(dir, bus.Emit())
//	out := authority.Handle(req) // publish out
//
//	hs := auth.Handshake{Topics: topics, Timeout: 10 * time.Second}
//	if err := hs.Run(ctx, conn, "alice"); errors.Is(err, auth.ErrRejected) {
//	    // unknown user
//	}
package auth
