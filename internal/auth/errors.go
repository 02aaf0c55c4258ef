package auth

import "errors"

// Handshake errors. Check with errors.Is.
var (
	// ErrTimeout is returned when no authority answers within the timeout.
	ErrTimeout = errors.New("auth: no response from authority")

	// ErrRejected is returned when the authority answers INVALIDO.
	ErrRejected = errors.New("auth: login rejected")

	// ErrNoTransport is returned when the handshake is run without a connection.
	ErrNoTransport = errors.New("auth: no transport")
)

// API token errors.
var (
	// ErrTokenInvalid is returned for a token that fails signature, expiry
	// or claim checks.
	ErrTokenInvalid = errors.New("auth: invalid token")
)
