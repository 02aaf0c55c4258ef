package session

import "errors"

// Domain errors for the session package.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotLoggedIn is returned by user actions before Login succeeds.
	ErrNotLoggedIn = errors.New("session: not logged in")

	// ErrLoggedIn is returned by Login when a user is already logged in.
	ErrLoggedIn = errors.New("session: already logged in")

	// ErrNotConnected is returned when the main transport is not open.
	ErrNotConnected = errors.New("session: not connected")

	// ErrWrongRole is returned when an action belongs to the other role.
	ErrWrongRole = errors.New("session: action not available for this role")

	// ErrUnknownUser is returned when an action names a user the
	// directory does not know.
	ErrUnknownUser = errors.New("session: unknown user")

	// ErrUnknownTopic is returned when an action names a topic the
	// directory does not know.
	ErrUnknownTopic = errors.New("session: unknown topic")

	// ErrAlreadyExists is returned when adding an entity the directory
	// already knows.
	ErrAlreadyExists = errors.New("session: entity already exists")

	// ErrEmptyMessage is returned when sending a message with no text.
	ErrEmptyMessage = errors.New("session: empty message")
)
