package protocol

import "errors"

// Domain errors for the protocol package.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrMalformedPayload is returned when a payload does not match the
	// expected format for its channel (wrong field count, unknown token).
	ErrMalformedPayload = errors.New("protocol: malformed payload")

	// ErrInvalidName is returned when a user or topic name is empty, too long,
	// or contains characters reserved by the topic hierarchy.
	ErrInvalidName = errors.New("protocol: invalid name")

	// ErrInvalidNamespace is returned when the deployment namespace is empty
	// or contains wildcard characters.
	ErrInvalidNamespace = errors.New("protocol: invalid namespace")

	// ErrForeignTopic is returned when a topic referenced inside a payload
	// (for example an auth response channel) lies outside the namespace.
	ErrForeignTopic = errors.New("protocol: topic outside namespace")
)
