package protocol

import (
	"fmt"
	"strings"
)

// Wire tokens. The Portuguese answers are kept for compatibility with
// clients already deployed against the same broker namespace.
const (
	PayloadAdd      = "ADD"
	PayloadAck      = "ACK"
	PayloadValid    = "VALIDO"
	PayloadInvalid  = "INVALIDO"
	PayloadPoll     = "?"
	presenceSep     = ":"
	authRequestSep  = ";"
	privateSep      = ": "
	maxNameLength   = 128
	statusOnlineTk  = "ONLINE"
	statusOfflineTk = "OFFLINE"
)

// Kind distinguishes the two directory collections.
type Kind string

// Directory collections.
const (
	KindUser  Kind = "user"
	KindTopic Kind = "topic"
)

// ControlOp is a decoded directory control payload.
type ControlOp int

// Control operations. The empty payload is the removal tombstone.
const (
	OpAdd ControlOp = iota + 1
	OpRemove
)

// String returns the operation name used in logs.
func (op ControlOp) String() string {
	switch op {
	case OpAdd:
		return "add"
	case OpRemove:
		return "remove"
	default:
		return "invalid"
	}
}

// Payload returns the wire encoding of the operation.
func (op ControlOp) Payload() []byte {
	if op == OpAdd {
		return []byte(PayloadAdd)
	}
	return []byte{}
}

// Status is a user's presence state.
type Status string

// Presence states. OFFLINE is both initial and terminal.
const (
	StatusOffline Status = statusOfflineTk
	StatusOnline  Status = statusOnlineTk
)

// PresenceMessage is a decoded presence announcement.
type PresenceMessage struct {
	Name   string
	Status Status
}

// AuthRequest is a decoded login validation request.
type AuthRequest struct {
	Name            string
	ResponseChannel string
}

// PrivateMessage is a decoded direct message.
type PrivateMessage struct {
	From string
	Text string
}

// Outbound describes a publish the caller should perform. Builders return it
// instead of publishing so trackers stay free of transport dependencies.
type Outbound struct {
	Topic    string
	Payload  []byte
	Retained bool
}

// reservedTopicNames would shadow system subtrees when used as topic names.
var reservedTopicNames = map[string]bool{
	"sys":   true,
	"users": true,
}

// ValidateName checks a user or topic name for use as a topic level.
func ValidateName(kind Kind, name string) error {
	if name == "" || strings.TrimSpace(name) != name {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidName, maxNameLength)
	}
	if strings.ContainsAny(name, "/+#;:\x00") {
		return fmt.Errorf("%w: %q contains a reserved character", ErrInvalidName, name)
	}
	if kind == KindTopic && reservedTopicNames[name] {
		return fmt.Errorf("%w: %q is reserved", ErrInvalidName, name)
	}
	return nil
}

// DecodeControl decodes a directory control payload.
func DecodeControl(payload []byte) (ControlOp, error) {
	switch string(payload) {
	case PayloadAdd:
		return OpAdd, nil
	case "":
		return OpRemove, nil
	default:
		return 0, fmt.Errorf("%w: control payload %q", ErrMalformedPayload, truncate(payload))
	}
}

// EncodePresence returns the wire form "<name>:<STATUS>".
func EncodePresence(name string, status Status) []byte {
	return []byte(name + presenceSep + string(status))
}

// DecodePresence decodes "<name>:<STATUS>".
func DecodePresence(payload []byte) (PresenceMessage, error) {
	name, status, ok := strings.Cut(string(payload), presenceSep)
	if !ok || name == "" {
		return PresenceMessage{}, fmt.Errorf("%w: presence %q", ErrMalformedPayload, truncate(payload))
	}
	switch Status(status) {
	case StatusOnline, StatusOffline:
		return PresenceMessage{Name: name, Status: Status(status)}, nil
	default:
		return PresenceMessage{}, fmt.Errorf("%w: presence status %q", ErrMalformedPayload, status)
	}
}

// EncodeAuthRequest returns the wire form "<name>;<responseChannel>".
func EncodeAuthRequest(name, responseChannel string) []byte {
	return []byte(name + authRequestSep + responseChannel)
}

// DecodeAuthRequest decodes "<name>;<responseChannel>". The response channel
// must be a single level below the namespace's auth response base, so a
// request can never make an authority publish outside its own namespace.
func (t Topics) DecodeAuthRequest(payload []byte) (AuthRequest, error) {
	parts := strings.Split(string(payload), authRequestSep)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return AuthRequest{}, fmt.Errorf("%w: auth request %q", ErrMalformedPayload, truncate(payload))
	}
	route := t.Classify(parts[1])
	if route.Kind != RouteAuthResponse {
		return AuthRequest{}, fmt.Errorf("%w: response channel %q", ErrForeignTopic, parts[1])
	}
	return AuthRequest{Name: parts[0], ResponseChannel: parts[1]}, nil
}

// EncodeAuthResponse returns VALIDO or INVALIDO.
func EncodeAuthResponse(valid bool) []byte {
	if valid {
		return []byte(PayloadValid)
	}
	return []byte(PayloadInvalid)
}

// DecodeAuthResponse decodes VALIDO/INVALIDO into a verdict.
func DecodeAuthResponse(payload []byte) (bool, error) {
	switch string(payload) {
	case PayloadValid:
		return true, nil
	case PayloadInvalid:
		return false, nil
	default:
		return false, fmt.Errorf("%w: auth response %q", ErrMalformedPayload, truncate(payload))
	}
}

// DecodeAck checks an acknowledgment payload.
func DecodeAck(payload []byte) error {
	if string(payload) != PayloadAck {
		return fmt.Errorf("%w: ack %q", ErrMalformedPayload, truncate(payload))
	}
	return nil
}

// EncodePrivate returns the wire form "<sender>: <text>".
func EncodePrivate(from, text string) []byte {
	return []byte(from + privateSep + text)
}

// DecodePrivate decodes "<sender>: <text>". A payload without the separator
// is kept whole as the text with an empty sender. The empty payload is the
// clear-after-read tombstone and is reported as ok=false.
func DecodePrivate(payload []byte) (msg PrivateMessage, ok bool) {
	if len(payload) == 0 {
		return PrivateMessage{}, false
	}
	from, text, found := strings.Cut(string(payload), privateSep)
	if !found {
		return PrivateMessage{Text: string(payload)}, true
	}
	return PrivateMessage{From: from, Text: text}, true
}

// truncate bounds payloads quoted in error messages.
func truncate(payload []byte) string {
	const limit = 64
	if len(payload) > limit {
		return string(payload[:limit]) + "..."
	}
	return string(payload)
}
