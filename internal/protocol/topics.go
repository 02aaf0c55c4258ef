package protocol

import (
	"fmt"
	"strings"
)

// Topic path segments below the namespace.
const (
	segUserControl  = "sys/mgmt/users"
	segTopicControl = "sys/mgmt/topics"
	segPresence     = "sys/presence"
	segPresenceReq  = "sys/presence/request"
	segPrivate      = "users"
	segAck          = "sys/ack"
	segAuthRequest  = "sys/auth/request"
	segAuthResponse = "sys/auth/response"
)

// Topics provides builders for namespace-qualified momcore topics.
// Using these helpers ensures every client derives identical channel names.
//
//	topics, _ := protocol.NewTopics("ppd-demo")
//	topics.Private("alice") // "ppd-demo/users/alice"
type Topics struct {
	ns string
}

// NewTopics validates the namespace and returns a topic builder for it.
// A single trailing "/" is tolerated and removed.
func NewTopics(namespace string) (Topics, error) {
	ns := strings.TrimSuffix(strings.TrimSpace(namespace), "/")
	if ns == "" || strings.ContainsAny(ns, "+#\x00") || strings.HasPrefix(ns, "/") {
		return Topics{}, fmt.Errorf("%w: %q", ErrInvalidNamespace, namespace)
	}
	return Topics{ns: ns}, nil
}

// MustTopics is NewTopics for compile-time constant namespaces. It panics on error.
func MustTopics(namespace string) Topics {
	t, err := NewTopics(namespace)
	if err != nil {
		panic(err)
	}
	return t
}

// Namespace returns the deployment prefix without trailing separator.
func (t Topics) Namespace() string {
	return t.ns
}

func (t Topics) join(parts ...string) string {
	return t.ns + "/" + strings.Join(parts, "/")
}

// =============================================================================
// Directory Control
// =============================================================================

// UserControl returns the retained control channel for a user.
//
// Example: P/sys/mgmt/users/alice
func (t Topics) UserControl(name string) string {
	return t.join(segUserControl, name)
}

// TopicControl returns the retained control channel for a topic.
//
// Example: P/sys/mgmt/topics/news
func (t Topics) TopicControl(name string) string {
	return t.join(segTopicControl, name)
}

// Control returns the control channel for an entity of the given kind.
func (t Topics) Control(kind Kind, name string) string {
	if kind == KindTopic {
		return t.TopicControl(name)
	}
	return t.UserControl(name)
}

// AllUserControl matches every user control channel.
//
// Pattern: P/sys/mgmt/users/+
func (t Topics) AllUserControl() string {
	return t.join(segUserControl, "+")
}

// AllTopicControl matches every topic control channel.
//
// Pattern: P/sys/mgmt/topics/+
func (t Topics) AllTopicControl() string {
	return t.join(segTopicControl, "+")
}

// =============================================================================
// Presence
// =============================================================================

// Presence returns the shared presence announcement channel.
func (t Topics) Presence() string {
	return t.join(segPresence)
}

// PresenceRequest returns the presence poll channel.
func (t Topics) PresenceRequest() string {
	return t.join(segPresenceReq)
}

// =============================================================================
// Messaging
// =============================================================================

// Private returns a user's private message channel.
//
// Example: P/users/alice
func (t Topics) Private(name string) string {
	return t.join(segPrivate, name)
}

// AllPrivate matches every private channel. Subscribing to it lets an
// aggregator observe all direct traffic without being in the message path.
//
// Pattern: P/users/+
func (t Topics) AllPrivate() string {
	return t.join(segPrivate, "+")
}

// Ack returns a user's acknowledgment channel.
//
// Example: P/sys/ack/alice
func (t Topics) Ack(name string) string {
	return t.join(segAck, name)
}

// AllAcks matches every acknowledgment channel.
//
// Pattern: P/sys/ack/+
func (t Topics) AllAcks() string {
	return t.join(segAck, "+")
}

// Topic returns the channel carrying traffic for a directory topic.
//
// Example: P/news
func (t Topics) Topic(name string) string {
	return t.join(name)
}

// =============================================================================
// Authentication
// =============================================================================

// AuthRequest returns the well-known authentication request channel.
func (t Topics) AuthRequest() string {
	return t.join(segAuthRequest)
}

// AuthResponseBase returns the parent of all per-attempt response channels.
func (t Topics) AuthResponseBase() string {
	return t.join(segAuthResponse)
}

// AuthResponse returns the response channel for a single login attempt.
//
// Example: P/sys/auth/response/5f1c...
func (t Topics) AuthResponse(token string) string {
	return t.join(segAuthResponse, token)
}

// =============================================================================
// Classification
// =============================================================================

// RouteKind identifies the structural class of an inbound topic.
type RouteKind int

// Route kinds, one per row of the topic hierarchy.
const (
	RouteUnknown RouteKind = iota
	RoutePrivate
	RoutePresence
	RoutePresencePoll
	RouteUserControl
	RouteTopicControl
	RouteAck
	RouteAuthRequest
	RouteAuthResponse
	RouteTopic
)

var routeNames = map[RouteKind]string{
	RouteUnknown:      "unknown",
	RoutePrivate:      "private",
	RoutePresence:     "presence",
	RoutePresencePoll: "presence_poll",
	RouteUserControl:  "user_control",
	RouteTopicControl: "topic_control",
	RouteAck:          "ack",
	RouteAuthRequest:  "auth_request",
	RouteAuthResponse: "auth_response",
	RouteTopic:        "topic",
}

// String returns a stable label used in logs and metrics.
func (k RouteKind) String() string {
	if s, ok := routeNames[k]; ok {
		return s
	}
	return "unknown"
}

// Route is the result of classifying a topic. Name carries the trailing
// entity (user, topic or token) when the route has one.
type Route struct {
	Kind RouteKind
	Name string
}

// Classify maps a concrete topic to its route. Topics outside the namespace,
// or with extra levels, classify as RouteUnknown.
func (t Topics) Classify(topic string) Route {
	rest, ok := strings.CutPrefix(topic, t.ns+"/")
	if !ok || rest == "" {
		return Route{Kind: RouteUnknown}
	}

	switch rest {
	case segPresence:
		return Route{Kind: RoutePresence}
	case segPresenceReq:
		return Route{Kind: RoutePresencePoll}
	case segAuthRequest:
		return Route{Kind: RouteAuthRequest}
	}

	prefixed := []struct {
		seg  string
		kind RouteKind
	}{
		{segUserControl, RouteUserControl},
		{segTopicControl, RouteTopicControl},
		{segAuthResponse, RouteAuthResponse},
		{segAck, RouteAck},
		{segPrivate, RoutePrivate},
	}
	for _, p := range prefixed {
		if name, found := strings.CutPrefix(rest, p.seg+"/"); found {
			if name == "" || strings.Contains(name, "/") {
				return Route{Kind: RouteUnknown}
			}
			return Route{Kind: p.kind, Name: name}
		}
	}

	if !strings.Contains(rest, "/") {
		return Route{Kind: RouteTopic, Name: rest}
	}
	return Route{Kind: RouteUnknown}
}

// Owns reports whether topic lies under this namespace.
func (t Topics) Owns(topic string) bool {
	return strings.HasPrefix(topic, t.ns+"/")
}
