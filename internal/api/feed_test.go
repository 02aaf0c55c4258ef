package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/momcore/internal/event"
	"github.com/nerrad567/momcore/internal/infrastructure/config"
	"github.com/nerrad567/momcore/internal/protocol"
	"github.com/nerrad567/momcore/internal/session"
)

func feedURL(ts *httptest.Server, ticket string) string {
	u := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	if ticket != "" {
		u += "?ticket=" + ticket
	}
	return u
}

func wsTicket(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	body := decode[map[string]any](t, expectStatus(t, ts, http.MethodPost, "/api/v1/auth/ws-ticket", nil, http.StatusOK))
	id, _ := body["ticket"].(string)
	if id == "" {
		t.Fatalf("no ticket in %v", body)
	}
	return id
}

// dialFeed connects to the feed with a fresh ticket.
func dialFeed(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(feedURL(ts, wsTicket(t, ts)), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // test deadline
	return conn
}

// roundTrip writes msg and reads the next frame.
func roundTrip(t *testing.T, conn *websocket.Conn, msg FeedMessage) FeedMessage {
	t.Helper()
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("write %s: %v", msg.Type, err)
	}
	var got FeedMessage
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read reply to %s: %v", msg.Type, err)
	}
	return got
}

func TestFeed_RelaysMatchingEvents(t *testing.T) {
	env := newEnv()
	sess := env.session(t, session.RoleManager, nil)
	srv, ts := testServer(t, Deps{Session: sess})

	conn := dialFeed(t, ts)
	ack := roundTrip(t, conn, FeedMessage{
		Type:   MsgSubscribe,
		ID:     "1",
		Filter: &FeedFilter{Types: []event.Type{event.EntityAdded}},
	})
	if ack.Type != MsgAck || ack.ID != "1" {
		t.Fatalf("subscribe reply = %+v", ack)
	}
	waitFor(t, "client registered", func() bool { return srv.feed.ClientCount() == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sess.AddUser(ctx, "alice"); err != nil {
		t.Fatalf("AddUser() error = %v", err)
	}

	// Presence events for alice are not subscribed and never arrive.
	var msg FeedMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if msg.Type != MsgEvent || msg.Event == nil {
		t.Fatalf("frame = %+v, want event", msg)
	}
	if msg.Event.Type != event.EntityAdded || msg.Event.Name != "alice" || msg.Event.Kind != protocol.KindUser {
		t.Errorf("event = %+v", msg.Event)
	}
}

func TestFeed_NameFilter(t *testing.T) {
	env := newEnv()
	sess := env.session(t, session.RoleManager, nil)
	_, ts := testServer(t, Deps{Session: sess})

	conn := dialFeed(t, ts)
	ack := roundTrip(t, conn, FeedMessage{
		Type:   MsgSubscribe,
		Filter: &FeedFilter{Types: []event.Type{AllTypes}, Names: []string{"bob"}},
	})
	if ack.Type != MsgAck {
		t.Fatalf("subscribe reply = %+v", ack)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, name := range []string{"alice", "bob"} {
		if err := sess.AddUser(ctx, name); err != nil {
			t.Fatalf("AddUser(%s) error = %v", name, err)
		}
	}

	var msg FeedMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if msg.Event == nil || msg.Event.Name != "bob" {
		t.Errorf("first event = %+v, want one about bob", msg.Event)
	}
}

func TestFeed_FilterValidation(t *testing.T) {
	env := newEnv()
	_, ts := testServer(t, Deps{Session: env.session(t, session.RoleManager, nil)})
	conn := dialFeed(t, ts)

	tests := []struct {
		name      string
		send      FeedMessage
		wantType  string
		wantError string
	}{
		{
			name:      "unknown type",
			send:      FeedMessage{Type: MsgSubscribe, ID: "a", Filter: &FeedFilter{Types: []event.Type{event.PresenceChanged, "presence"}}},
			wantType:  MsgError,
			wantError: "unknown event types: presence",
		},
		{
			name:      "bad name",
			send:      FeedMessage{Type: MsgSubscribe, ID: "b", Filter: &FeedFilter{Types: []event.Type{AllTypes}, Names: []string{"a/b"}}},
			wantType:  MsgError,
			wantError: "invalid name",
		},
		{
			name:      "missing filter",
			send:      FeedMessage{Type: MsgUnsubscribe, ID: "c"},
			wantType:  MsgError,
			wantError: "filter is required",
		},
		{
			name:     "ping",
			send:     FeedMessage{Type: MsgPing, ID: "d"},
			wantType: MsgPong,
		},
		{
			name:      "unknown frame",
			send:      FeedMessage{Type: "shout", ID: "e"},
			wantType:  MsgError,
			wantError: `unknown message type "shout"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := roundTrip(t, conn, tt.send)
			if got.Type != tt.wantType || got.ID != tt.send.ID {
				t.Fatalf("reply = %+v, want type %s id %s", got, tt.wantType, tt.send.ID)
			}
			if !strings.Contains(got.Error, tt.wantError) {
				t.Errorf("error = %q, want %q", got.Error, tt.wantError)
			}
		})
	}

	// The rejected subscription left the filter empty.
	ack := roundTrip(t, conn, FeedMessage{Type: MsgSubscribe, ID: "f", Filter: &FeedFilter{Types: []event.Type{event.EntityRemoved}}})
	want := &FeedFilter{Types: []event.Type{event.EntityRemoved}}
	if diff := cmp.Diff(want, ack.Filter); diff != "" {
		t.Errorf("filter mismatch (-want +got):\n%s", diff)
	}
}

func TestFeed_Malformed(t *testing.T) {
	env := newEnv()
	_, ts := testServer(t, Deps{Session: env.session(t, session.RoleManager, nil)})
	conn := dialFeed(t, ts)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	var got FeedMessage
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Type != MsgError || got.Error != "malformed frame" {
		t.Errorf("reply = %+v", got)
	}
}

func TestFeed_TicketRequired(t *testing.T) {
	env := newEnv()
	_, ts := testServer(t, Deps{Session: env.session(t, session.RoleManager, nil)})

	used := wsTicket(t, ts)
	conn, _, err := websocket.DefaultDialer.Dial(feedURL(ts, used), nil)
	if err != nil {
		t.Fatalf("dial with ticket: %v", err)
	}
	conn.Close()

	tests := []struct {
		name   string
		ticket string
	}{
		{"no ticket", ""},
		{"unknown ticket", "deadbeef"},
		{"reused ticket", used},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, resp, err := websocket.DefaultDialer.Dial(feedURL(ts, tt.ticket), nil)
			if !errors.Is(err, websocket.ErrBadHandshake) {
				t.Fatalf("Dial() error = %v, want ErrBadHandshake", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", resp.StatusCode)
			}
		})
	}
}

func TestFeed_Origin(t *testing.T) {
	env := newEnv()
	sess := env.session(t, session.RoleManager, nil)
	_, open := testServer(t, Deps{Session: sess})
	_, listed := testServer(t, Deps{
		Session: sess,
		Config:  config.APIConfig{CORS: config.CORSConfig{AllowedOrigins: []string{"http://panel.local"}}},
	})

	tests := []struct {
		name   string
		ts     *httptest.Server
		origin string
		want   int
	}{
		{"same host", open, open.URL, http.StatusSwitchingProtocols},
		{"foreign host", open, "http://evil.example", http.StatusForbidden},
		{"allow-listed", listed, "http://panel.local", http.StatusSwitchingProtocols},
		{"not listed", listed, listed.URL, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := http.Header{"Origin": {tt.origin}}
			conn, resp, err := websocket.DefaultDialer.Dial(feedURL(tt.ts, wsTicket(t, tt.ts)), header)
			if conn != nil {
				conn.Close()
			}
			if resp == nil {
				t.Fatalf("Dial() error = %v, no response", err)
			}
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d (err %v)", resp.StatusCode, tt.want, err)
			}
		})
	}
}

func TestFeedClient_Apply(t *testing.T) {
	c := &feedClient{
		types: make(map[event.Type]struct{}),
		names: make(map[string]struct{}),
	}

	got := c.apply(true, FeedFilter{
		Types: []event.Type{event.PresenceChanged, event.EntityAdded},
		Names: []string{"carol", "alice"},
	})
	want := FeedFilter{
		Types: []event.Type{event.EntityAdded, event.PresenceChanged},
		Names: []string{"alice", "carol"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("after subscribe (-want +got):\n%s", diff)
	}

	tests := []struct {
		e    event.Event
		want bool
	}{
		{event.Event{Type: event.EntityAdded, Name: "alice"}, true},
		{event.Event{Type: event.PresenceChanged, Name: "carol"}, true},
		{event.Event{Type: event.EntityAdded, Name: "bob"}, false},
		{event.Event{Type: event.PendingChanged, Name: "alice"}, false},
	}
	for _, tt := range tests {
		if got := c.matches(tt.e); got != tt.want {
			t.Errorf("matches(%s %s) = %v, want %v", tt.e.Type, tt.e.Name, got, tt.want)
		}
	}

	c.apply(false, FeedFilter{Types: []event.Type{event.PresenceChanged}, Names: []string{"alice", "carol"}})
	got = c.apply(true, FeedFilter{Types: []event.Type{AllTypes}})
	want = FeedFilter{Types: []event.Type{AllTypes, event.EntityAdded}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("after unsubscribe (-want +got):\n%s", diff)
	}
	if !c.matches(event.Event{Type: event.PendingChanged, Name: "bob"}) {
		t.Error("wildcard with no names should match everything")
	}
}
