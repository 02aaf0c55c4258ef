package directory

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/nerrad567/momcore/internal/event"
	"github.com/nerrad567/momcore/internal/protocol"
)

// fakeMember records Init/Drop calls.
type fakeMember struct {
	state map[string]int
	calls []string
}

func newFakeMember() *fakeMember {
	return &fakeMember{state: make(map[string]int)}
}

func (m *fakeMember) Init(name string) {
	m.state[name] = 0
	m.calls = append(m.calls, "init:"+name)
}

func (m *fakeMember) Drop(name string) {
	delete(m.state, name)
	m.calls = append(m.calls, "drop:"+name)
}

func newTestDirectory() (*Directory, *[]event.Event) {
	var events []event.Event
	d := New(protocol.MustTopics("P"), func(e event.Event) { events = append(events, e) })
	return d, &events
}

func TestApply_AddIsIdempotent(t *testing.T) {
	d, events := newTestDirectory()
	m := newFakeMember()
	d.AddMember(m)

	if !d.Apply(protocol.KindUser, "alice", protocol.OpAdd) {
		t.Error("first ADD reported no change")
	}
	if d.Apply(protocol.KindUser, "alice", protocol.OpAdd) {
		t.Error("second ADD reported a change")
	}

	if got := d.Users(); !cmp.Equal(got, []string{"alice"}) {
		t.Errorf("Users() = %v, want [alice]", got)
	}
	if v, ok := m.state["alice"]; !ok || v != 0 {
		t.Errorf("member state for alice = %d, %v", v, ok)
	}
	if len(m.calls) != 1 {
		t.Errorf("member calls = %v, want one init", m.calls)
	}
	if len(*events) != 1 || (*events)[0].Type != event.EntityAdded {
		t.Errorf("events = %+v, want one EntityAdded", *events)
	}
}

func TestApply_RoundTrip(t *testing.T) {
	d, events := newTestDirectory()
	m := newFakeMember()
	d.AddMember(m)

	d.Apply(protocol.KindUser, "bob", protocol.OpAdd)
	d.Apply(protocol.KindUser, "bob", protocol.OpRemove)

	if d.Len(protocol.KindUser) != 0 || d.HasUser("bob") {
		t.Errorf("directory not empty after round trip: %v", d.Users())
	}
	if len(m.state) != 0 {
		t.Errorf("auxiliary state survived removal: %v", m.state)
	}

	wantCalls := []string{"init:bob", "drop:bob"}
	if diff := cmp.Diff(wantCalls, m.calls); diff != "" {
		t.Errorf("member calls mismatch (-want +got):\n%s", diff)
	}

	var types []event.Type
	for _, e := range *events {
		types = append(types, e.Type)
	}
	if diff := cmp.Diff([]event.Type{event.EntityAdded, event.EntityRemoved}, types); diff != "" {
		t.Errorf("event types mismatch (-want +got):\n%s", diff)
	}
}

func TestApply_RemoveAbsentIsNoop(t *testing.T) {
	d, events := newTestDirectory()
	if d.Apply(protocol.KindTopic, "news", protocol.OpRemove) {
		t.Error("remove of absent topic reported a change")
	}
	if len(*events) != 0 {
		t.Errorf("events = %+v, want none", *events)
	}
}

func TestApply_TopicsSeparateFromUsers(t *testing.T) {
	d, _ := newTestDirectory()
	m := newFakeMember()
	d.AddMember(m)

	d.Apply(protocol.KindTopic, "alice", protocol.OpAdd)

	if d.HasUser("alice") {
		t.Error("topic ADD created a user")
	}
	if !d.HasTopic("alice") || !d.Has(protocol.KindTopic, "alice") {
		t.Error("topic ADD not applied")
	}
	if len(m.calls) != 0 {
		t.Errorf("topic ADD touched user members: %v", m.calls)
	}
}

func TestAddMember_InitialisesExistingUsers(t *testing.T) {
	d, _ := newTestDirectory()
	d.Apply(protocol.KindUser, "carol", protocol.OpAdd)

	m := newFakeMember()
	d.AddMember(m)

	if _, ok := m.state["carol"]; !ok {
		t.Error("late member was not initialised for existing user")
	}
}

func TestSubscribed(t *testing.T) {
	d, events := newTestDirectory()

	if d.SetSubscribed("news", true) {
		t.Error("SetSubscribed on unknown topic reported a change")
	}

	d.Apply(protocol.KindTopic, "news", protocol.OpAdd)
	if !d.SetSubscribed("news", true) {
		t.Error("SetSubscribed(true) reported no change")
	}
	if d.SetSubscribed("news", true) {
		t.Error("repeated SetSubscribed(true) reported a change")
	}
	if !d.Subscribed("news") {
		t.Error("Subscribed() = false after SetSubscribed(true)")
	}

	want := []TopicRecord{{Name: "news", Subscribed: true}}
	if diff := cmp.Diff(want, d.Topics()); diff != "" {
		t.Errorf("Topics() mismatch (-want +got):\n%s", diff)
	}

	*events = nil
	d.Apply(protocol.KindTopic, "news", protocol.OpRemove)
	if d.Subscribed("news") {
		t.Error("Subscribed() = true after topic removal")
	}
	if len(*events) != 1 || !(*events)[0].Subscribed {
		t.Errorf("removal event = %+v, want Subscribed=true", *events)
	}
}

func TestTopics_ReturnsCopies(t *testing.T) {
	d, _ := newTestDirectory()
	d.Apply(protocol.KindTopic, "b", protocol.OpAdd)
	d.Apply(protocol.KindTopic, "a", protocol.OpAdd)

	got := d.Topics()
	if got[0].Name != "a" || got[1].Name != "b" {
		t.Errorf("Topics() not sorted: %+v", got)
	}
	got[0].Subscribed = true
	if d.Subscribed("a") {
		t.Error("mutating Topics() result changed the directory")
	}
}

func TestNamespaceIsolation(t *testing.T) {
	p1 := protocol.MustTopics("P1")
	p2 := protocol.MustTopics("P2")
	d1 := New(p1, nil)
	d2 := New(p2, nil)

	// Both directories see the same stream; each applies only what its
	// namespace classifies as control traffic.
	stream := []protocol.Outbound{}
	for _, dir := range []*Directory{d1, d2} {
		msg, err := dir.ControlMessage(protocol.KindUser, "alice", protocol.OpAdd)
		if err != nil {
			t.Fatalf("ControlMessage() error = %v", err)
		}
		stream = append(stream, msg)
	}
	msg, _ := d2.ControlMessage(protocol.KindUser, "bob", protocol.OpAdd)
	stream = append(stream, msg)

	apply := func(dir *Directory, topics protocol.Topics) {
		for _, m := range stream {
			route := topics.Classify(m.Topic)
			if route.Kind != protocol.RouteUserControl {
				continue
			}
			op, err := protocol.DecodeControl(m.Payload)
			if err != nil {
				t.Fatalf("DecodeControl() error = %v", err)
			}
			dir.Apply(protocol.KindUser, route.Name, op)
		}
	}
	apply(d1, p1)
	apply(d2, p2)

	if diff := cmp.Diff([]string{"alice"}, d1.Users()); diff != "" {
		t.Errorf("P1 users mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"alice", "bob"}, d2.Users()); diff != "" {
		t.Errorf("P2 users mismatch (-want +got):\n%s", diff)
	}
}

func TestControlMessage(t *testing.T) {
	d, _ := newTestDirectory()

	msg, err := d.ControlMessage(protocol.KindTopic, "news", protocol.OpAdd)
	if err != nil {
		t.Fatalf("ControlMessage() error = %v", err)
	}
	want := protocol.Outbound{Topic: "P/sys/mgmt/topics/news", Payload: []byte("ADD"), Retained: true}
	if diff := cmp.Diff(want, msg); diff != "" {
		t.Errorf("ControlMessage() mismatch (-want +got):\n%s", diff)
	}

	msg, _ = d.ControlMessage(protocol.KindUser, "alice", protocol.OpRemove)
	if len(msg.Payload) != 0 || !msg.Retained {
		t.Errorf("remove message = %+v, want empty retained", msg)
	}

	if _, err := d.ControlMessage(protocol.KindUser, "", protocol.OpAdd); !errors.Is(err, protocol.ErrInvalidName) {
		t.Errorf("ControlMessage(empty) error = %v, want ErrInvalidName", err)
	}

	// Not applied until echoed.
	if d.HasTopic("news") {
		t.Error("ControlMessage mutated the directory")
	}
}
