package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/nerrad567/momcore/internal/event"
	"github.com/nerrad567/momcore/internal/protocol"
	"github.com/nerrad567/momcore/internal/transport"
)

// fakeMailbox records what the session hands it and lets the test inject
// deliveries.
type fakeMailbox struct {
	mu        sync.Mutex
	self      string
	deliver   transport.MessageHandler
	sent      []string
	published []string
	following map[string]bool
	closed    int
	failSend  error
}

func newFakeMailbox() *fakeMailbox {
	return &fakeMailbox{following: make(map[string]bool)}
}

func (f *fakeMailbox) Open(_ context.Context, self string, deliver transport.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.self = self
	f.deliver = deliver
	return nil
}

func (f *fakeMailbox) Send(to string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSend != nil {
		return f.failSend
	}
	f.sent = append(f.sent, to+"|"+string(payload))
	return nil
}

func (f *fakeMailbox) Publish(topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, topic+"|"+string(payload))
	return nil
}

func (f *fakeMailbox) Follow(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.following[topic] = true
	return nil
}

func (f *fakeMailbox) Unfollow(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.following, topic)
	return nil
}

func (f *fakeMailbox) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeMailbox) inject(t *testing.T, topic, payload string) {
	t.Helper()
	f.mu.Lock()
	deliver := f.deliver
	f.mu.Unlock()
	if deliver == nil {
		t.Fatal("mailbox not opened")
	}
	if err := deliver(topic, []byte(payload)); err != nil {
		t.Fatalf("deliver() error = %v", err)
	}
}

func TestHybrid_PrivateTrafficUsesMailbox(t *testing.T) {
	env := newEnv()
	m := env.manager(t)
	env.addUsers(t, m, "alice", "bob")
	topics := protocol.MustTopics(testNamespace)

	// Watch acknowledgments on the pub/sub side.
	spy, err := env.broker.Connect(transport.DialOptions{ClientID: "spy"})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { spy.Close() })
	var acksMu sync.Mutex
	var acks []string
	err = spy.Subscribe(topics.AllAcks(), 1, func(topic string, _ []byte) error {
		acksMu.Lock()
		defer acksMu.Unlock()
		acks = append(acks, topic)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	mailbox := newFakeMailbox()
	alice := env.start(t, testConfig(RoleUser), mailbox)
	alog := watch(alice)
	env.login(t, alice, "alice")
	env.settle(t, m, alice)

	if !alice.Hybrid() {
		t.Fatal("Hybrid() = false with a mailbox")
	}
	if mailbox.self != "alice" {
		t.Errorf("mailbox opened for %q, want alice", mailbox.self)
	}

	if err := alice.SendPrivate(ctxT(t), "bob", "over amqp"); err != nil {
		t.Fatalf("SendPrivate() error = %v", err)
	}
	if diff := cmp.Diff([]string{"bob|alice: over amqp"}, mailbox.sent); diff != "" {
		t.Errorf("mailbox sends mismatch (-want +got):\n%s", diff)
	}
	if _, ok := env.broker.Retained(topics.Private("bob")); ok {
		t.Error("hybrid private message leaked onto the pub/sub broker")
	}

	mailbox.inject(t, topics.Private("alice"), "bob: queued reply")
	env.settle(t, alice)

	got := alog.ofType(event.PrivateReceived)
	if len(got) != 1 || got[0].From != "bob" || got[0].Text != "queued reply" {
		t.Fatalf("PrivateReceived = %+v", got)
	}
	env.settle(t, m, alice)
	acksMu.Lock()
	defer acksMu.Unlock()
	if len(acks) != 0 {
		t.Errorf("acks published in hybrid mode: %v", acks)
	}
}

func TestHybrid_TopicsUseMailbox(t *testing.T) {
	env := newEnv()
	m := env.manager(t)
	env.addUsers(t, m, "alice")
	if err := m.AddTopic(ctxT(t), "news"); err != nil {
		t.Fatalf("AddTopic() error = %v", err)
	}
	env.settle(t, m)
	topics := protocol.MustTopics(testNamespace)

	mailbox := newFakeMailbox()
	alice := env.start(t, testConfig(RoleUser), mailbox)
	alog := watch(alice)
	env.login(t, alice, "alice")
	env.settle(t, m, alice)

	ctx := ctxT(t)
	if err := alice.SubscribeTopic(ctx, "news"); err != nil {
		t.Fatalf("SubscribeTopic() error = %v", err)
	}
	if !mailbox.following["news"] {
		t.Error("mailbox not following news")
	}
	if err := alice.SendTopic(ctx, "news", "hello"); err != nil {
		t.Fatalf("SendTopic() error = %v", err)
	}
	if diff := cmp.Diff([]string{"news|alice: hello"}, mailbox.published); diff != "" {
		t.Errorf("mailbox publishes mismatch (-want +got):\n%s", diff)
	}

	mailbox.inject(t, topics.Topic("news"), "bob: fanout")
	env.settle(t, alice)
	if got := alog.ofType(event.TopicReceived); len(got) != 1 || got[0].Text != "fanout" {
		t.Errorf("TopicReceived = %+v", got)
	}

	if err := alice.UnsubscribeTopic(ctx, "news"); err != nil {
		t.Fatalf("UnsubscribeTopic() error = %v", err)
	}
	if mailbox.following["news"] {
		t.Error("mailbox still following news")
	}

	if err := alice.Logout(ctx); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if mailbox.closed != 1 {
		t.Errorf("mailbox closed %d times, want 1", mailbox.closed)
	}
}

func TestHybrid_SendErrorSurfaces(t *testing.T) {
	env := newEnv()
	m := env.manager(t)
	env.addUsers(t, m, "alice", "bob")

	mailbox := newFakeMailbox()
	boom := errors.New("broker down")
	mailbox.failSend = boom
	alice := env.start(t, testConfig(RoleUser), mailbox)
	env.login(t, alice, "alice")
	env.settle(t, m, alice)

	if err := alice.SendPrivate(ctxT(t), "bob", "x"); !errors.Is(err, boom) {
		t.Errorf("SendPrivate() error = %v, want %v", err, boom)
	}
}

func TestHybrid_QueueDeliveriesLeaveNothingPending(t *testing.T) {
	env := newEnv()
	m := env.manager(t)
	env.addUsers(t, m, "alice", "bob")
	topics := protocol.MustTopics(testNamespace)

	mailbox := newFakeMailbox()
	cfg := testConfig(RoleUser)
	cfg.TrackDelivery = true
	alice := env.start(t, cfg, mailbox)
	alog := watch(alice)
	env.login(t, alice, "alice")
	env.settle(t, m, alice)

	for i := 0; i < 3; i++ {
		mailbox.inject(t, topics.Private("alice"), "bob: queued")
	}
	env.settle(t, alice)

	if got := len(alog.ofType(event.PrivateReceived)); got != 3 {
		t.Fatalf("PrivateReceived count = %d, want 3", got)
	}
	if got := mustUser(t, alice, "alice").Pending; got != 0 {
		t.Errorf("alice pending = %d after consuming every queued message, want 0", got)
	}
}
