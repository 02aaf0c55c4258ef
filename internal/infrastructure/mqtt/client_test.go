package mqtt

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/momcore/internal/infrastructure/config"
	"github.com/nerrad567/momcore/internal/transport"
)

// testConfig returns a valid MQTT configuration. Only the integration
// tests expect a broker to be listening on it.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "momcore-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// fakeMessage implements pahomqtt.Message for handler tests.
type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

// recordingLogger captures log calls.
type recordingLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

// =============================================================================
// Option Tests
// =============================================================================

func TestBrokerURL(t *testing.T) {
	cfg := testConfig()
	if got := brokerURL(cfg); got != "tcp://127.0.0.1:1883" {
		t.Errorf("brokerURL() = %q", got)
	}

	cfg.Broker.TLS = true
	cfg.Broker.Port = 8883
	if got := brokerURL(cfg); got != "ssl://127.0.0.1:8883" {
		t.Errorf("brokerURL(tls) = %q", got)
	}
}

func TestClientID(t *testing.T) {
	cfg := testConfig()

	if got := clientID(cfg, transport.DialOptions{ClientID: "explicit"}); got != "explicit" {
		t.Errorf("clientID(explicit) = %q", got)
	}

	a := clientID(cfg, transport.DialOptions{})
	b := clientID(cfg, transport.DialOptions{})
	if !strings.HasPrefix(a, "momcore-test-") {
		t.Errorf("clientID() = %q, want configured prefix", a)
	}
	if a == b {
		t.Errorf("clientID() returned %q twice; connections would evict each other", a)
	}

	cfg.Broker.ClientID = ""
	if got := clientID(cfg, transport.DialOptions{}); !strings.HasPrefix(got, defaultClientPrefix+"-") {
		t.Errorf("clientID(no prefix) = %q", got)
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Username = "alice"
	cfg.Auth.Password = "secret"

	will := &transport.Will{
		Topic:    "momcore/sys/presence",
		Payload:  []byte("alice:OFFLINE"),
		QoS:      1,
		Retained: true,
	}
	opts := buildClientOptions(cfg, transport.DialOptions{ClientID: "c1", Will: will})

	if opts.ClientID != "c1" {
		t.Errorf("ClientID = %q, want c1", opts.ClientID)
	}
	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://127.0.0.1:1883" {
		t.Errorf("Servers = %v", opts.Servers)
	}
	if opts.Username != "alice" || opts.Password != "secret" {
		t.Errorf("credentials not applied: %q/%q", opts.Username, opts.Password)
	}
	if !opts.CleanSession || !opts.AutoReconnect || !opts.Order {
		t.Errorf("CleanSession=%v AutoReconnect=%v Order=%v, want all true",
			opts.CleanSession, opts.AutoReconnect, opts.Order)
	}
	if !opts.WillEnabled {
		t.Fatal("WillEnabled = false")
	}
	if opts.WillTopic != will.Topic || string(opts.WillPayload) != "alice:OFFLINE" ||
		opts.WillQos != 1 || !opts.WillRetained {
		t.Errorf("will = %s %q qos=%d retained=%v",
			opts.WillTopic, opts.WillPayload, opts.WillQos, opts.WillRetained)
	}
}

func TestBuildClientOptions_NoWill(t *testing.T) {
	opts := buildClientOptions(testConfig(), transport.DialOptions{})
	if opts.WillEnabled {
		t.Error("WillEnabled = true without a will")
	}
}

func TestBuildClientOptions_TLS(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	opts := buildClientOptions(cfg, transport.DialOptions{})
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Errorf("TLSConfig = %+v, want MinVersion TLS1.2", opts.TLSConfig)
	}
}

// =============================================================================
// Validation Tests (no broker needed)
// =============================================================================

func newDisconnected() *Client {
	return &Client{subscriptions: make(map[string]subscription)}
}

func TestPublish_Validation(t *testing.T) {
	c := newDisconnected()

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{"empty topic", "", nil, 1, ErrInvalidTopic},
		{"wildcard topic", "momcore/+", nil, 1, ErrInvalidTopic},
		{"bad qos", "momcore/news", nil, 3, ErrInvalidQoS},
		{"oversized", "momcore/news", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
		{"not connected", "momcore/news", []byte("x"), 1, ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSubscribe_Validation(t *testing.T) {
	c := newDisconnected()
	handler := func(string, []byte) error { return nil }

	tests := []struct {
		name    string
		filter  string
		qos     byte
		handler transport.MessageHandler
		wantErr error
	}{
		{"empty filter", "", 1, handler, ErrInvalidTopic},
		{"hash not last", "momcore/#/x", 1, handler, ErrInvalidTopic},
		{"bad qos", "momcore/#", 5, handler, ErrInvalidQoS},
		{"nil handler", "momcore/#", 1, nil, transport.ErrNilHandler},
		{"not connected", "momcore/#", 1, handler, ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Subscribe(tt.filter, tt.qos, tt.handler)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Subscribe() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if c.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d after failed subscribes", c.SubscriptionCount())
	}
}

func TestUnsubscribe_Validation(t *testing.T) {
	c := newDisconnected()
	if err := c.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe(\"\") error = %v", err)
	}
	if err := c.Unsubscribe("momcore/news"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Unsubscribe() error = %v, want ErrNotConnected", err)
	}
}

func TestIsConnected_InitialState(t *testing.T) {
	if (&Client{}).IsConnected() {
		t.Error("IsConnected() should be false for uninitialised client")
	}
}

func TestClose_Uninitialised(t *testing.T) {
	if err := (&Client{}).Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestHealthCheck(t *testing.T) {
	c := newDisconnected()

	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck(cancelled) error = %v, want context.Canceled", err)
	}
}

// =============================================================================
// Handler Wrapping Tests
// =============================================================================

func TestWrapHandler_Delivers(t *testing.T) {
	c := newDisconnected()

	var gotTopic, gotPayload string
	wrapped := c.wrapHandler(func(topic string, payload []byte) error {
		gotTopic, gotPayload = topic, string(payload)
		return nil
	})
	wrapped(nil, fakeMessage{topic: "momcore/users/alice", payload: []byte("bob: hi")})

	if gotTopic != "momcore/users/alice" || gotPayload != "bob: hi" {
		t.Errorf("handler got %q %q", gotTopic, gotPayload)
	}
}

func TestWrapHandler_RecoversPanic(t *testing.T) {
	c := newDisconnected()
	logger := &recordingLogger{}
	c.SetLogger(logger)

	wrapped := c.wrapHandler(func(string, []byte) error {
		panic("boom")
	})
	wrapped(nil, fakeMessage{topic: "momcore/news"})

	if len(logger.errors) != 1 {
		t.Errorf("logged errors = %v, want one panic entry", logger.errors)
	}
}

func TestWrapHandler_LogsError(t *testing.T) {
	c := newDisconnected()
	logger := &recordingLogger{}
	c.SetLogger(logger)

	wrapped := c.wrapHandler(func(string, []byte) error {
		return errors.New("handler error")
	})
	wrapped(nil, fakeMessage{topic: "momcore/news"})

	if len(logger.warns) != 1 {
		t.Errorf("logged warnings = %v, want one", logger.warns)
	}
}

func TestWrapHandler_NoLogger(t *testing.T) {
	c := newDisconnected()
	wrapped := c.wrapHandler(func(string, []byte) error { panic("boom") })

	// Must not propagate the panic.
	wrapped(nil, fakeMessage{topic: "momcore/news"})
}

func TestCallbacks(t *testing.T) {
	c := newDisconnected()

	var connected int
	var lost error
	c.SetOnConnect(func() { connected++ })
	c.SetOnDisconnect(func(err error) { lost = err })

	c.handleDisconnect(errors.New("network down"))
	if lost == nil || c.IsConnected() {
		t.Errorf("after disconnect: lost=%v connected=%v", lost, c.IsConnected())
	}

	// handleConnect restores subscriptions through the paho client.
	c.client = pahomqtt.NewClient(pahomqtt.NewClientOptions())
	c.handleConnect()
	if connected != 1 {
		t.Errorf("onConnect called %d times, want 1", connected)
	}
}

func TestDialer_CancelledContext(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.Port = 1 // nothing listens here

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewDialer(cfg, nil).Dial(ctx, transport.DialOptions{})
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Dial() error = %v, want ErrConnectionFailed", err)
	}
}
