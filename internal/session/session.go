package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/momcore/internal/auth"
	"github.com/nerrad567/momcore/internal/delivery"
	"github.com/nerrad567/momcore/internal/directory"
	"github.com/nerrad567/momcore/internal/dispatch"
	"github.com/nerrad567/momcore/internal/event"
	"github.com/nerrad567/momcore/internal/presence"
	"github.com/nerrad567/momcore/internal/protocol"
	"github.com/nerrad567/momcore/internal/transport"
)

// Role selects which side of the protocol a session plays.
type Role string

// Roles.
const (
	RoleManager Role = "manager"
	RoleUser    Role = "user"
)

// Default timing used when Config leaves a field zero.
const (
	DefaultPollWindow = 3 * time.Second
	DefaultDrainTick  = 100 * time.Millisecond
	closeTimeout      = 5 * time.Second
)

// Logger defines the logging interface used by the session. It is a
// superset of every tracker's Logger, so one value serves them all.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config holds the session settings.
type Config struct {
	Namespace string
	Role      Role
	QoS       byte

	// TrackDelivery makes a user session count pending messages for every
	// user. Manager sessions always count.
	TrackDelivery bool

	AuthTimeout time.Duration
	PollWindow  time.Duration
	QueueSize   int
	DrainTick   time.Duration

	// ClientID for the main connection. Empty lets the dialer pick one.
	ClientID string
}

// Mailbox carries private and topic traffic over a queue broker instead of
// the main transport. Delivered messages are handed to the deliver function
// under their pub/sub topic names, so the router treats them like any other
// inbound message.
type Mailbox interface {
	Open(ctx context.Context, self string, deliver transport.MessageHandler) error
	Send(to string, payload []byte) error
	Publish(topic string, payload []byte) error
	Follow(topic string) error
	Unfollow(topic string) error
	Close() error
}

// Deps holds the dependencies required by a session.
type Deps struct {
	Config Config
	Dialer transport.Dialer
	Logger Logger

	// Registerer receives the dispatch metrics. Nil leaves them unregistered.
	Registerer prometheus.Registerer

	// Mailbox enables hybrid mode for the user role. Optional.
	Mailbox Mailbox
}

// Session is one manager or user client of the coordination protocol.
//
// Every tracker is owned by the dispatch drain loop. Actions and reads are
// submitted with Queue.Do, so they interleave with inbound traffic in
// arrival order.
//
// Thread Safety: Start and Close must be called from one goroutine; every
// other exported method is safe for concurrent use.
type Session struct {
	cfg     Config
	topics  protocol.Topics
	dialer  transport.Dialer
	mailbox Mailbox
	logger  Logger

	bus       *event.Bus
	dir       *directory.Directory
	presence  *presence.Tracker
	delivery  *delivery.Tracker
	authority *auth.Authority
	metrics   *dispatch.Metrics
	queue     *dispatch.Queue
	router    *dispatch.Router

	// mu guards the main transport, which transport goroutines and the
	// drain loop both read.
	mu   sync.RWMutex
	conn transport.Transport

	// loginMu serialises Login and Logout.
	loginMu sync.Mutex

	// pollDeadline is owned by the drain loop.
	pollDeadline time.Time

	cancel  context.CancelFunc
	loopErr chan error
}

// New creates a session. It does not touch the network until Start.
func New(deps Deps) (*Session, error) {
	cfg := deps.Config
	if cfg.Role != RoleManager && cfg.Role != RoleUser {
		return nil, fmt.Errorf("session: invalid role %q", cfg.Role)
	}
	if deps.Dialer == nil {
		return nil, fmt.Errorf("session: dialer is required")
	}
	topics, err := protocol.NewTopics(cfg.Namespace)
	if err != nil {
		return nil, err
	}
	if cfg.PollWindow <= 0 {
		cfg.PollWindow = DefaultPollWindow
	}
	if cfg.DrainTick <= 0 {
		cfg.DrainTick = DefaultDrainTick
	}

	logger := deps.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	s := &Session{
		cfg:     cfg,
		topics:  topics,
		dialer:  deps.Dialer,
		mailbox: deps.Mailbox,
		logger:  logger,
		bus:     event.NewBus(),
		metrics: dispatch.NewMetrics(deps.Registerer),
	}

	emit := s.bus.Emit()
	s.dir = directory.New(topics, emit)
	s.presence = presence.New(topics, emit)
	s.delivery = delivery.New(emit)
	s.authority = auth.NewAuthority(s.dir, emit)
	s.dir.AddMember(s.presence)
	s.dir.AddMember(s.delivery)

	s.queue = dispatch.NewQueue(cfg.QueueSize, cfg.DrainTick, s.metrics)
	s.router = dispatch.NewRouter(topics, s.queue, s, s.metrics)
	s.queue.OnTick(s.tick)

	s.dir.SetLogger(logger)
	s.presence.SetLogger(logger)
	s.delivery.SetLogger(logger)
	s.authority.SetLogger(logger)
	s.queue.SetLogger(logger)
	s.router.SetLogger(logger)

	return s, nil
}

// Role returns the session's role.
func (s *Session) Role() Role {
	return s.cfg.Role
}

// TopicNames returns the namespace's topic builder.
func (s *Session) TopicNames() protocol.Topics {
	return s.topics
}

// Bus returns the event bus. Observers run on the drain loop.
func (s *Session) Bus() *event.Bus {
	return s.bus
}

// Hybrid reports whether private and topic traffic goes through a mailbox.
func (s *Session) Hybrid() bool {
	return s.mailbox != nil
}

// tracking reports whether this session counts pending messages.
func (s *Session) tracking() bool {
	return s.cfg.Role == RoleManager || s.cfg.TrackDelivery
}

// =============================================================================
// Lifecycle
// =============================================================================

// Start runs the drain loop. A manager session also connects and
// subscribes; a user session connects on Login.
func (s *Session) Start(ctx context.Context) error {
	if s.cancel != nil {
		return fmt.Errorf("session: already started")
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.loopErr = make(chan error, 1)
	go func() {
		s.loopErr <- s.queue.Run(loopCtx)
	}()

	if s.cfg.Role == RoleManager {
		if err := s.startManager(ctx); err != nil {
			s.stopLoop()
			return err
		}
	}
	return nil
}

// Close logs out a user session, closes the main transport and stops the
// drain loop.
func (s *Session) Close() error {
	if s.cfg.Role == RoleUser && s.Self() != "" {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		err := s.Logout(ctx)
		cancel()
		if err != nil && !errors.Is(err, ErrNotLoggedIn) {
			s.logger.Warn("logout on close failed", "error", err)
		}
	}

	// A logout task the loop never reached is discarded here, so the
	// transport may still be up.
	s.stopLoop()
	return s.disconnect()
}

func (s *Session) stopLoop() {
	if s.cancel == nil {
		return
	}
	s.queue.Stop()
	s.cancel()
	<-s.loopErr
	s.cancel = nil
}

// Done is closed when the drain loop has stopped.
func (s *Session) Done() <-chan struct{} {
	return s.queue.Done()
}

// HealthCheck reports whether the main transport is connected.
func (s *Session) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	conn := s.transport()
	if conn == nil || !conn.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// =============================================================================
// Transport plumbing
// =============================================================================

func (s *Session) transport() transport.Transport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn
}

func (s *Session) swapTransport(conn transport.Transport) transport.Transport {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.conn
	s.conn = conn
	return old
}

// dialMain opens the main connection and routes a reconnect through the
// drain loop when the transport supports it.
func (s *Session) dialMain(ctx context.Context, will *transport.Will) (transport.Transport, error) {
	conn, err := s.dialer.Dial(ctx, transport.DialOptions{ClientID: s.cfg.ClientID, Will: will})
	if err != nil {
		return nil, fmt.Errorf("connecting main transport: %w", err)
	}
	if n, ok := conn.(interface{ SetOnConnect(func()) }); ok {
		n.SetOnConnect(func() {
			if err := s.queue.TryPush(s.reconnected); err != nil {
				s.logger.Warn("reconnect handling dropped", "error", err)
			}
		})
	}
	return conn, nil
}

// subscribe subscribes conn to every filter, routing all of them through
// the dispatch router.
func (s *Session) subscribe(conn transport.Transport, filters ...string) error {
	for _, f := range filters {
		if err := conn.Subscribe(f, s.cfg.QoS, s.router.OnInbound); err != nil {
			return fmt.Errorf("subscribing to %s: %w", f, err)
		}
	}
	return nil
}

// publish sends one outbound message on the main transport.
func (s *Session) publish(out protocol.Outbound) error {
	conn := s.transport()
	if conn == nil {
		return ErrNotConnected
	}
	if err := conn.Publish(out.Topic, out.Payload, s.cfg.QoS, out.Retained); err != nil {
		return fmt.Errorf("publishing to %s: %w", out.Topic, err)
	}
	return nil
}

// do runs fn on the drain loop.
func (s *Session) do(ctx context.Context, fn func() error) error {
	return s.queue.Do(ctx, fn)
}

// =============================================================================
// Shared actions
// =============================================================================

// PollPresence asks every online client to re-announce. Users still ONLINE
// locally that stay silent for the poll window are marked OFFLINE.
func (s *Session) PollPresence(ctx context.Context) error {
	return s.do(ctx, func() error {
		if s.transport() == nil {
			return s.notConnected()
		}
		return s.beginPoll(time.Now())
	})
}

// beginPoll runs on the drain loop.
func (s *Session) beginPoll(now time.Time) error {
	out := s.presence.BeginPoll(now)
	s.pollDeadline = now.Add(s.cfg.PollWindow)
	return s.publish(out)
}

// tick closes an expired poll window.
func (s *Session) tick(now time.Time) {
	if !s.presence.Polling() || now.Before(s.pollDeadline) {
		return
	}
	if expired := s.presence.EndPoll(now); len(expired) > 0 {
		s.logger.Info("presence poll expired silent users", "users", expired)
	}
}

// reconnected runs on the drain loop after the transport reconnects.
// Announcements are not retained, so a user re-announces itself; both roles
// poll to catch up on what they missed.
func (s *Session) reconnected() {
	if s.transport() == nil {
		return
	}
	if self := s.Self(); self != "" {
		if err := s.publish(s.presence.Announcement(self, protocol.StatusOnline)); err != nil {
			s.logger.Warn("re-announcing after reconnect", "error", err)
		}
	}
	if err := s.beginPoll(time.Now()); err != nil {
		s.logger.Warn("polling after reconnect", "error", err)
	}
}

func (s *Session) notConnected() error {
	if s.cfg.Role == RoleUser {
		return ErrNotLoggedIn
	}
	return ErrNotConnected
}

// =============================================================================
// Reads
// =============================================================================

// UserView is one user as this session sees it.
type UserView struct {
	Name     string          `json:"name"`
	Presence protocol.Status `json:"presence"`
	Pending  int             `json:"pending"`
}

// Snapshot is a consistent copy of the session's state.
type Snapshot struct {
	Role      Role                    `json:"role"`
	Namespace string                  `json:"namespace"`
	Self      string                  `json:"self,omitempty"`
	Connected bool                    `json:"connected"`
	Hybrid    bool                    `json:"hybrid"`
	Users     []UserView              `json:"users"`
	Topics    []directory.TopicRecord `json:"topics"`
}

// Self returns the logged-in user name, or "" for a manager or a user that
// is not logged in.
func (s *Session) Self() string {
	return s.router.Self()
}

// Users returns every known user with presence and pending count.
func (s *Session) Users(ctx context.Context) ([]UserView, error) {
	var out []UserView
	err := s.do(ctx, func() error {
		out = s.users()
		return nil
	})
	return out, err
}

// Topics returns every known topic and whether this session follows it.
func (s *Session) Topics(ctx context.Context) ([]directory.TopicRecord, error) {
	var out []directory.TopicRecord
	err := s.do(ctx, func() error {
		out = s.dir.Topics()
		return nil
	})
	return out, err
}

// User returns one user's view.
func (s *Session) User(ctx context.Context, name string) (UserView, error) {
	var out UserView
	err := s.do(ctx, func() error {
		if !s.dir.HasUser(name) {
			return fmt.Errorf("%w: %s", ErrUnknownUser, name)
		}
		out = s.userView(name)
		return nil
	})
	return out, err
}

// Snapshot returns users and topics read in the same drain-loop step.
func (s *Session) Snapshot(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{
		Role:      s.cfg.Role,
		Namespace: s.topics.Namespace(),
		Self:      s.Self(),
		Hybrid:    s.Hybrid(),
	}
	err := s.do(ctx, func() error {
		conn := s.transport()
		snap.Connected = conn != nil && conn.IsConnected()
		snap.Users = s.users()
		snap.Topics = s.dir.Topics()
		return nil
	})
	return snap, err
}

func (s *Session) users() []UserView {
	names := s.dir.Users()
	out := make([]UserView, 0, len(names))
	for _, name := range names {
		out = append(out, s.userView(name))
	}
	return out
}

func (s *Session) userView(name string) UserView {
	status, _ := s.presence.Status(name)
	pending, _ := s.delivery.Pending(name)
	return UserView{Name: name, Presence: status, Pending: pending}
}
