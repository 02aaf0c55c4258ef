package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/momcore/internal/directory"
	"github.com/nerrad567/momcore/internal/event"
	"github.com/nerrad567/momcore/internal/hybrid"
	"github.com/nerrad567/momcore/internal/infrastructure/config"
	"github.com/nerrad567/momcore/internal/infrastructure/logging"
	"github.com/nerrad567/momcore/internal/journal"
	"github.com/nerrad567/momcore/internal/protocol"
	"github.com/nerrad567/momcore/internal/session"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Session is the session surface the API drives. *session.Session
// implements it.
type Session interface {
	Role() session.Role
	TopicNames() protocol.Topics
	Bus() *event.Bus
	HealthCheck(ctx context.Context) error

	Snapshot(ctx context.Context) (session.Snapshot, error)
	Users(ctx context.Context) ([]session.UserView, error)
	User(ctx context.Context, name string) (session.UserView, error)
	Topics(ctx context.Context) ([]directory.TopicRecord, error)

	AddUser(ctx context.Context, name string) error
	RemoveUser(ctx context.Context, name string) error
	AddTopic(ctx context.Context, name string) error
	RemoveTopic(ctx context.Context, name string) error
	PollPresence(ctx context.Context) error

	Login(ctx context.Context, name string) error
	Logout(ctx context.Context) error
	SendPrivate(ctx context.Context, to, text string) error
	SendTopic(ctx context.Context, topic, text string) error
	SubscribeTopic(ctx context.Context, topic string) error
	UnsubscribeTopic(ctx context.Context, topic string) error
}

// QueueInspector reports queue-broker backlog per user. The hybrid
// provisioner implements it.
type QueueInspector interface {
	QueueDepths(users []string) []hybrid.Depth
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Session  Session
	Journal  journal.Repository  // optional: enables GET /events
	Queues   QueueInspector      // optional: enables GET /queues
	Gatherer prometheus.Gatherer // optional: enables GET /metrics
	Version  string
}

// Server is the HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket event feed.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	secCfg    config.SecurityConfig
	logger    *logging.Logger
	session   Session
	journal   journal.Repository
	queues    QueueInspector
	gatherer  prometheus.Gatherer
	version   string
	startTime time.Time
	server    *http.Server
	feed      *Feed
	tickets   *ticketStore
	cancel    context.CancelFunc // cancels background goroutines on Close()
	unsub     func()             // detaches the feed from the session bus
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Session == nil {
		return nil, fmt.Errorf("session is required")
	}
	if deps.Security.JWT.Secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}

	return &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		secCfg:    deps.Security,
		logger:    deps.Logger,
		session:   deps.Session,
		journal:   deps.Journal,
		queues:    deps.Queues,
		gatherer:  deps.Gatherer,
		version:   deps.Version,
		startTime: time.Now(),
		tickets:   newTicketStore(),
	}, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket feed, attaches it to the session's event bus,
// sweeps expired feed tickets, and launches the HTTP listener in a
// background goroutine. The server
// can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	s.attachFeed(srvCtx)
	go s.tickets.sweepLoop(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// attachFeed creates the feed and relays every session event to it.
func (s *Server) attachFeed(ctx context.Context) {
	s.feed = NewFeed(s.wsCfg, s.logger)
	go s.feed.Run(ctx)
	s.unsub = s.session.Bus().Subscribe(s.feed.Observe)
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.unsub != nil {
		s.unsub()
	}
	if s.cancel != nil {
		s.cancel()
	}
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
