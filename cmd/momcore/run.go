package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/nerrad567/momcore/internal/api"
	"github.com/nerrad567/momcore/internal/event"
	"github.com/nerrad567/momcore/internal/hybrid"
	"github.com/nerrad567/momcore/internal/infrastructure/amqp"
	"github.com/nerrad567/momcore/internal/infrastructure/config"
	"github.com/nerrad567/momcore/internal/infrastructure/database"
	"github.com/nerrad567/momcore/internal/infrastructure/influxdb"
	"github.com/nerrad567/momcore/internal/infrastructure/logging"
	"github.com/nerrad567/momcore/internal/infrastructure/mqtt"
	"github.com/nerrad567/momcore/internal/journal"
	"github.com/nerrad567/momcore/internal/protocol"
	"github.com/nerrad567/momcore/internal/session"
	"github.com/nerrad567/momcore/internal/transport"
	"github.com/nerrad567/momcore/migrations"
)

// loginTimeout bounds the startup login of a user session, on top of the
// handshake's own timeout.
const loginTimeout = 30 * time.Second

var _ hybrid.Broker = (*amqp.Client)(nil)

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context, opts options) error { //nolint:gocognit,gocyclo // linear startup sequence
	log := logging.Default()
	log.Info("starting momcore",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", opts.configPath,
		"role", cfg.Session.Role,
		"namespace", cfg.Session.Namespace,
		"level", cfg.Logging.Level,
	)

	topics, err := protocol.NewTopics(cfg.Session.Namespace)
	if err != nil {
		return fmt.Errorf("session namespace: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// Pub/sub transport
	dialer, loopback := newDialer(cfg, log)

	// Queue broker (optional)
	var (
		mailbox     session.Mailbox
		provisioner *hybrid.Provisioner
	)
	if cfg.AMQP.Enabled {
		amqpClient, connErr := amqp.Connect(cfg.AMQP)
		if connErr != nil {
			return fmt.Errorf("connecting to AMQP: %w", connErr)
		}
		defer func() {
			log.Info("closing AMQP connection")
			if closeErr := amqpClient.Close(); closeErr != nil {
				log.Error("error closing AMQP", "error", closeErr)
			}
		}()
		amqpClient.SetLogger(log.Component("amqp"))
		log.Info("AMQP connected")

		switch {
		case cfg.Session.Role == config.RoleManager:
			provisioner = hybrid.NewProvisioner(amqpClient, hybrid.NewNames(topics), 0)
			provisioner.SetLogger(log.Component("provisioner"))
		case cfg.Session.Hybrid:
			mb := hybrid.NewMailbox(amqpClient, topics)
			mb.SetLogger(log.Component("mailbox"))
			mailbox = mb
		}
	}

	sess, err := session.New(session.Deps{
		Config:     sessionConfig(cfg),
		Dialer:     dialer,
		Logger:     log.Component("session"),
		Registerer: registry,
		Mailbox:    mailbox,
	})
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}

	// Observers are attached before Start so they see the directory replay.
	bus := sess.Bus()
	bus.Subscribe(func(e event.Event) {
		log.Debug("session event", "type", e.Type, "name", e.Name)
	})

	var repo journal.Repository
	if cfg.Journal.Enabled {
		db, openErr := database.Open(cfg.Database)
		if openErr != nil {
			return fmt.Errorf("opening database: %w", openErr)
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		log.Info("database ready", "path", cfg.Database.Path)

		sqliteRepo := journal.NewSQLiteRepository(db.DB)
		repo = sqliteRepo
		recorder := journal.NewRecorder(sqliteRepo, topics.Namespace(), cfg.Session.Role, cfg.Journal.BufferSize)
		recorder.SetLogger(log.Component("journal"))
		bus.Subscribe(recorder.Observe)
		defer startWorker("journal recorder", recorder.Run, log)()
	} else {
		log.Info("journal disabled")
	}

	if cfg.InfluxDB.Enabled {
		influxClient, connErr := influxdb.Connect(cfg.InfluxDB)
		if connErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", connErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		bus.Subscribe(influxClient.Observer(topics.Namespace()))
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	if provisioner != nil {
		bus.Subscribe(provisioner.Observe)
		defer startWorker("provisioner", provisioner.Run, log)()
	}

	// With the in-process broker nobody else can answer a login, so a user
	// session gets a manager next to it that knows the login name.
	if loopback != nil && cfg.Session.Role == config.RoleUser {
		embedded, startErr := startEmbeddedManager(ctx, cfg, loopback, cfg.Session.User, log)
		if startErr != nil {
			return startErr
		}
		defer embedded.Close()
	}

	if err := sess.Start(ctx); err != nil {
		return fmt.Errorf("starting session: %w", err)
	}
	defer func() {
		log.Info("closing session")
		if closeErr := sess.Close(); closeErr != nil {
			log.Error("error closing session", "error", closeErr)
		}
	}()
	log.Info("session started", "role", cfg.Session.Role, "hybrid", sess.Hybrid())

	if name := cfg.Session.User; cfg.Session.Role == config.RoleUser && name != "" {
		loginCtx, cancel := context.WithTimeout(ctx, loginTimeout)
		err := sess.Login(loginCtx, name)
		cancel()
		if err != nil {
			return fmt.Errorf("logging in as %s: %w", name, err)
		}
		log.Info("logged in", "name", name)
	}

	if cfg.API.Enabled {
		deps := api.Deps{
			Config:   cfg.API,
			WS:       cfg.WebSocket,
			Security: cfg.Security,
			Logger:   log.Component("api"),
			Session:  sess,
			Journal:  repo,
			Gatherer: registry,
			Version:  version,
		}
		if provisioner != nil {
			deps.Queues = provisioner
		}
		server, newErr := api.New(deps)
		if newErr != nil {
			return fmt.Errorf("creating API server: %w", newErr)
		}
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API disabled")
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, cleaning up")
	case <-sess.Done():
		log.Warn("session drain loop stopped")
	}

	// Deferred Close() calls run in reverse order: API server, session,
	// then each worker before the store it writes to.
	log.Info("momcore stopped")
	return nil
}

// startWorker runs fn on its own goroutine until the returned stop
// function is called. stop waits for fn to return, so buffered work is
// flushed before the caller closes what fn writes to.
func startWorker(name string, fn func(context.Context) error, log *logging.Logger) (stop func()) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := fn(ctx); err != nil {
			log.Error(name+" stopped", "error", err)
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// loadConfig reads the config file and applies command-line overrides.
func loadConfig(opts options) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if opts.role != "" {
		cfg.Session.Role = opts.role
	}
	if opts.user != "" {
		cfg.Session.User = opts.user
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// newDialer selects the pub/sub transport. The loopback broker is returned
// as well when it is in use.
func newDialer(cfg *config.Config, log *logging.Logger) (transport.Dialer, *transport.Loopback) {
	if cfg.IsMemoryBroker() {
		broker := transport.NewLoopback()
		broker.SetLogger(log.Component("loopback"))
		log.Info("using in-process broker")
		return broker, broker
	}
	log.Info("using MQTT broker",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
	)
	return mqtt.NewDialer(cfg.MQTT, log.Component("mqtt")), nil
}

func sessionConfig(cfg *config.Config) session.Config {
	return session.Config{
		Namespace:     cfg.Session.Namespace,
		Role:          session.Role(cfg.Session.Role),
		QoS:           byte(cfg.MQTT.QoS), // #nosec G115 -- validated to 0..2
		TrackDelivery: cfg.Session.TrackDelivery,
		AuthTimeout:   cfg.GetAuthTimeout(),
		PollWindow:    cfg.GetPresencePollWindow(),
		QueueSize:     cfg.Session.QueueSize,
		DrainTick:     cfg.GetDrainTick(),
		ClientID:      cfg.MQTT.Broker.ClientID,
	}
}

// startEmbeddedManager runs a manager session on the in-process broker and
// registers user in its directory.
func startEmbeddedManager(ctx context.Context, cfg *config.Config, broker *transport.Loopback, user string, log *logging.Logger) (*session.Session, error) {
	mcfg := sessionConfig(cfg)
	mcfg.Role = session.RoleManager
	mcfg.ClientID = ""
	mgr, err := session.New(session.Deps{
		Config: mcfg,
		Dialer: broker,
		Logger: log.Component("embedded-manager"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating embedded manager: %w", err)
	}
	if err := mgr.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting embedded manager: %w", err)
	}
	if user != "" {
		if err := mgr.AddUser(ctx, user); err != nil && !errors.Is(err, session.ErrAlreadyExists) {
			mgr.Close()
			return nil, fmt.Errorf("registering %s with embedded manager: %w", user, err)
		}
	}
	log.Info("embedded manager started")
	return mgr, nil
}
