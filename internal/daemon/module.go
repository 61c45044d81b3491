package daemon

import (
	"context"
	"os"
	"sync/atomic"

	"github.com/nats-io/nats.go"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/crmoreira/beacon/internal/auth"
	"github.com/crmoreira/beacon/internal/backend"
	"github.com/crmoreira/beacon/internal/bus"
	"github.com/crmoreira/beacon/internal/config"
	"github.com/crmoreira/beacon/internal/gateway"
	"github.com/crmoreira/beacon/internal/lock"
	"github.com/crmoreira/beacon/internal/logging"
	"github.com/crmoreira/beacon/internal/outbox"
	"github.com/crmoreira/beacon/internal/presence"
	"github.com/crmoreira/beacon/internal/session"
	"github.com/crmoreira/beacon/internal/status"
	"github.com/crmoreira/beacon/internal/typing"
	"github.com/crmoreira/beacon/internal/view"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	ListenAddr  string // optional override for testing; empty = use config
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideConfig,
			provideBus,
			provideStateMachine,
			provideLock,
			provideBackend,
			provideAuth,
			provideChannel,
			provideTracker,
			provideTyping,
			provideViews,
			provideSender,
			provideServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideConfig(logger *zap.Logger) *config.Config {
	cfg, err := config.Load(session.ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("config unreadable, using defaults", zap.Error(err))
		}
		return &config.Config{}
	}
	return cfg
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideBackend(p Params, logger *zap.Logger) (*backend.DB, error) {
	dbPath := session.DBPath(p.SessionName)
	db, err := backend.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("backend initialized", zap.String("path", dbPath))
	return db, nil
}

func provideAuth(p Params) auth.Provider {
	return auth.NewFileProvider(session.CredentialsPath(p.SessionName))
}

// provideChannel picks the presence transport: NATS when a URL is
// configured, otherwise the in-process loopback. The returned connection is
// nil in loopback mode.
func provideChannel(cfg *config.Config, b *bus.Bus, machine *status.Machine, logger *zap.Logger) (presence.Channel, *nats.Conn, error) {
	url := cfg.Daemon.NATSURL
	if url == "" {
		logger.Info("no nats url configured, presence runs in-process")
		return presence.NewLoopback(b), nil, nil
	}

	nc, err := nats.Connect(url,
		nats.Name("beacond"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", zap.Error(err))
			_ = machine.Transition(status.Degraded)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
			_ = machine.Transition(status.Ready)
		}),
	)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("nats connected", zap.String("url", url))
	return presence.NewNATSChannel(nc, cfg.Daemon.Room(), logger), nc, nil
}

func provideTracker(cfg *config.Config, ch presence.Channel, b *bus.Bus, logger *zap.Logger) *presence.Tracker {
	// The local user id is bound at start, once credentials are known.
	return presence.NewTracker("", ch, b, cfg.Daemon.PresenceStale(), logger)
}

func provideTyping(tracker *presence.Tracker, cfg *config.Config, logger *zap.Logger) *typing.Publisher {
	return typing.NewPublisher(tracker, cfg.Daemon.TypingWindow(), logger)
}

func provideViews(db *backend.DB, b *bus.Bus, cfg *config.Config, provider auth.Provider, logger *zap.Logger) *view.Store {
	return view.NewStore(provider, db, b, cfg.Daemon.PollInterval(), logger)
}

func provideSender(db *backend.DB, b *bus.Bus, cfg *config.Config, provider auth.Provider, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(provider, db, b, cfg.Daemon.PollInterval(), logger)
}

func provideServer(p Params, cfg *config.Config, b *bus.Bus, machine *status.Machine, provider auth.Provider, db *backend.DB, views *view.Store, sender *outbox.Sender, tracker *presence.Tracker, typist *typing.Publisher, logger *zap.Logger) *gateway.Server {
	addr := p.ListenAddr
	if addr == "" {
		addr = cfg.Daemon.Addr()
	}
	return gateway.NewServer(gateway.Params{
		Addr:      addr,
		Logger:    logger,
		Bus:       b,
		Machine:   machine,
		Auth:      provider,
		CredsPath: session.CredentialsPath(p.SessionName),
		DB:        db,
		Views:     views,
		Sender:    sender,
		Tracker:   tracker,
		Typist:    typist,
	})
}

// watchForLogin brings presence up once a login lands through the API. The
// bus subscription is registered before returning, and credentials are
// re-checked right after it, so a login racing the daemon's boot cannot
// slip between the unauthenticated check and the watch.
func watchForLogin(ctx context.Context, b *bus.Bus, provider auth.Provider, start func(context.Context, string)) {
	events, unsub := b.Subscribe("session.", 8)

	go func() {
		defer unsub()

		if u, err := provider.CurrentUser(ctx); err == nil {
			start(ctx, u.ID)
			return
		}
		for {
			select {
			case evt := <-events:
				change, ok := evt.Payload.(status.StatusChange)
				if !ok || change.To != status.Ready {
					continue
				}
				if u, err := provider.CurrentUser(ctx); err == nil {
					start(ctx, u.ID)
				}
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func registerLifecycle(lc fx.Lifecycle, srv *gateway.Server, lk *lock.Lock, provider auth.Provider, views *view.Store, sender *outbox.Sender, tracker *presence.Tracker, machine *status.Machine, b *bus.Bus, nc *nats.Conn, logger *zap.Logger) {
	var cancel context.CancelFunc
	var trackerStarted atomic.Bool

	startPresence := func(ctx context.Context, userID string) {
		tracker.SetSelf(userID)
		if err := tracker.Start(ctx); err != nil {
			logger.Error("presence start failed", zap.Error(err))
			_ = machine.Transition(status.Degraded)
			return
		}
		trackerStarted.Store(true)
	}

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())

			go func() {
				if err := srv.Listen(); err != nil {
					logger.Error("api server error", zap.Error(err))
				}
			}()
			go views.Start(ctx)
			go sender.Start(ctx)

			u, err := provider.CurrentUser(ctx)
			if err != nil {
				logger.Info("no credentials found, auth required")
				_ = machine.Transition(status.AuthRequired)
				watchForLogin(ctx, b, provider, startPresence)
				return nil
			}

			logger.Info("session authenticated", zap.String("user", u.ID))
			_ = machine.Transition(status.Connecting)
			startPresence(ctx, u.ID)
			if trackerStarted.Load() {
				_ = machine.Transition(status.Ready)
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if trackerStarted.Load() {
				tracker.Stop()
			}
			if err := srv.Shutdown(ctx); err != nil {
				logger.Warn("api shutdown error", zap.Error(err))
			}
			if nc != nil {
				nc.Close()
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
