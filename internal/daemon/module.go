package daemon

import (
	"context"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/auth"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/directory"
	"github.com/matheus3301/chatsync/internal/lock"
	"github.com/matheus3301/chatsync/internal/logging"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/session"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/store"
	chatsync "github.com/matheus3301/chatsync/internal/sync"
	"github.com/matheus3301/chatsync/internal/transport"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string         // optional override for testing; empty = use default
	LogLevel    string         // empty = info
	Config      *config.Config // optional; nil = read config.toml and env
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideCredentials,
			provideTransport,
			provideChannel,
			provideDirectory,
			provideSyncer,
			provideEngine,
			provideSender,
			provideSessionService,
			provideRoomService,
			provideDirectoryService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	if p.Config != nil {
		return p.Config, nil
	}
	return session.LoadConfig()
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName, p.LogLevel)
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
	l, err := lock.Acquire(session.Dir(p.SessionName), p.SessionName)
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

// provideStore depends on the lock so no second daemon touches the file.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.DBPath(p.SessionName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	if result := db.Migration(); result != nil {
		if result.Changed {
			logger.Info("migrations applied", zap.Uint("version", result.Version))
		} else {
			logger.Info("migrations up to date", zap.Uint("version", result.Version))
		}
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideCredentials(p Params) *auth.Store {
	return auth.NewStore(session.CredentialPath(p.SessionName))
}

func provideTransport(cfg *config.Config, creds *auth.Store, b *bus.Bus, logger *zap.Logger) *transport.Client {
	return transport.NewClient(cfg.Server.WSURL, creds.Token, b, logger.Named("transport"))
}

func provideChannel(c *transport.Client) transport.Channel {
	return c
}

func provideDirectory(cfg *config.Config, creds *auth.Store) *directory.Client {
	return directory.NewClient(cfg.Server.APIURL, creds.Token)
}

func provideSyncer(c *directory.Client, db *store.DB, b *bus.Bus, logger *zap.Logger) *directory.Syncer {
	return directory.NewSyncer(c, db, b, logger.Named("directory"))
}

func provideEngine(cfg *config.Config, db *store.DB, ch transport.Channel, creds *auth.Store, syncer *directory.Syncer, b *bus.Bus, logger *zap.Logger) *chatsync.Engine {
	return chatsync.NewEngine(db, ch, creds, b, logger.Named("sync"),
		chatsync.WithResolver(syncer),
		chatsync.WithFetchTimeout(cfg.Sync.FetchTimeout.Duration),
	)
}

func provideSender(cfg *config.Config, db *store.DB, ch transport.Channel, creds *auth.Store, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, ch, creds, b, logger.Named("outbox"), outbox.Config{
		Interval:    cfg.Sync.OutboxInterval.Duration,
		MaxAttempts: cfg.Sync.OutboxMaxAttempts,
	})
}

func provideSessionService(p Params, m *status.Machine, creds *auth.Store, db *store.DB, ch transport.Channel, engine *chatsync.Engine, b *bus.Bus, logger *zap.Logger) *api.SessionService {
	return api.NewSessionService(p.SessionName, m, creds, db, ch, engine, b, logger)
}

func provideRoomService(engine *chatsync.Engine, sender *outbox.Sender, b *bus.Bus, logger *zap.Logger) *api.RoomService {
	return api.NewRoomService(engine, sender, b, logger)
}

func provideDirectoryService(syncer *directory.Syncer, db *store.DB) *api.DirectoryService {
	return api.NewDirectoryService(syncer, db)
}

type lifecycleDeps struct {
	fx.In

	Server  *Server
	Lock    *lock.Lock
	Store   *store.DB
	Creds   *auth.Store
	Client  *transport.Client
	Engine  *chatsync.Engine
	Sender  *outbox.Sender
	Machine *status.Machine
	Bus     *bus.Bus
	Logger  *zap.Logger
}

func registerLifecycle(lc fx.Lifecycle, d lifecycleDeps) {
	var stopTracking func()
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			stopTracking = trackTransport(d.Bus, d.Machine, d.Creds, d.Logger)

			// Persist pushes for rooms nobody has open.
			d.Engine.Start(context.Background())

			go func() {
				if err := d.Server.Start(); err != nil {
					d.Logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			d.Sender.Start(context.Background())

			if !d.Creds.Present() {
				d.Logger.Info("no credential found, auth required")
				_ = d.Machine.Transition(status.AuthRequired)
				return nil
			}
			_ = d.Machine.Transition(status.Connecting)
			go func() {
				if err := d.Client.Connect(context.Background()); err != nil {
					d.Logger.Warn("auto-connect failed", zap.Error(err))
					_ = d.Machine.Settle(status.Disconnected)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			d.Sender.Stop()
			d.Engine.Stop(ctx)
			if err := d.Client.Close(); err != nil {
				d.Logger.Warn("error closing transport", zap.Error(err))
			}
			if stopTracking != nil {
				stopTracking()
			}
			d.Server.Stop(ctx)
			if err := d.Store.Close(); err != nil {
				d.Logger.Warn("error closing store", zap.Error(err))
			}
			if err := d.Lock.Release(); err != nil {
				d.Logger.Warn("error releasing lock", zap.Error(err))
			}
			d.Logger.Info("daemon stopped")
			_ = d.Logger.Sync()
			return nil
		},
	})
}
