package daemon

import (
	"context"

	"github.com/matheus3301/imcore/internal/api"
	"github.com/matheus3301/imcore/internal/bus"
	"github.com/matheus3301/imcore/internal/chat"
	"github.com/matheus3301/imcore/internal/config"
	"github.com/matheus3301/imcore/internal/listener"
	"github.com/matheus3301/imcore/internal/lock"
	"github.com/matheus3301/imcore/internal/logging"
	"github.com/matheus3301/imcore/internal/participants"
	"github.com/matheus3301/imcore/internal/pipeline"
	"github.com/matheus3301/imcore/internal/registry"
	"github.com/matheus3301/imcore/internal/resend"
	"github.com/matheus3301/imcore/internal/session"
	"github.com/matheus3301/imcore/internal/status"
	"github.com/matheus3301/imcore/internal/store"
	intsync "github.com/matheus3301/imcore/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string // optional override for testing; empty = use default
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideFlags,
			provideBus,
			providePipelines,
			provideStateMachine,
			provideLock,
			provideStore,
			provideRegistry,
			provideGate,
			provideResendWorker,
			provideListener,
			provideParticipants,
			provideSyncEngine,
			provideService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	return config.LoadOrDefault(session.ConfigPath(p.SessionName))
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName, cfg.LogLevel)
}

func provideFlags(cfg *config.Config) *config.Flags {
	return config.NewFlags(cfg.Flags)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func providePipelines(b *bus.Bus) *pipeline.Pipelines {
	return pipeline.New(b)
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

// provideStore takes the lock so the database is never opened by a second
// daemon of the same session.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.DBPath(p.SessionName)
	db, err := store.Open(dbPath)
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
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideRegistry(cfg *config.Config, db *store.DB, logger *zap.Logger) *registry.Registry {
	return registry.New(registry.Options{
		Retention: chat.Retention{
			MaxMessages: cfg.Registry.MaxMessagesPerChat,
			MaxAge:      cfg.Registry.MessageRetention.Duration,
		},
		LookupTimeout:    cfg.Registry.LookupTimeout.Duration,
		CorrelateTimeout: cfg.Registry.CorrelateTimeout.Duration,
	}, db, nil, logger)
}

func provideGate(flags *config.Flags, cfg *config.Config, logger *zap.Logger) *pipeline.Gate {
	return pipeline.NewGate(flags, cfg.Pipeline.NonceTTL.Duration, logger)
}

func provideResendWorker(reg *registry.Registry, db *store.DB, b *bus.Bus, ps *pipeline.Pipelines, cfg *config.Config, logger *zap.Logger) *resend.Worker {
	transport := resend.NewBusTransport(reg, b)
	return resend.NewWorker(transport, db, ps, cfg.Resend.QueueSize, cfg.Resend.Timeout.Duration, logger)
}

func provideListener(reg *registry.Registry, ps *pipeline.Pipelines, gate *pipeline.Gate, flags *config.Flags,
	db *store.DB, worker *resend.Worker, machine *status.Machine, cfg *config.Config, logger *zap.Logger) *listener.Listener {
	return listener.New(reg, ps, gate, flags, db, worker, machine, listener.Options{
		ReadBufferCapacity: cfg.Pipeline.SMSReadBufferCapacity,
		ChatIDCacheSize:    cfg.Pipeline.ChatIdentifierCacheSize,
		LookupTimeout:      cfg.Registry.LookupTimeout.Duration,
	}, logger)
}

func provideParticipants(db *store.DB, ps *pipeline.Pipelines, logger *zap.Logger) *participants.Manager {
	return participants.New(db, ps, logger)
}

func provideSyncEngine(db *store.DB, ps *pipeline.Pipelines, reg *registry.Registry, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(db, ps, reg, logger)
}

func provideService(p Params, l *listener.Listener, reg *registry.Registry, parts *participants.Manager,
	machine *status.Machine, b *bus.Bus, db *store.DB, cfg *config.Config, logger *zap.Logger) *api.Service {
	return api.NewService(p.SessionName, l, reg, parts, machine, b, db, cfg.Pipeline.SubscriberBuffer, logger)
}

// components groups everything the lifecycle starts and stops.
type components struct {
	fx.In

	Params       Params
	Server       *Server
	Lock         *lock.Lock
	DB           *store.DB
	Registry     *registry.Registry
	Gate         *pipeline.Gate
	Worker       *resend.Worker
	Listener     *listener.Listener
	Participants *participants.Manager
	Engine       *intsync.Engine
	Flags        *config.Flags
	Machine      *status.Machine
	Logger       *zap.Logger
}

func registerLifecycle(lc fx.Lifecycle, c components) {
	ctx, cancel := context.WithCancel(context.Background())
	var watchers errgroup.Group

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			c.Registry.SetResender(c.Worker)
			c.Gate.Start()
			c.Worker.Start(ctx)
			c.Engine.Start(ctx)
			c.Participants.Start(ctx)

			watchers.Go(func() error {
				err := config.Watch(ctx, session.ConfigPath(c.Params.SessionName), c.Logger, func(cfg *config.Config) {
					applyConfig(cfg, c.Flags, c.Listener)
				})
				if err != nil {
					c.Logger.Warn("config watcher stopped", zap.Error(err))
				}
				return nil
			})

			// Start gRPC server in background.
			go func() {
				if err := c.Server.Start(); err != nil {
					c.Logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			// The host instrumentation connects through the socket and
			// finishes setup with a setup_complete callback.
			return c.Machine.Transition(status.Syncing)
		},
		OnStop: func(stopCtx context.Context) error {
			_ = c.Machine.Transition(status.Stopped)
			c.Server.Stop(stopCtx)
			cancel()
			_ = watchers.Wait()
			c.Participants.Stop()
			c.Engine.Stop()
			c.Worker.Stop()
			c.Gate.Stop()
			if err := c.DB.Close(); err != nil {
				c.Logger.Warn("error closing store", zap.Error(err))
			}
			if err := c.Lock.Release(); err != nil {
				c.Logger.Warn("error releasing lock", zap.Error(err))
			}
			c.Logger.Info("daemon stopped")
			return nil
		},
	})
}

// applyConfig pushes the live-reloadable parts of cfg into running components.
func applyConfig(cfg *config.Config, flags *config.Flags, l *listener.Listener) {
	flags.Store(cfg.Flags)
	if cfg.Pipeline.SMSReadBufferCapacity > 0 {
		l.SetReadBufferCapacity(cfg.Pipeline.SMSReadBufferCapacity)
	}
}
