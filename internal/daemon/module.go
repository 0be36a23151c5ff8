package daemon

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/ninety5/habitate/internal/auth"
	"github.com/ninety5/habitate/internal/bus"
	"github.com/ninety5/habitate/internal/config"
	"github.com/ninety5/habitate/internal/lock"
	"github.com/ninety5/habitate/internal/logging"
	"github.com/ninety5/habitate/internal/profile"
	"github.com/ninety5/habitate/internal/remote"
	"github.com/ninety5/habitate/internal/repo"
	"github.com/ninety5/habitate/internal/status"
	"github.com/ninety5/habitate/internal/store"
	intsync "github.com/ninety5/habitate/internal/sync"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	ProfileName string
}

// Module returns the fx module for the daemon, composing all providers
// and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideConfig,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideTokenSource,
			provideRemoteClient,
			provideRegistry,
			provideDispatcher,
			provideHabits,
			provideFeed,
			provideSocial,
			provideTasks,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.ProfileName), p.ProfileName)
}

func provideConfig(logger *zap.Logger) *config.Config {
	cfg, err := config.Load(profile.ConfigPath())
	if err != nil {
		logger.Info("no config file, using defaults", zap.Error(err))
		return config.Default()
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
	if err := profile.EnsureDir(p.ProfileName); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := lock.Acquire(profile.Dir(p.ProfileName))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.DBPath(p.ProfileName)
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

func provideTokenSource(p Params, cfg *config.Config, logger *zap.Logger) *auth.CachingSource {
	refresher := auth.NewHTTPRefresher(cfg.APIBaseURL, profile.CredentialsPath(p.ProfileName))
	return auth.NewCachingSource(refresher, logger)
}

func provideRemoteClient(cfg *config.Config, tokens *auth.CachingSource, logger *zap.Logger) *remote.Client {
	return remote.NewClient(cfg.APIBaseURL, tokens, logger)
}

func provideRegistry() *intsync.Registry {
	return intsync.NewRegistry()
}

func provideDispatcher(db *store.DB, reg *intsync.Registry, cfg *config.Config, b *bus.Bus, machine *status.Machine, logger *zap.Logger) *intsync.Dispatcher {
	policy := intsync.Policy{
		BaseDelay:  cfg.Sync.BackoffBase.Duration(),
		MaxDelay:   cfg.Sync.BackoffCap.Duration(),
		MaxRetries: cfg.Sync.MaxRetries,
	}
	return intsync.NewDispatcher(db, reg, policy, cfg.Sync.Interval.Duration(), b, machine, logger)
}

func provideHabits(db *store.DB, b *bus.Bus, logger *zap.Logger, reg *intsync.Registry, client *remote.Client) *repo.Habits {
	return repo.NewHabits(db, b, logger, reg, client)
}

func provideFeed(db *store.DB, b *bus.Bus, logger *zap.Logger, reg *intsync.Registry, client *remote.Client) *repo.Feed {
	return repo.NewFeed(db, b, logger, reg, client)
}

func provideSocial(db *store.DB, b *bus.Bus, logger *zap.Logger, reg *intsync.Registry, client *remote.Client) *repo.Social {
	return repo.NewSocial(db, b, logger, reg, client)
}

func provideTasks(db *store.DB, b *bus.Bus, logger *zap.Logger, reg *intsync.Registry, client *remote.Client) *repo.Tasks {
	return repo.NewTasks(db, b, logger, reg, client)
}

// registerLifecycle starts the dispatcher once every repository has
// registered its binding. The repositories are listed as parameters so
// fx constructs them before OnStart runs.
func registerLifecycle(
	lc fx.Lifecycle,
	cfg *config.Config,
	dispatcher *intsync.Dispatcher,
	lk *lock.Lock,
	db *store.DB,
	logger *zap.Logger,
	_ *repo.Habits,
	_ *repo.Feed,
	_ *repo.Social,
	_ *repo.Tasks,
) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if cfg.Sync.RequeueFailedOnStart {
				if n, err := dispatcher.RequeueFailed(); err != nil {
					logger.Warn("failed to requeue quarantined operations", zap.Error(err))
				} else if n > 0 {
					logger.Info("quarantined operations requeued at startup", zap.Int64("count", n))
				}
			}
			dispatcher.Start(context.Background())
			logger.Info("sync dispatcher started")
			return nil
		},
		OnStop: func(_ context.Context) error {
			dispatcher.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
