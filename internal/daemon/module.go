package daemon

import (
	"context"
	"errors"
	"time"

	"github.com/matheus3301/officechat/internal/bus"
	"github.com/matheus3301/officechat/internal/cache"
	"github.com/matheus3301/officechat/internal/clock"
	"github.com/matheus3301/officechat/internal/config"
	"github.com/matheus3301/officechat/internal/conversation"
	"github.com/matheus3301/officechat/internal/ingest"
	"github.com/matheus3301/officechat/internal/lock"
	"github.com/matheus3301/officechat/internal/logging"
	"github.com/matheus3301/officechat/internal/metrics"
	"github.com/matheus3301/officechat/internal/notify"
	"github.com/matheus3301/officechat/internal/offline"
	"github.com/matheus3301/officechat/internal/outbox"
	"github.com/matheus3301/officechat/internal/profile"
	"github.com/matheus3301/officechat/internal/realtime"
	"github.com/matheus3301/officechat/internal/restapi"
	"github.com/matheus3301/officechat/internal/status"
	"github.com/matheus3301/officechat/internal/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	ProfileName string
	ConfigPath  string // optional override; empty = profile.ConfigPath()
	EnvPath     string // optional override; empty = profile.EnvPath()
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideMetrics,
			provideClock,
			provideLock,
			provideStore,
			provideAPI,
			provideDetector,
			provideCache,
			provideJanitor,
			provideScheduler,
			provideTracker,
			provideManager,
			provideEngine,
			provideSender,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	path := p.ConfigPath
	if path == "" {
		path = profile.ConfigPath()
	}
	envPath := p.EnvPath
	if envPath == "" {
		envPath = profile.EnvPath()
	}
	return config.Resolve(path, envPath)
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.ProfileName), p.ProfileName, cfg.LogLevel)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideMetrics() *metrics.Metrics {
	return metrics.New()
}

func provideClock() clock.Clock {
	return clock.Real{}
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

// provideStore depends on the lock so the database is never opened by two
// daemons at once.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.DBPath(p.ProfileName)
	db, result, err := store.OpenMigrated(dbPath)
	if err != nil {
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

func provideAPI(cfg *config.Config) *restapi.Client {
	return restapi.New(cfg.API.BaseURL,
		restapi.WithTimeout(ms(cfg.API.TimeoutMS)),
		restapi.WithUser(cfg.User.ID),
	)
}

func provideDetector(cfg *config.Config, db *store.DB, api *restapi.Client, clk clock.Clock, b *bus.Bus, logger *zap.Logger, m *metrics.Metrics) *offline.Detector {
	return offline.New(offline.Config{PollInterval: ms(cfg.Offline.PollIntervalMS)}, db, api, clk, b, logger.Named("offline"), m)
}

func provideCache(cfg *config.Config, db *store.DB, clk clock.Clock, logger *zap.Logger, m *metrics.Metrics) *cache.Manager {
	return cache.New(db, cache.Config{
		Version:       cfg.Cache.Version,
		MaxEntryBytes: cfg.Cache.MaxEntryBytes,
		MaxTotalBytes: cfg.Cache.MaxTotalBytes,
	}, clk, logger.Named("cache"), m)
}

func provideJanitor(cfg *config.Config, c *cache.Manager, clk clock.Clock, logger *zap.Logger) (*cache.Janitor, error) {
	return cache.NewJanitor(c, cfg.Cache.PurgeCron, clk, logger.Named("cache"))
}

func provideScheduler(db *store.DB, clk clock.Clock, b *bus.Bus, logger *zap.Logger, m *metrics.Metrics) (*notify.Scheduler, error) {
	s := notify.New(notify.Config{}, notify.NewSettingsStore(db), db, clk, b, logger.Named("notify"), m)
	if err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

func provideTracker(clk clock.Clock, logger *zap.Logger) *conversation.Tracker {
	return conversation.NewTracker(0, clk, logger.Named("conversation"))
}

func provideManager(cfg *config.Config, clk clock.Clock, b *bus.Bus, logger *zap.Logger, m *metrics.Metrics) *realtime.Manager {
	mgr := realtime.New(realtime.Config{
		URL:                  cfg.Realtime.URL,
		ReconnectInterval:    ms(cfg.Realtime.ReconnectIntervalMS),
		MaxReconnectAttempts: cfg.Realtime.MaxReconnectAttempts,
		HeartbeatInterval:    ms(cfg.Realtime.HeartbeatIntervalMS),
		MaxBackoff:           ms(cfg.Realtime.MaxBackoffMS),
	}, realtime.GorillaDialer{}, clk, b, logger.Named("realtime"), m)
	mgr.SetCurrentUser(realtime.User{ID: cfg.User.ID, Type: cfg.User.Type, Name: cfg.User.Name})
	return mgr
}

func provideEngine(cfg *config.Config, db *store.DB, tracker *conversation.Tracker, sched *notify.Scheduler, c *cache.Manager, b *bus.Bus, logger *zap.Logger) *ingest.Engine {
	e := ingest.NewEngine(cfg.User.ID, db, tracker, sched, b, logger.Named("ingest"))
	e.CacheSnapshots(c, ingest.DefaultSnapshotTTL)
	return e
}

func provideSender(cfg *config.Config, db *store.DB, api *restapi.Client, detector *offline.Detector, b *bus.Bus, logger *zap.Logger, m *metrics.Metrics) *outbox.Sender {
	return outbox.NewSender(outbox.Config{
		Rate:  cfg.Outbox.RatePerSecond,
		Burst: cfg.Outbox.Burst,
	}, db, api, detector, b, logger.Named("outbox"), m)
}

// Components are the long-running parts started and stopped together.
type Components struct {
	fx.In

	Server    *Server
	Lock      *lock.Lock
	DB        *store.DB
	Manager   *realtime.Manager
	Detector  *offline.Detector
	Engine    *ingest.Engine
	Sender    *outbox.Sender
	Scheduler *notify.Scheduler
	Tracker   *conversation.Tracker
	Janitor   *cache.Janitor
	Logger    *zap.Logger
}

func registerLifecycle(lc fx.Lifecycle, c Components) {
	logger := c.Logger
	var unsubscribe func()
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Subscribers first so no event from the socket is missed.
			c.Engine.Start(context.Background())
			c.Sender.Start(context.Background())
			c.Detector.Start(context.Background())
			c.Janitor.Start()

			c.Manager.On(realtime.Handlers{
				OnConnectionStateChange: func(s status.State) {
					logger.Info("connection state changed", zap.String("state", string(s)))
					if s == status.Connected {
						c.Detector.SetOnline(true)
					}
				},
				OnError: func(err error) {
					if errors.Is(err, realtime.ErrReconnectExhausted) {
						logger.Error("realtime gave up reconnecting", zap.Error(err))
						return
					}
					logger.Warn("realtime error", zap.Error(err))
				},
			})
			unsubscribe = c.Detector.Subscribe(func(s offline.State) {
				if s.IsOnline && c.Manager.ConnectionState() == status.Disconnected {
					logger.Info("network back, reconnecting")
					go func() { _ = c.Manager.Reconnect() }()
				}
			})

			go func() {
				if err := c.Server.Start(); err != nil {
					logger.Error("http server error", zap.Error(err))
				}
			}()

			go func() {
				if err := c.Manager.Connect(); err != nil {
					logger.Error("realtime connect failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if unsubscribe != nil {
				unsubscribe()
			}
			c.Manager.Disconnect()
			c.Sender.Stop()
			c.Engine.Stop()
			c.Detector.Stop()
			c.Janitor.Stop()
			c.Scheduler.Stop()
			c.Tracker.Stop()
			c.Server.Stop(ctx)
			if err := c.DB.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := c.Lock.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}
