package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/matheus3301/officechat/internal/cache"
	"github.com/matheus3301/officechat/internal/clock"
	"github.com/matheus3301/officechat/internal/config"
	"github.com/matheus3301/officechat/internal/lock"
	"github.com/matheus3301/officechat/internal/notify"
	"github.com/matheus3301/officechat/internal/profile"
	"github.com/matheus3301/officechat/internal/store"
	"github.com/spf13/cobra"
)

type options struct {
	profile string
	json    bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "officechatctl",
		Short: "Inspect and manage an officechat profile",
		Long: `officechatctl reads a profile's local database: connection and network
state, notifications, notification settings, the client cache and the
outgoing message queue, which send adds to. Commands that change notifications or settings
require officechatd to be stopped for that profile.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.profile, "profile", "", "profile name (overrides config default)")
	root.PersistentFlags().BoolVar(&opts.json, "json", false, "output in JSON format")

	root.AddCommand(
		newStatusCmd(opts),
		newNotificationsCmd(opts),
		newSettingsCmd(opts),
		newCacheCmd(opts),
		newOutboxCmd(opts),
		newSendCmd(opts),
	)
	return root
}

// profileEnv is an opened profile: its effective config and database.
type profileEnv struct {
	name string
	cfg  *config.Config
	db   *store.DB
}

func (o *options) open() (*profileEnv, error) {
	name := profile.Resolve(o.profile)
	if err := profile.ValidateName(name); err != nil {
		return nil, err
	}
	cfg, err := config.Resolve(profile.ConfigPath(), profile.EnvPath())
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := profile.EnsureDir(name); err != nil {
		return nil, err
	}
	db, _, err := store.OpenMigrated(profile.DBPath(name))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return &profileEnv{name: name, cfg: cfg, db: db}, nil
}

func (e *profileEnv) Close() error {
	return e.db.Close()
}

// requireStopped refuses changes while a daemon owns the profile, since the
// daemon keeps notifications and settings in memory.
func (e *profileEnv) requireStopped() error {
	if held, ok := lock.Holder(profile.Dir(e.name)); ok {
		return fmt.Errorf("profile %q is in use by officechatd (pid %d); stop it first", e.name, held.PID)
	}
	return nil
}

func (e *profileEnv) scheduler() (*notify.Scheduler, error) {
	s := notify.New(notify.Config{}, notify.NewSettingsStore(e.db), e.db, clock.Real{}, nil, nil, nil)
	if err := s.Load(); err != nil {
		s.Stop()
		return nil, err
	}
	return s, nil
}

func (e *profileEnv) cache() *cache.Manager {
	return cache.New(e.db, cache.Config{
		Version:       e.cfg.Cache.Version,
		MaxEntryBytes: e.cfg.Cache.MaxEntryBytes,
		MaxTotalBytes: e.cfg.Cache.MaxTotalBytes,
	}, clock.Real{}, nil, nil)
}

// withProfile opens the profile, runs fn and closes it.
func withProfile(opts *options, fn func(*profileEnv) error) error {
	env, err := opts.open()
	if err != nil {
		return err
	}
	defer func() { _ = env.Close() }()
	return fn(env)
}

// withScheduler is withProfile plus a loaded scheduler, for commands that
// change notifications or settings.
func withScheduler(opts *options, fn func(*profileEnv, *notify.Scheduler) error) error {
	return withProfile(opts, func(env *profileEnv) error {
		if err := env.requireStopped(); err != nil {
			return err
		}
		s, err := env.scheduler()
		if err != nil {
			return err
		}
		defer s.Stop()
		return fn(env, s)
	})
}

func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
