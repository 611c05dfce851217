package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/adhocore/gronx"
	"github.com/joho/godotenv"
	"github.com/matheus3301/officechat/internal/cache"
	"github.com/matheus3301/officechat/internal/offline"
	"github.com/matheus3301/officechat/internal/outbox"
	"github.com/matheus3301/officechat/internal/realtime"
)

// Config represents the global ~/.officechat/config.toml. Durations are
// plain milliseconds.
type Config struct {
	DefaultProfile string `toml:"default_profile"`
	LogLevel       string `toml:"log_level"`
	MetricsAddr    string `toml:"metrics_addr"`

	User     User     `toml:"user"`
	Realtime Realtime `toml:"realtime"`
	API      API      `toml:"api"`
	Offline  Offline  `toml:"offline"`
	Cache    Cache    `toml:"cache"`
	Outbox   Outbox   `toml:"outbox"`
}

// User is the identity the daemon connects as.
type User struct {
	ID   string `toml:"id"`
	Type string `toml:"type"`
	Name string `toml:"name"`
}

type Realtime struct {
	URL                  string `toml:"url"`
	ReconnectIntervalMS  int    `toml:"reconnect_interval_ms"`
	MaxReconnectAttempts int    `toml:"max_reconnect_attempts"`
	HeartbeatIntervalMS  int    `toml:"heartbeat_interval_ms"`
	MaxBackoffMS         int    `toml:"max_backoff_ms"`
}

type API struct {
	BaseURL   string `toml:"base_url"`
	TimeoutMS int    `toml:"timeout_ms"`
}

type Offline struct {
	PollIntervalMS int `toml:"poll_interval_ms"`
}

type Cache struct {
	Version       string `toml:"version"`
	MaxEntryBytes int    `toml:"max_entry_bytes"`
	MaxTotalBytes int    `toml:"max_total_bytes"`
	PurgeCron     string `toml:"purge_cron"`
}

type Outbox struct {
	RatePerSecond float64 `toml:"rate_per_second"`
	Burst         int     `toml:"burst"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		User:     User{Type: "office"},
		Realtime: Realtime{
			URL:                  "ws://localhost:3001",
			ReconnectIntervalMS:  int(realtime.DefaultReconnectInterval.Milliseconds()),
			MaxReconnectAttempts: realtime.DefaultMaxReconnectAttempts,
			HeartbeatIntervalMS:  int(realtime.DefaultHeartbeatInterval.Milliseconds()),
			MaxBackoffMS:         int(realtime.DefaultMaxBackoff.Milliseconds()),
		},
		API: API{
			BaseURL:   "http://localhost:3000",
			TimeoutMS: 10000,
		},
		Offline: Offline{PollIntervalMS: int(offline.DefaultPollInterval.Milliseconds())},
		Cache: Cache{
			Version:       cache.DefaultVersion,
			MaxEntryBytes: cache.DefaultMaxEntryBytes,
			MaxTotalBytes: cache.DefaultMaxTotalBytes,
			PurgeCron:     cache.DefaultPurgeCron,
		},
		Outbox: Outbox{RatePerSecond: outbox.DefaultRate, Burst: outbox.DefaultBurst},
	}
}

// Load reads config from the given path over the defaults. Returns an error
// if the file is missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Resolve builds the effective configuration: defaults, then the TOML file
// at path if it exists, then variables from envFile (if present), then the
// process environment. The result is validated.
func Resolve(path, envFile string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	if envFile != "" {
		_ = godotenv.Load(envFile)
	}
	cfg.ApplyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set("WS_URL", &c.Realtime.URL)
	set("OFFICECHAT_API_URL", &c.API.BaseURL)
	set("OFFICECHAT_USER_ID", &c.User.ID)
	set("OFFICECHAT_USER_TYPE", &c.User.Type)
	set("OFFICECHAT_USER_NAME", &c.User.Name)
	set("OFFICECHAT_LOG_LEVEL", &c.LogLevel)
	set("OFFICECHAT_METRICS_ADDR", &c.MetricsAddr)
}

// Validate fails fast on settings the daemon cannot run with.
func (c *Config) Validate() error {
	if err := checkURL("realtime.url", c.Realtime.URL, "ws", "wss", "http", "https"); err != nil {
		return err
	}
	if err := checkURL("api.base_url", c.API.BaseURL, "http", "https"); err != nil {
		return err
	}
	positive := map[string]int{
		"realtime.reconnect_interval_ms":  c.Realtime.ReconnectIntervalMS,
		"realtime.max_reconnect_attempts": c.Realtime.MaxReconnectAttempts,
		"realtime.heartbeat_interval_ms":  c.Realtime.HeartbeatIntervalMS,
		"realtime.max_backoff_ms":         c.Realtime.MaxBackoffMS,
		"api.timeout_ms":                  c.API.TimeoutMS,
		"offline.poll_interval_ms":        c.Offline.PollIntervalMS,
		"cache.max_entry_bytes":           c.Cache.MaxEntryBytes,
		"cache.max_total_bytes":           c.Cache.MaxTotalBytes,
		"outbox.burst":                    c.Outbox.Burst,
	}
	for name, v := range positive {
		if v <= 0 {
			return fmt.Errorf("invalid %s: must be positive, got %d", name, v)
		}
	}
	if c.Outbox.RatePerSecond <= 0 {
		return fmt.Errorf("invalid outbox.rate_per_second: must be positive")
	}
	if c.Cache.MaxEntryBytes > c.Cache.MaxTotalBytes {
		return fmt.Errorf("invalid cache.max_entry_bytes: exceeds cache.max_total_bytes")
	}
	if c.Cache.PurgeCron != "" && !gronx.IsValid(c.Cache.PurgeCron) {
		return fmt.Errorf("invalid cache.purge_cron: not a valid cron expression")
	}
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	return nil
}

func checkURL(field, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", field, err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("invalid %s %q: want %s URL with a host", field, raw, strings.Join(schemes, "/"))
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
