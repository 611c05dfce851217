// Package cache is a bounded, versioned, TTL-aware key/value cache layered
// over a storage.Store. It keeps dashboard data from being refetched on every
// load.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/matheus3301/officechat/internal/clock"
	"github.com/matheus3301/officechat/internal/metrics"
	"github.com/matheus3301/officechat/internal/storage"
	"go.uber.org/zap"
)

const (
	DefaultPrefix        = "officechat:cache:"
	DefaultVersion       = "1.0.0"
	DefaultMaxEntryBytes = 1 << 20
	DefaultMaxTotalBytes = 5 << 20
)

// ErrEntryTooLarge is returned when a single serialized entry exceeds the
// per-entry ceiling.
var ErrEntryTooLarge = errors.New("cache: entry exceeds size limit")

// Config bounds and namespaces a Manager. Zero fields take defaults.
type Config struct {
	Prefix        string
	Version       string
	MaxEntryBytes int
	MaxTotalBytes int
}

func (c *Config) defaults() {
	if c.Prefix == "" {
		c.Prefix = DefaultPrefix
	}
	if c.Version == "" {
		c.Version = DefaultVersion
	}
	if c.MaxEntryBytes <= 0 {
		c.MaxEntryBytes = DefaultMaxEntryBytes
	}
	if c.MaxTotalBytes <= 0 {
		c.MaxTotalBytes = DefaultMaxTotalBytes
	}
}

// Options tune a single write. A zero TTL never expires; an empty Version
// uses the manager's schema version.
type Options struct {
	TTL     time.Duration
	Version string
}

// envelope is the persisted JSON shape.
type envelope struct {
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
	ExpiresAt *int64          `json:"expiresAt,omitempty"`
	Version   string          `json:"version,omitempty"`
}

// Entry is a valid cache entry together with its metadata.
type Entry struct {
	Data      json.RawMessage
	Timestamp time.Time
	ExpiresAt time.Time // zero when the entry never expires
	Version   string
}

// Stats summarises the manager's namespace.
type Stats struct {
	Count      int
	TotalBytes int
	Oldest     time.Time
	Newest     time.Time
}

// Manager is the client cache. It is safe for concurrent use to the extent
// the underlying store is; concurrent writers are last-write-wins.
type Manager struct {
	store   storage.Store
	cfg     Config
	clock   clock.Clock
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// New creates a cache manager over store.
func New(store storage.Store, cfg Config, clk clock.Clock, logger *zap.Logger, m *metrics.Metrics) *Manager {
	cfg.defaults()
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: store, cfg: cfg, clock: clk, logger: logger, metrics: m}
}

// Version returns the current schema version tag.
func (m *Manager) Version() string { return m.cfg.Version }

// Set stores data under key and reports whether the write was accepted.
func (m *Manager) Set(key string, data any, opts Options) bool {
	if err := m.Put(key, data, opts); err != nil {
		m.logger.Warn("cache write rejected", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

// Put is Set with the failure reason.
func (m *Manager) Put(key string, data any, opts Options) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode data: %w", err)
	}
	now := m.clock.Now()
	env := envelope{
		Data:      raw,
		Timestamp: now.UnixMilli(),
		Version:   opts.Version,
	}
	if env.Version == "" {
		env.Version = m.cfg.Version
	}
	if opts.TTL > 0 {
		exp := now.Add(opts.TTL).UnixMilli()
		env.ExpiresAt = &exp
	}
	encoded, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}

	fullKey := m.cfg.Prefix + key
	size := entrySize(fullKey, string(encoded))
	if size > m.cfg.MaxEntryBytes {
		return fmt.Errorf("%w: %d > %d bytes", ErrEntryTooLarge, size, m.cfg.MaxEntryBytes)
	}

	m.PurgeExpired()
	if err := m.makeRoom(fullKey, size); err != nil {
		return err
	}
	if err := m.store.Set(fullKey, string(encoded)); err != nil {
		return fmt.Errorf("store write: %w", err)
	}
	return nil
}

// Get returns the raw JSON data for key, or nil when the entry is absent,
// expired, written under another schema version, or corrupted. Invalid
// entries are removed.
func (m *Manager) Get(key string) json.RawMessage {
	e := m.GetWithMetadata(key)
	if e == nil {
		return nil
	}
	return e.Data
}

// GetAs decodes the entry under key into T.
func GetAs[T any](m *Manager, key string) (T, bool) {
	var v T
	raw := m.Get(key)
	if raw == nil {
		return v, false
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		m.logger.Warn("cache entry does not match requested type", zap.String("key", key), zap.Error(err))
		return v, false
	}
	return v, true
}

// GetWithMetadata applies the same validity rules as Get and also returns
// timestamp, expiry and version.
func (m *Manager) GetWithMetadata(key string) *Entry {
	fullKey := m.cfg.Prefix + key
	env, ok := m.load(fullKey)
	if !ok {
		m.metrics.CacheLookup(false)
		return nil
	}
	if m.expired(env) {
		m.logger.Debug("cache entry expired", zap.String("key", key))
		m.drop(fullKey)
		m.metrics.CacheLookup(false)
		return nil
	}
	if env.Version != m.cfg.Version {
		m.logger.Debug("cache entry version mismatch",
			zap.String("key", key), zap.String("entry", env.Version), zap.String("current", m.cfg.Version))
		m.drop(fullKey)
		m.metrics.CacheLookup(false)
		return nil
	}
	m.metrics.CacheLookup(true)
	e := &Entry{
		Data:      env.Data,
		Timestamp: time.UnixMilli(env.Timestamp),
		Version:   env.Version,
	}
	if env.ExpiresAt != nil {
		e.ExpiresAt = time.UnixMilli(*env.ExpiresAt)
	}
	return e
}

// IsStale reports whether key is absent or older than threshold. It allows
// soft refresh policies independent of the hard TTL.
func (m *Manager) IsStale(key string, threshold time.Duration) bool {
	e := m.GetWithMetadata(key)
	if e == nil {
		return true
	}
	return m.clock.Now().Sub(e.Timestamp) > threshold
}

// Remove deletes key.
func (m *Manager) Remove(key string) {
	m.drop(m.cfg.Prefix + key)
}

// Clear removes every key under the manager's prefix and nothing else.
func (m *Manager) Clear() {
	keys, err := m.store.Keys(m.cfg.Prefix)
	if err != nil {
		m.logger.Warn("cache clear: list keys", zap.Error(err))
		return
	}
	for _, k := range keys {
		m.drop(k)
	}
}

// Keys returns the keys under the manager's prefix, without the prefix.
func (m *Manager) Keys() []string {
	keys, err := m.store.Keys(m.cfg.Prefix)
	if err != nil {
		m.logger.Warn("cache keys: list", zap.Error(err))
		return nil
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, strings.TrimPrefix(k, m.cfg.Prefix))
	}
	return out
}

// Stats reports entry count, approximate size and timestamp range.
func (m *Manager) Stats() Stats {
	var s Stats
	for _, it := range m.scan() {
		s.Count++
		s.TotalBytes += it.size
		if it.timestamp == 0 {
			continue
		}
		ts := time.UnixMilli(it.timestamp)
		if s.Oldest.IsZero() || ts.Before(s.Oldest) {
			s.Oldest = ts
		}
		if ts.After(s.Newest) {
			s.Newest = ts
		}
	}
	return s
}

// PurgeExpired removes expired and corrupted entries and returns how many
// were removed.
func (m *Manager) PurgeExpired() int {
	removed := 0
	for _, it := range m.scan() {
		if it.corrupt || (it.env != nil && m.expired(it.env)) {
			m.drop(it.key)
			removed++
		}
	}
	return removed
}

type scanned struct {
	key       string
	size      int
	timestamp int64
	env       *envelope
	corrupt   bool
}

func (m *Manager) scan() []scanned {
	keys, err := m.store.Keys(m.cfg.Prefix)
	if err != nil {
		m.logger.Warn("cache scan: list keys", zap.Error(err))
		return nil
	}
	out := make([]scanned, 0, len(keys))
	for _, k := range keys {
		v, ok, err := m.store.Get(k)
		if err != nil || !ok {
			continue
		}
		it := scanned{key: k, size: entrySize(k, v)}
		var env envelope
		if err := json.Unmarshal([]byte(v), &env); err != nil {
			it.corrupt = true
		} else {
			it.env = &env
			it.timestamp = env.Timestamp
		}
		out = append(out, it)
	}
	return out
}

// makeRoom evicts oldest-timestamp entries until an entry of size bytes
// stored under fullKey fits in the total ceiling.
func (m *Manager) makeRoom(fullKey string, size int) error {
	items := m.scan()
	total := size
	var candidates []scanned
	for _, it := range items {
		if it.key == fullKey {
			continue
		}
		total += it.size
		candidates = append(candidates, it)
	}
	if total <= m.cfg.MaxTotalBytes {
		return nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].timestamp < candidates[j].timestamp
	})
	evicted := 0
	for _, it := range candidates {
		if total <= m.cfg.MaxTotalBytes {
			break
		}
		m.drop(it.key)
		total -= it.size
		evicted++
	}
	m.metrics.CacheEvicted(evicted)
	if evicted > 0 {
		m.logger.Debug("cache evicted entries", zap.Int("count", evicted))
	}
	if total > m.cfg.MaxTotalBytes {
		return fmt.Errorf("cache: cannot free %d bytes", size)
	}
	return nil
}

func (m *Manager) load(fullKey string) (*envelope, bool) {
	v, ok, err := m.store.Get(fullKey)
	if err != nil {
		m.logger.Warn("cache read failed", zap.String("key", fullKey), zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var env envelope
	if err := json.Unmarshal([]byte(v), &env); err != nil {
		m.logger.Warn("cache entry corrupted, removing", zap.String("key", fullKey), zap.Error(err))
		m.drop(fullKey)
		return nil, false
	}
	return &env, true
}

func (m *Manager) expired(env *envelope) bool {
	return env.ExpiresAt != nil && m.clock.Now().UnixMilli() > *env.ExpiresAt
}

func (m *Manager) drop(fullKey string) {
	if err := m.store.Remove(fullKey); err != nil {
		m.logger.Warn("cache remove failed", zap.String("key", fullKey), zap.Error(err))
	}
}

func entrySize(key, value string) int {
	return len(key) + len(value)
}
