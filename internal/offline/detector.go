// Package offline tracks network reachability for the daemon. Host
// transition signals arrive through SetOnline; a periodic probe covers
// transitions the host misses.
package offline

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/matheus3301/officechat/internal/bus"
	"github.com/matheus3301/officechat/internal/clock"
	"github.com/matheus3301/officechat/internal/metrics"
	"github.com/matheus3301/officechat/internal/storage"
	"go.uber.org/zap"
)

const (
	StateKey            = "officechat:offline-state"
	DefaultPollInterval = 5 * time.Second
	defaultProbeTimeout = 3 * time.Second
)

// Prober checks whether the messaging backend is reachable.
type Prober interface {
	Reachable(ctx context.Context) bool
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) bool

func (f ProberFunc) Reachable(ctx context.Context) bool { return f(ctx) }

// State is the reachability snapshot. Zero times mean "never recorded".
type State struct {
	IsOnline     bool
	WasOffline   bool
	OfflineSince time.Time
	LastOnlineAt time.Time
}

// Listener receives the new state after every transition.
type Listener func(State)

// Config tunes polling. Zero fields take defaults.
type Config struct {
	PollInterval time.Duration
	ProbeTimeout time.Duration
}

// persisted is the JSON shape kept under StateKey; times are Unix ms.
type persisted struct {
	IsOnline     bool   `json:"isOnline"`
	WasOffline   bool   `json:"wasOffline"`
	OfflineSince *int64 `json:"offlineSince"`
	LastOnlineAt *int64 `json:"lastOnlineAt"`
}

// Detector is the single source of truth for reachability.
type Detector struct {
	cfg     Config
	store   storage.Store
	prober  Prober
	clock   clock.Clock
	bus     *bus.Bus
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu        sync.Mutex
	state     State
	listeners map[int]Listener
	nextID    int
	timer     clock.Timer
	ctx       context.Context
	cancel    context.CancelFunc
}

// New restores the persisted state from store, or starts online when none
// exists. prober may be nil to disable polling.
func New(cfg Config, store storage.Store, prober Prober, clk clock.Clock, b *bus.Bus, logger *zap.Logger, m *metrics.Metrics) *Detector {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaultProbeTimeout
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Detector{
		cfg:       cfg,
		store:     store,
		prober:    prober,
		clock:     clk,
		bus:       b,
		logger:    logger,
		metrics:   m,
		listeners: make(map[int]Listener),
	}
	d.state = d.restore()
	return d
}

func (d *Detector) restore() State {
	fresh := State{IsOnline: true, LastOnlineAt: d.clock.Now()}
	if d.store == nil {
		return fresh
	}
	raw, ok, err := d.store.Get(StateKey)
	if err != nil {
		d.logger.Warn("read offline state", zap.Error(err))
		return fresh
	}
	if !ok {
		return fresh
	}
	var p persisted
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		d.logger.Warn("offline state corrupted, starting fresh", zap.Error(err))
		return fresh
	}
	s := State{IsOnline: p.IsOnline, WasOffline: p.WasOffline}
	if p.OfflineSince != nil {
		s.OfflineSince = time.UnixMilli(*p.OfflineSince)
	}
	if p.LastOnlineAt != nil {
		s.LastOnlineAt = time.UnixMilli(*p.LastOnlineAt)
	}
	return s
}

func (d *Detector) persistLocked() {
	if d.store == nil {
		return
	}
	p := persisted{IsOnline: d.state.IsOnline, WasOffline: d.state.WasOffline}
	if !d.state.OfflineSince.IsZero() {
		ms := d.state.OfflineSince.UnixMilli()
		p.OfflineSince = &ms
	}
	if !d.state.LastOnlineAt.IsZero() {
		ms := d.state.LastOnlineAt.UnixMilli()
		p.LastOnlineAt = &ms
	}
	raw, err := json.Marshal(p)
	if err != nil {
		d.logger.Warn("encode offline state", zap.Error(err))
		return
	}
	if err := d.store.Set(StateKey, string(raw)); err != nil {
		d.logger.Warn("persist offline state", zap.Error(err))
	}
}

// Start begins the reachability poll.
func (d *Detector) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.prober == nil || d.cancel != nil {
		return
	}
	d.ctx, d.cancel = context.WithCancel(ctx)
	d.scheduleLocked()
}

// Stop cancels the poll and any in-flight probe.
func (d *Detector) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
}

func (d *Detector) scheduleLocked() {
	d.timer = d.clock.AfterFunc(d.cfg.PollInterval, d.poll)
}

func (d *Detector) poll() {
	d.mu.Lock()
	ctx := d.ctx
	if d.cancel == nil {
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()

	probeCtx, cancel := context.WithTimeout(ctx, d.cfg.ProbeTimeout)
	online := d.prober.Reachable(probeCtx)
	cancel()
	if ctx.Err() == nil {
		d.SetOnline(online)
	}

	// A Stop, or a Stop then Start, during the probe retires this loop.
	d.mu.Lock()
	if d.cancel != nil && d.ctx == ctx {
		d.scheduleLocked()
	}
	d.mu.Unlock()
}

// SetOnline records a reachability signal. Only actual transitions update
// timestamps, persist, and notify.
func (d *Detector) SetOnline(online bool) {
	d.mu.Lock()
	if d.state.IsOnline == online {
		d.mu.Unlock()
		return
	}
	now := d.clock.Now()
	d.state.IsOnline = online
	if online {
		d.state.LastOnlineAt = now
		d.state.OfflineSince = time.Time{}
		d.state.WasOffline = true
	} else {
		d.state.OfflineSince = now
	}
	d.persistLocked()
	snapshot := d.state
	listeners := make([]Listener, 0, len(d.listeners))
	for _, l := range d.listeners {
		listeners = append(listeners, l)
	}
	d.mu.Unlock()

	kind := bus.KindNetworkOffline
	if online {
		kind = bus.KindNetworkOnline
		d.logger.Info("network online")
	} else {
		d.logger.Warn("network offline")
	}
	d.metrics.NetworkTransition(online)
	d.bus.Publish(bus.Event{Kind: kind, Timestamp: now, Payload: snapshot})
	for _, l := range listeners {
		l(snapshot)
	}
}

// IsOnline reports the current reachability.
func (d *Detector) IsOnline() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state.IsOnline
}

// State returns a snapshot of the current state.
func (d *Detector) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Subscribe registers l for transitions and returns its unsubscribe func.
func (d *Detector) Subscribe(l Listener) func() {
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.listeners[id] = l
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.listeners, id)
			d.mu.Unlock()
		})
	}
}

// OfflineDuration is how long the detector has been offline, or zero while
// online.
func (d *Detector) OfflineDuration() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state.IsOnline || d.state.OfflineSince.IsZero() {
		return 0
	}
	return d.clock.Now().Sub(d.state.OfflineSince)
}

// TimeSinceOnline is the time since the last recorded online moment, or
// zero while online.
func (d *Detector) TimeSinceOnline() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state.IsOnline || d.state.LastOnlineAt.IsZero() {
		return 0
	}
	return d.clock.Now().Sub(d.state.LastOnlineAt)
}
