package cache

import (
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/matheus3301/officechat/internal/clock"
	"go.uber.org/zap"
)

// DefaultPurgeCron purges expired entries every quarter hour.
const DefaultPurgeCron = "*/15 * * * *"

// Janitor periodically purges expired and corrupted entries on a cron
// schedule, so entries nobody reads again do not hold space forever.
type Janitor struct {
	cache  *Manager
	expr   string
	clock  clock.Clock
	logger *zap.Logger

	mu      sync.Mutex
	timer   clock.Timer
	stopped bool
	runs    int
}

// NewJanitor validates expr and returns an idle janitor.
func NewJanitor(m *Manager, expr string, clk clock.Clock, logger *zap.Logger) (*Janitor, error) {
	if expr == "" {
		expr = DefaultPurgeCron
	}
	if !gronx.IsValid(expr) {
		return nil, fmt.Errorf("invalid cache purge cron expression: %s", expr)
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Janitor{cache: m, expr: expr, clock: clk, logger: logger}, nil
}

// Start arms the first tick.
func (j *Janitor) Start() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.stopped = false
	j.scheduleLocked()
}

// Stop cancels the pending tick.
func (j *Janitor) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.stopped = true
	if j.timer != nil {
		j.timer.Stop()
		j.timer = nil
	}
}

// Runs reports how many purge passes have completed.
func (j *Janitor) Runs() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.runs
}

func (j *Janitor) scheduleLocked() {
	if j.timer != nil {
		j.timer.Stop()
	}
	now := j.clock.Now()
	next, err := gronx.NextTickAfter(j.expr, now, false)
	if err != nil {
		j.logger.Error("cache janitor next tick", zap.String("cron", j.expr), zap.Error(err))
		next = now.Add(time.Minute)
	}
	j.timer = j.clock.AfterFunc(next.Sub(now), j.tick)
}

func (j *Janitor) tick() {
	removed := j.cache.PurgeExpired()
	if removed > 0 {
		j.logger.Info("cache janitor purged entries", zap.Int("removed", removed))
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.runs++
	if !j.stopped {
		j.scheduleLocked()
	}
}
