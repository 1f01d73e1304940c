/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package admission

import (
	"container/list"
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/acronis/go-keyprobe/log"
	"github.com/acronis/go-keyprobe/probe"
)

// Reason explains an adjustment decision.
type Reason string

// Adjustment reasons in the order they are evaluated.
const (
	ReasonInsufficientSamples Reason = "insufficientSamples"
	ReasonRateLimited         Reason = "rateLimited"
	ReasonLowSuccessRate      Reason = "lowSuccessRate"
	ReasonHighLatency         Reason = "highLatency"
	ReasonHealthy             Reason = "healthy"
	ReasonSteady              Reason = "steady"
)

// Decrease factors.
const (
	rateLimitedFactor    = 0.7
	lowSuccessRateFactor = 0.8
	highLatencyFactor    = 0.9
)

// Slot is an admission ticket. It must be returned with Controller.Release.
type Slot struct {
	ID         string
	AcquiredAt time.Time
	TaskID     string

	released bool
}

// Decision is the result of Controller.Adjust.
type Decision struct {
	Reason Reason
	From   int
	To     int
	Stats  WindowStats
}

// Changed reports whether the limit was changed.
func (d Decision) Changed() bool {
	return d.From != d.To
}

// Snapshot is a point-in-time view of the controller.
type Snapshot struct {
	Limit   int
	Running int
	Waiting int
	Stats   WindowStats
}

// Opts represents options for the Controller.
type Opts struct {
	Logger  log.FieldLogger
	Metrics MetricsCollector
	Clock   func() time.Time
}

type waiter struct {
	taskID  string
	ready   chan *Slot
	granted bool
}

// Controller owns the admission limit and adapts it to the observed outcomes (AIMD).
// At most Limit slots are live at once, callers beyond it wait in FIFO order.
// A shrinking limit never evicts live slots, it only delays subsequent acquires.
type Controller struct {
	mu      sync.Mutex
	cfg     Config
	limit   int
	running int
	waiters *list.List
	window  *MetricsWindow

	logger  log.FieldLogger
	metrics MetricsCollector
	clock   func() time.Time
}

// NewController creates a new Controller.
func NewController(cfg Config, opts Opts) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid admission config: %w", err)
	}
	c := &Controller{
		cfg:     cfg,
		limit:   cfg.InitialLimit,
		waiters: list.New(),
		window:  NewMetricsWindow(cfg.WindowCapacity, cfg.WindowMaxAge),
		logger:  opts.Logger,
		metrics: opts.Metrics,
		clock:   opts.Clock,
	}
	if c.logger == nil {
		c.logger = log.NewDisabledLogger()
	}
	if c.metrics == nil {
		c.metrics = disabledMetrics{}
	}
	if c.clock == nil {
		c.clock = time.Now
	}
	c.metrics.SetLimit(c.limit)
	return c, nil
}

// Acquire returns a slot as soon as one is available. It returns ctx.Err() if the context is done first.
func (c *Controller) Acquire(ctx context.Context, taskID string) (*Slot, error) {
	start := c.clock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.running < c.limit && c.waiters.Len() == 0 {
		slot := c.grantLocked(taskID)
		c.mu.Unlock()
		c.metrics.ObserveAcquireWait(0)
		return slot, nil
	}
	w := &waiter{taskID: taskID, ready: make(chan *Slot, 1)}
	elem := c.waiters.PushBack(w)
	c.metrics.SetWaiting(c.waiters.Len())
	c.mu.Unlock()

	select {
	case slot := <-w.ready:
		c.metrics.ObserveAcquireWait(c.clock().Sub(start))
		return slot, nil
	case <-ctx.Done():
		c.mu.Lock()
		if !w.granted {
			c.waiters.Remove(elem)
			c.metrics.SetWaiting(c.waiters.Len())
			c.mu.Unlock()
			return nil, ctx.Err()
		}
		c.mu.Unlock()
		// The slot was granted concurrently, give it back.
		c.Release(<-w.ready, nil)
		return nil, ctx.Err()
	}
}

// Release frees the slot and records the outcome if it is not nil. Releasing a slot twice is a no-op.
func (c *Controller) Release(slot *Slot, outcome *probe.Outcome) {
	if slot == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if slot.released {
		return
	}
	slot.released = true
	c.running--
	if outcome != nil {
		c.window.Add(c.clock(), *outcome)
	}
	c.dispatchLocked()
	c.metrics.SetRunning(c.running)
}

// Record adds an intermediate attempt outcome to the metrics window.
func (c *Controller) Record(outcome probe.Outcome) {
	c.mu.Lock()
	c.window.Add(c.clock(), outcome)
	c.mu.Unlock()
}

// Adjust recomputes the limit from the metrics window. It is a no-op until the window holds
// at least MeasurementWindow samples. The first matching rule wins:
// throttling above RateLimitThreshold, success rate below SuccessRateThreshold and
// latency above LatencyThreshold shrink the limit, a healthy window grows it.
// The window is cleared after every change, so each decision is made on fresh samples.
// A second decrease therefore waits for MeasurementWindow new outcomes even when the
// provider keeps throttling, which slows down back-to-back shrinking under sparse traffic.
func (c *Controller) Adjust() Decision {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.window.Prune(c.clock())
	stats := c.window.Stats()
	d := Decision{From: c.limit, To: c.limit, Stats: stats}
	if stats.Samples < c.cfg.MeasurementWindow {
		d.Reason = ReasonInsufficientSamples
		return d
	}

	cfg := &c.cfg
	switch {
	case stats.RateLimitRatio > cfg.RateLimitThreshold:
		d.Reason, d.To = ReasonRateLimited, scaleDown(c.limit, rateLimitedFactor)
	case stats.SuccessRate < cfg.SuccessRateThreshold:
		d.Reason, d.To = ReasonLowSuccessRate, scaleDown(c.limit, lowSuccessRateFactor)
	case stats.AvgLatency > cfg.LatencyThreshold:
		d.Reason, d.To = ReasonHighLatency, scaleDown(c.limit, highLatencyFactor)
	case stats.SuccessRate > cfg.HighSuccessRateThreshold && stats.AvgLatency < cfg.LatencyThreshold/2:
		d.Reason, d.To = ReasonHealthy, scaleUp(c.limit, cfg.Mode)
	default:
		d.Reason = ReasonSteady
	}
	d.To = clamp(d.To, cfg.MinLimit, cfg.MaxLimit)
	c.metrics.IncAdjustments(d.Reason)
	if !d.Changed() {
		return d
	}

	c.setLimitLocked(d.To)
	c.window.Reset()
	c.logger.Info("admission limit adjusted",
		log.Int("from", d.From), log.Int("to", d.To), log.String("reason", string(d.Reason)),
		log.Int("samples", stats.Samples), log.Float64("rate_limit_ratio", stats.RateLimitRatio),
		log.Float64("success_rate", stats.SuccessRate), log.Int64("avg_latency_ms", stats.AvgLatency.Milliseconds()))
	return d
}

// Reconfigure applies a new configuration. The current limit is kept but clamped to the new bounds.
func (c *Controller) Reconfigure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid admission config: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = cfg
	c.window.Resize(cfg.WindowCapacity, cfg.WindowMaxAge)
	c.setLimitLocked(clamp(c.limit, cfg.MinLimit, cfg.MaxLimit))
	return nil
}

// Config returns a copy of the current configuration.
func (c *Controller) Config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// Limit returns the current admission limit.
func (c *Controller) Limit() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.limit
}

// Snapshot returns the controller state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{Limit: c.limit, Running: c.running, Waiting: c.waiters.Len(), Stats: c.window.Stats()}
}

func (c *Controller) setLimitLocked(limit int) {
	grew := limit > c.limit
	c.limit = limit
	c.metrics.SetLimit(limit)
	if grew {
		c.dispatchLocked()
	}
}

func (c *Controller) grantLocked(taskID string) *Slot {
	c.running++
	c.metrics.SetRunning(c.running)
	return &Slot{ID: xid.New().String(), AcquiredAt: c.clock(), TaskID: taskID}
}

// dispatchLocked hands free slots to waiters in FIFO order.
func (c *Controller) dispatchLocked() {
	for c.running < c.limit && c.waiters.Len() > 0 {
		w := c.waiters.Remove(c.waiters.Front()).(*waiter)
		w.granted = true
		w.ready <- c.grantLocked(w.taskID)
	}
	c.metrics.SetWaiting(c.waiters.Len())
}

func scaleDown(limit int, factor float64) int {
	return int(math.Floor(float64(limit) * factor))
}

// scaleUp multiplies the limit by the mode factor. Conservative mode grows by at least one,
// so small limits are not stuck; aggressive mode keeps the plain floor(limit x 1.5).
func scaleUp(limit int, mode Mode) int {
	next := int(math.Floor(float64(limit) * mode.scale()))
	if mode == ModeConservative && next <= limit {
		next = limit + 1
	}
	return next
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
