/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package retry

import (
	"sort"
	"sync"
	"time"
)

// BreakerState is a state of a provider circuit breaker.
type BreakerState int

// Breaker states. There is no half-open state: an open breaker closes with cleared counters once its window elapses.
const (
	BreakerClosed BreakerState = iota
	BreakerOpen
)

func (s BreakerState) String() string {
	if s == BreakerOpen {
		return "open"
	}
	return "closed"
}

type breakerSample struct {
	at     time.Time
	failed bool
}

type breaker struct {
	state     BreakerState
	openSince time.Time
	samples   []breakerSample
	failures  int
}

// prune drops samples older than window. Samples are appended in time order.
func (b *breaker) prune(now time.Time, window time.Duration) {
	i := 0
	for i < len(b.samples) && now.Sub(b.samples[i].at) > window {
		if b.samples[i].failed {
			b.failures--
		}
		i++
	}
	if i > 0 {
		b.samples = append(b.samples[:0], b.samples[i:]...)
	}
}

func (b *breaker) reset() {
	b.state = BreakerClosed
	b.openSince = time.Time{}
	b.samples = b.samples[:0]
	b.failures = 0
}

func (b *breaker) failureRatio() float64 {
	if len(b.samples) == 0 {
		return 0
	}
	return float64(b.failures) / float64(len(b.samples))
}

// BreakerSnapshot is a point-in-time view of a provider breaker.
type BreakerSnapshot struct {
	Provider     string
	State        BreakerState
	OpenSince    time.Time
	Samples      int
	FailureRatio float64
}

// BreakerSet holds one circuit breaker per provider tag.
type BreakerSet struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	breakers map[string]*breaker
	now      func() time.Time

	// onTransition is called under the lock, it must not call back into the set.
	onTransition func(provider string, state BreakerState)
}

// NewBreakerSet creates a BreakerSet. A nil clock means time.Now.
func NewBreakerSet(cfg BreakerConfig, clock func() time.Time) *BreakerSet {
	if clock == nil {
		clock = time.Now
	}
	return &BreakerSet{cfg: cfg, breakers: make(map[string]*breaker), now: clock}
}

// Reconfigure replaces the breaker configuration. Existing samples are kept.
func (bs *BreakerSet) Reconfigure(cfg BreakerConfig) {
	bs.mu.Lock()
	bs.cfg = cfg
	bs.mu.Unlock()
}

func (bs *BreakerSet) get(provider string) *breaker {
	b, ok := bs.breakers[provider]
	if !ok {
		b = &breaker{}
		bs.breakers[provider] = b
	}
	return b
}

// checkExpiry closes an open breaker whose window has elapsed.
func (bs *BreakerSet) checkExpiry(provider string, b *breaker, now time.Time) {
	if b.state == BreakerOpen && now.Sub(b.openSince) >= bs.cfg.Window {
		b.reset()
		bs.notify(provider, BreakerClosed)
	}
}

func (bs *BreakerSet) notify(provider string, state BreakerState) {
	if bs.onTransition != nil {
		bs.onTransition(provider, state)
	}
}

// Allow reports whether calls to the provider are allowed.
func (bs *BreakerSet) Allow(provider string) bool {
	return bs.State(provider) == BreakerClosed
}

// State returns the current breaker state of the provider.
func (bs *BreakerSet) State(provider string) BreakerState {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	b, ok := bs.breakers[provider]
	if !ok {
		return BreakerClosed
	}
	bs.checkExpiry(provider, b, bs.now())
	return b.state
}

// RecordSuccess records a healthy provider response.
func (bs *BreakerSet) RecordSuccess(provider string) {
	bs.record(provider, false)
}

// RecordFailure records a provider failure and opens the breaker
// once there are at least MinSamples samples and the failure ratio exceeds FailureThreshold.
func (bs *BreakerSet) RecordFailure(provider string) {
	bs.record(provider, true)
}

func (bs *BreakerSet) record(provider string, failed bool) {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	now := bs.now()
	b := bs.get(provider)
	bs.checkExpiry(provider, b, now)
	b.prune(now, bs.cfg.Window)
	b.samples = append(b.samples, breakerSample{at: now, failed: failed})
	if failed {
		b.failures++
	}
	if !failed || b.state == BreakerOpen {
		return
	}
	if len(b.samples) >= bs.cfg.MinSamples && b.failureRatio() > bs.cfg.FailureThreshold {
		b.state = BreakerOpen
		b.openSince = now
		bs.notify(provider, BreakerOpen)
	}
}

// Snapshot returns the state of all known breakers sorted by provider.
func (bs *BreakerSet) Snapshot() []BreakerSnapshot {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	now := bs.now()
	res := make([]BreakerSnapshot, 0, len(bs.breakers))
	for provider, b := range bs.breakers {
		bs.checkExpiry(provider, b, now)
		b.prune(now, bs.cfg.Window)
		res = append(res, BreakerSnapshot{
			Provider:     provider,
			State:        b.state,
			OpenSince:    b.openSince,
			Samples:      len(b.samples),
			FailureRatio: b.failureRatio(),
		})
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Provider < res[j].Provider })
	return res
}
