/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/throttled/throttled/v2"
	"github.com/throttled/throttled/v2/store/memstore"
)

// Limiter admits or rejects a call identified by key.
// A rejected call gets the duration after which asking again may succeed.
type Limiter interface {
	Allow(ctx context.Context, key string) (allow bool, retryAfter time.Duration, err error)
}

// LeakyBucketOpts configures a LeakyBucketLimiter.
type LeakyBucketOpts struct {
	// Burst is the number of calls admitted on top of the steady rate.
	Burst int
	// MaxKeys bounds the number of buckets kept in memory, least recently used are evicted.
	MaxKeys int
}

// LeakyBucketLimiter keeps one GCRA bucket per key (see https://brandur.org/rate-limiting#gcra).
type LeakyBucketLimiter struct {
	gcra  *throttled.GCRARateLimiterCtx
	rate  Rate
	burst int
}

var _ Limiter = (*LeakyBucketLimiter)(nil)

// NewLeakyBucketLimiter creates a limiter admitting calls at the given rate per key.
func NewLeakyBucketLimiter(rate Rate, opts LeakyBucketOpts) (*LeakyBucketLimiter, error) {
	if rate.IsZero() {
		return nil, errors.New("rate should be set")
	}
	if opts.MaxKeys <= 0 {
		opts.MaxKeys = DefaultMaxKeys
	}
	store, err := memstore.NewCtx(opts.MaxKeys)
	if err != nil {
		return nil, fmt.Errorf("create buckets store: %w", err)
	}
	gcra, err := throttled.NewGCRARateLimiterCtx(store, throttled.RateQuota{
		MaxRate:  throttled.PerDuration(rate.Count, rate.Duration),
		MaxBurst: opts.Burst,
	})
	if err != nil {
		return nil, fmt.Errorf("create GCRA limiter: %w", err)
	}
	return &LeakyBucketLimiter{gcra: gcra, rate: rate, burst: opts.Burst}, nil
}

// Allow takes one cell from the key's bucket if it is not full.
func (l *LeakyBucketLimiter) Allow(ctx context.Context, key string) (allow bool, retryAfter time.Duration, err error) {
	limited, res, err := l.gcra.RateLimitCtx(ctx, key, 1)
	if err != nil {
		return false, 0, err
	}
	if limited {
		return false, res.RetryAfter, nil
	}
	return true, 0, nil
}

// String describes the limiter, e.g. "10/s, burst 5".
func (l *LeakyBucketLimiter) String() string {
	return fmt.Sprintf("%s, burst %d", l.rate, l.burst)
}
