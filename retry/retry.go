/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package retry

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy defines backoff strategy.
type Policy interface {
	NewBackOff() backoff.BackOff
}

// The PolicyFunc type is an adapter to allow the use of ordinary functions as retry.Policy.
type PolicyFunc func() backoff.BackOff

// NewBackOff implements retry.Policy.
func (f PolicyFunc) NewBackOff() backoff.BackOff {
	return f()
}

// ExponentialBackoffPolicy produces InitialInterval * Multiplier^(n-1) for the n-th retry
// without randomization (jitter is applied by the Supervisor after the priority factor)
// and stops after MaxRetries retries.
type ExponentialBackoffPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	MaxRetries      int
}

// NewExponentialBackoffPolicy returns an exponential backoff policy built from the retry configuration.
func NewExponentialBackoffPolicy(cfg Config) ExponentialBackoffPolicy {
	return ExponentialBackoffPolicy{
		InitialInterval: cfg.BaseDelay,
		// The priority factor may halve the interval, so let it grow past MaxDelay before the final clamp.
		MaxInterval: 2 * cfg.MaxDelay,
		Multiplier:  cfg.BackoffMultiplier,
		MaxRetries:  cfg.MaxRetries,
	}
}

// NewBackOff implements retry.Policy.
func (p ExponentialBackoffPolicy) NewBackOff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialInterval
	eb.Multiplier = p.Multiplier
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0
	if p.MaxInterval > 0 {
		eb.MaxInterval = p.MaxInterval
	}
	var bf backoff.BackOff = backoff.WithMaxRetries(eb, uint64(max(p.MaxRetries, 0)))
	bf.Reset()
	return bf
}
