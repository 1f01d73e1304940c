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
)

// ErrWaitTimeout is returned by Wait when the limiter does not admit the call within the wait budget.
var ErrWaitTimeout = errors.New("rate limit wait timeout")

// WaitError is returned by Wait when the call is not admitted in time.
type WaitError struct {
	Key        string
	RetryAfter time.Duration
}

// Error returns a string representation of the error.
func (e *WaitError) Error() string {
	return fmt.Sprintf("%s for key %q (retry after %s)", ErrWaitTimeout, e.Key, e.RetryAfter)
}

// Unwrap returns ErrWaitTimeout.
func (e *WaitError) Unwrap() error {
	return ErrWaitTimeout
}

// Wait blocks until the limiter admits the call for the key.
// maxWait bounds the total wait time, zero means the call is rejected as soon as it is limited.
// The wait may be interrupted by the context.
func Wait(ctx context.Context, limiter Limiter, key string, maxWait time.Duration) error {
	var deadline <-chan time.Time
	if maxWait > 0 {
		deadlineTimer := time.NewTimer(maxWait)
		defer deadlineTimer.Stop()
		deadline = deadlineTimer.C
	}
	start := time.Now()

	for {
		allow, retryAfter, err := limiter.Allow(ctx, key)
		if err != nil {
			return fmt.Errorf("rate limit for key %q: %w", key, err)
		}
		if allow {
			return nil
		}
		if deadline == nil || time.Since(start)+retryAfter > maxWait {
			return &WaitError{Key: key, RetryAfter: retryAfter}
		}

		retryTimer := time.NewTimer(retryAfter)
		select {
		case <-retryTimer.C:
		case <-deadline:
			retryTimer.Stop()
			return &WaitError{Key: key, RetryAfter: retryAfter}
		case <-ctx.Done():
			retryTimer.Stop()
			return ctx.Err()
		}
	}
}
