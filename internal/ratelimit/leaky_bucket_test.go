/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLeakyBucketLimiter_Allow(t *testing.T) {
	tests := []struct {
		name           string
		rate           Rate
		burst          int
		keys           []string
		wantAllowed    []bool
		wantMinRetryAt time.Duration
	}{
		{
			name:           "burst is admitted, then the call is limited",
			rate:           Rate{Count: 2, Duration: time.Second},
			burst:          1,
			keys:           []string{"api.openai.com", "api.openai.com", "api.openai.com"},
			wantAllowed:    []bool{true, true, false},
			wantMinRetryAt: time.Millisecond,
		},
		{
			name:           "every host has its own bucket",
			rate:           Rate{Count: 1, Duration: time.Minute},
			keys:           []string{"api.openai.com", "api.anthropic.com", "api.openai.com"},
			wantAllowed:    []bool{true, true, false},
			wantMinRetryAt: 30 * time.Second,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter, err := NewLeakyBucketLimiter(tt.rate, LeakyBucketOpts{Burst: tt.burst})
			require.NoError(t, err)
			for i, key := range tt.keys {
				allow, retryAfter, err := limiter.Allow(context.Background(), key)
				require.NoError(t, err)
				require.Equal(t, tt.wantAllowed[i], allow, "call #%d to %s", i, key)
				if allow {
					require.Zero(t, retryAfter)
				} else {
					require.GreaterOrEqual(t, retryAfter, tt.wantMinRetryAt)
				}
			}
		})
	}
}

func TestNewLeakyBucketLimiter(t *testing.T) {
	_, err := NewLeakyBucketLimiter(Rate{}, LeakyBucketOpts{Burst: 1})
	require.EqualError(t, err, "rate should be set")

	limiter, err := NewLeakyBucketLimiter(Rate{Count: 10, Duration: time.Second}, LeakyBucketOpts{Burst: 5})
	require.NoError(t, err)
	require.Equal(t, "10/s, burst 5", limiter.String())
}
