/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpclient

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/acronis/go-keyprobe/internal/ratelimit"
	"github.com/acronis/go-keyprobe/probe"
)

// RateLimitingRoundTripper delays outgoing requests to keep each destination host within its rate limit rule.
// Hosts matching no rule are not limited.
type RateLimitingRoundTripper struct {
	Delegate http.RoundTripper

	limiter *ratelimit.HostLimiter
}

// NewRateLimitingRoundTripper creates a new RateLimitingRoundTripper with the per-host rules.
func NewRateLimitingRoundTripper(delegate http.RoundTripper, rules []RateLimitRule) (*RateLimitingRoundTripper, error) {
	limiter, err := ratelimit.NewHostLimiter(rules, ratelimit.DefaultMaxKeys)
	if err != nil {
		return nil, fmt.Errorf("create host rate limiter: %w", err)
	}
	return &RateLimitingRoundTripper{Delegate: delegate, limiter: limiter}, nil
}

// RoundTrip executes a single HTTP transaction, returning a Response for the provided Request.
func (rt *RateLimitingRoundTripper) RoundTrip(r *http.Request) (*http.Response, error) {
	if err := rt.limiter.Wait(r.Context(), r.URL.Host); err != nil {
		if r.Body != nil {
			_ = r.Body.Close() // Per RoundTripper contract.
		}
		if errors.Is(err, ratelimit.ErrWaitTimeout) {
			return nil, &RateLimitingWaitError{Inner: err}
		}
		return nil, err
	}
	return rt.Delegate.RoundTrip(r)
}

// RateLimitingWaitError is returned in RoundTrip method of RateLimitingRoundTripper
// when the request is not admitted within the rule's wait timeout.
// It is classified as a rate limit failure, so the call is retried with backoff.
type RateLimitingWaitError struct {
	Inner error
}

func (e *RateLimitingWaitError) Error() string {
	return fmt.Sprintf("wait due to client side rate limiting: %s", e.Inner.Error())
}

// Unwrap returns the errors the wait error matches: the limiter error and probe.ErrRateLimit.
func (e *RateLimitingWaitError) Unwrap() []error {
	return []error{e.Inner, probe.ErrRateLimit}
}
