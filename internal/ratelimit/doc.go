/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package ratelimit provides keyed GCRA (leaky bucket) rate limiting for outbound calls.
//
// Limits are declared per destination host with glob patterns (HostRule). A HostLimiter picks the
// first matching rule for the host, and Wait blocks the caller until the limiter admits the call
// or the wait budget is spent.
package ratelimit
