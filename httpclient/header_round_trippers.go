/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpclient

import (
	"context"
	"net/http"

	"github.com/rs/xid"
)

// HeaderRequestID is the header carrying the request ID.
const HeaderRequestID = "X-Request-ID"

// UserAgentUpdateStrategy represents a strategy for updating User-Agent HTTP header.
type UserAgentUpdateStrategy int

// User-Agent update strategies.
const (
	UserAgentUpdateStrategySetIfEmpty UserAgentUpdateStrategy = iota
	UserAgentUpdateStrategyAppend
	UserAgentUpdateStrategyPrepend
)

func (s UserAgentUpdateStrategy) apply(current, userAgent string) string {
	switch {
	case current == "":
		return userAgent
	case s == UserAgentUpdateStrategyAppend:
		return current + " " + userAgent
	case s == UserAgentUpdateStrategyPrepend:
		return userAgent + " " + current
	}
	return current
}

// UserAgentRoundTripper sets the User-Agent header of outgoing requests.
type UserAgentRoundTripper struct {
	Delegate       http.RoundTripper
	UserAgent      string
	UpdateStrategy UserAgentUpdateStrategy
}

// NewUserAgentRoundTripper creates a new UserAgentRoundTripper.
func NewUserAgentRoundTripper(
	delegate http.RoundTripper, userAgent string, strategy UserAgentUpdateStrategy,
) *UserAgentRoundTripper {
	return &UserAgentRoundTripper{Delegate: delegate, UserAgent: userAgent, UpdateStrategy: strategy}
}

// RoundTrip executes a single HTTP transaction, returning a Response for the provided Request.
func (rt *UserAgentRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	current := req.Header.Get("User-Agent")
	userAgent := rt.UpdateStrategy.apply(current, rt.UserAgent)
	if userAgent == current {
		return rt.Delegate.RoundTrip(req)
	}
	req = CloneHTTPRequest(req) // Per RoundTripper contract.
	req.Header.Set("User-Agent", userAgent)
	return rt.Delegate.RoundTrip(req)
}

// RequestIDRoundTripper puts the X-Request-ID header into outgoing requests that have none.
type RequestIDRoundTripper struct {
	Delegate http.RoundTripper

	// RequestIDProvider returns the request ID. By default, the ID from the context is used or a new xid is generated.
	RequestIDProvider func(ctx context.Context) string
}

// NewRequestIDRoundTripper creates a new RequestIDRoundTripper.
func NewRequestIDRoundTripper(
	delegate http.RoundTripper, provider func(ctx context.Context) string,
) *RequestIDRoundTripper {
	if provider == nil {
		provider = defaultRequestID
	}
	return &RequestIDRoundTripper{Delegate: delegate, RequestIDProvider: provider}
}

func defaultRequestID(ctx context.Context) string {
	if id := GetRequestIDFromContext(ctx); id != "" {
		return id
	}
	return xid.New().String()
}

// RoundTrip adds X-Request-ID header to the request.
func (rt *RequestIDRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get(HeaderRequestID) != "" {
		return rt.Delegate.RoundTrip(req)
	}
	requestID := rt.RequestIDProvider(req.Context())
	if requestID == "" {
		return rt.Delegate.RoundTrip(req)
	}
	req = CloneHTTPRequest(req)
	req.Header.Set(HeaderRequestID, requestID)
	return rt.Delegate.RoundTrip(req)
}
