/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package netutil contains network helpers of the connection layer.
package netutil

import (
	"context"
	"net"
	"sync/atomic"
	"time"
)

// NewCustomDNSResolver creates a resolver that sends DNS queries to the given servers ("host:port")
// in round-robin order instead of the system ones.
//
// Example of usage with a pooled transport:
//
//	resolver := netutil.NewCustomDNSResolver([]string{"10.0.0.2:53", "10.0.0.3:53"}, 2*time.Second)
//	dialer := &net.Dialer{Timeout: 30 * time.Second, Resolver: resolver}
//	transport := &http.Transport{DialContext: dialer.DialContext}
func NewCustomDNSResolver(addrs []string, timeout time.Duration) *net.Resolver {
	var (
		idx      = uint32(0)
		addrsLen = uint32(len(addrs)) //nolint:gosec // address count is reasonable
	)

	return &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
			d := net.Dialer{Timeout: timeout}

			addr := addrs[atomic.AddUint32(&idx, 1)%addrsLen]

			return d.DialContext(ctx, "udp", addr)
		},
	}
}
