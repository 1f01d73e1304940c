/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/vasayxtx/go-glob"
)

// DefaultMaxKeys is the default number of keys a HostLimiter keeps state for.
const DefaultMaxKeys = 10000

// HostRule limits calls to the hosts matching any of the glob patterns.
// Every matching host has its own bucket.
type HostRule struct {
	Hosts       HostList      `mapstructure:"hosts" yaml:"hosts" json:"hosts"`
	Rate        Rate          `mapstructure:"rate" yaml:"rate" json:"rate"`
	Burst       int           `mapstructure:"burst" yaml:"burst" json:"burst"`
	WaitTimeout time.Duration `mapstructure:"waitTimeout" yaml:"waitTimeout" json:"waitTimeout"`
}

// Validate validates the rule.
func (r HostRule) Validate() error {
	if len(r.Hosts) == 0 {
		return fmt.Errorf("hosts should not be empty")
	}
	if r.Rate.IsZero() {
		return fmt.Errorf("rate should be set")
	}
	if r.Burst < 0 {
		return fmt.Errorf("burst should be >= 0")
	}
	if r.WaitTimeout < 0 {
		return fmt.Errorf("waitTimeout should be >= 0")
	}
	return nil
}

type compiledRule struct {
	matchers    []func(string) bool
	limiter     Limiter
	waitTimeout time.Duration
}

// HostLimiter applies the first HostRule matching a host.
type HostLimiter struct {
	rules []compiledRule
}

// NewHostLimiter compiles the rules. Hosts matching no rule are not limited.
func NewHostLimiter(rules []HostRule, maxKeys int) (*HostLimiter, error) {
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}
	hl := &HostLimiter{rules: make([]compiledRule, 0, len(rules))}
	for i, rule := range rules {
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("rule #%d: %w", i, err)
		}
		limiter, err := NewLeakyBucketLimiter(rule.Rate, LeakyBucketOpts{Burst: rule.Burst, MaxKeys: maxKeys})
		if err != nil {
			return nil, fmt.Errorf("rule #%d: %w", i, err)
		}
		cr := compiledRule{limiter: limiter, waitTimeout: rule.WaitTimeout}
		for _, pattern := range rule.Hosts {
			cr.matchers = append(cr.matchers, glob.Compile(pattern))
		}
		hl.rules = append(hl.rules, cr)
	}
	return hl, nil
}

// Wait blocks until the host is allowed a call. It returns nil right away for unlimited hosts.
func (hl *HostLimiter) Wait(ctx context.Context, host string) error {
	rule := hl.match(host)
	if rule == nil {
		return nil
	}
	return Wait(ctx, rule.limiter, host, rule.waitTimeout)
}

func (hl *HostLimiter) match(host string) *compiledRule {
	for i := range hl.rules {
		for _, m := range hl.rules[i].matchers {
			if m(host) {
				return &hl.rules[i]
			}
		}
	}
	return nil
}
