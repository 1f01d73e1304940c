/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/acronis/go-keyprobe/log"
	"github.com/acronis/go-keyprobe/probe"
)

// AttemptFunc performs a single attempt. attempt starts from 1.
type AttemptFunc func(ctx context.Context, attempt int) (probe.Outcome, error)

// Attempt describes a failed attempt that is going to be retried.
type Attempt struct {
	Number  int
	Outcome probe.Outcome
	Err     error
	Delay   time.Duration
}

// Notify is called for every failed attempt that is going to be retried.
type Notify func(Attempt)

type decision int

const (
	// decisionFastFail stops on a 400/401/403/404 answer. The breaker records it as a
	// success: the provider answered, and a rejected credential says nothing about
	// provider health. Only retryable outcomes that exhaust the budget count as failures.
	decisionFastFail decision = iota
	decisionRetry
	decisionTerminal
)

// SupervisorOpts represents options for the Supervisor.
type SupervisorOpts struct {
	Logger  log.FieldLogger
	Metrics MetricsCollector

	// Policy overrides the exponential policy built from the configuration.
	Policy Policy

	// Clock, Rand and Sleep make the supervisor deterministic in tests.
	Clock func() time.Time
	Rand  func() float64
	Sleep func(ctx context.Context, d time.Duration) error
}

// Supervisor executes attempt chains with classification, backoff with jitter and per-provider circuit breakers.
type Supervisor struct {
	mu  sync.RWMutex
	cfg Config

	breakers *BreakerSet
	logger   log.FieldLogger
	metrics  MetricsCollector
	policy   Policy
	clock    func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error

	randMu sync.Mutex
	rand   func() float64
}

// NewSupervisor creates a new Supervisor.
func NewSupervisor(cfg Config, opts SupervisorOpts) (*Supervisor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retry config: %w", err)
	}
	s := &Supervisor{
		cfg:     cfg,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		policy:  opts.Policy,
		clock:   opts.Clock,
		rand:    opts.Rand,
		sleep:   opts.Sleep,
	}
	if s.logger == nil {
		s.logger = log.NewDisabledLogger()
	}
	if s.metrics == nil {
		s.metrics = disabledMetrics{}
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	if s.rand == nil {
		s.rand = rand.New(rand.NewSource(time.Now().UnixNano())).Float64 // nolint: gosec // jitter only
	}
	s.breakers = NewBreakerSet(cfg.Breaker, s.clock)
	s.breakers.onTransition = func(provider string, state BreakerState) {
		s.metrics.SetBreakerOpen(provider, state == BreakerOpen)
		s.logger.Warn("provider circuit breaker state changed",
			log.String("provider", provider), log.String("state", state.String()))
	}
	return s, nil
}

// Config returns a copy of the current configuration.
func (s *Supervisor) Config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Reconfigure applies a new configuration to subsequent attempts.
func (s *Supervisor) Reconfigure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid retry config: %w", err)
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	s.breakers.Reconfigure(cfg.Breaker)
	return nil
}

// Breakers returns the per-provider circuit breakers.
func (s *Supervisor) Breakers() *BreakerSet {
	return s.breakers
}

// ExecuteWithRetry runs attemptFn until it succeeds, fails terminally or the retry budget is exhausted.
// It returns the last Outcome and a nil error on success. On failure the error is classifiable by probe.Classify:
// a CircuitOpenError if the provider breaker is open, probe.ErrCancelled if the stop signal from the context
// was observed. Attempts are strictly sequential and never exceed MaxRetries+1.
func (s *Supervisor) ExecuteWithRetry(
	ctx context.Context, task *probe.Task, providerTag string, attemptFn AttemptFunc,
) (probe.Outcome, error) {
	cfg := s.Config()
	policy := s.policy
	if policy == nil {
		policy = NewExponentialBackoffPolicy(cfg)
	}
	bo := policy.NewBackOff()
	stop := GetStopSignalFromContext(ctx)
	notify := GetNotifyFromContext(ctx)
	logger := s.logger.With(log.String("provider", providerTag))
	if task != nil {
		logger = logger.With(log.String("task_id", task.ID))
	}

	var last probe.Outcome
	for attempt := 1; ; attempt++ {
		if attempt > 1 && isStopped(stop) {
			return last, fmt.Errorf("stopped before attempt %d: %w", attempt, probe.ErrCancelled)
		}
		if err := ctx.Err(); err != nil {
			return last, fmt.Errorf("%w: %w", probe.ErrCancelled, err)
		}
		if !s.breakers.Allow(providerTag) {
			s.metrics.IncCircuitRejections(providerTag)
			err := probe.CircuitOpenError(providerTag)
			if attempt == 1 {
				last = probe.Outcome{Kind: probe.OutcomeRateLimited, Class: probe.ClassCircuitOpen, Message: err.Error()}
			}
			return last, err
		}

		if task != nil {
			task.Attempts++
		}
		outcome, err := s.runAttempt(ctx, attemptFn, attempt)
		if err == nil {
			s.breakers.RecordSuccess(providerTag)
			s.metrics.IncAttempts(providerTag, "success")
			return outcome, nil
		}
		last = outcome

		s.metrics.IncAttempts(providerTag, string(outcome.Class))
		switch s.decide(cfg, outcome) {
		case decisionFastFail:
			// The provider answered; a bad credential says nothing about provider health.
			s.breakers.RecordSuccess(providerTag)
			logger.Debug("attempt failed, not retryable", log.Int("attempt", attempt), log.Int("status_code", outcome.StatusCode))
			return outcome, err

		case decisionRetry:
			delay := bo.NextBackOff()
			if delay == backoff.Stop {
				s.breakers.RecordFailure(providerTag)
				return outcome, fmt.Errorf("retries exhausted after %d attempts: %w", attempt, err)
			}
			delay = s.shapeDelay(cfg, delay, outcome.Class)
			s.metrics.ObserveRetryDelay(providerTag, delay)
			logger.Debug("attempt failed, retrying",
				log.Int("attempt", attempt), log.String("class", string(outcome.Class)), log.Duration("delay", delay), log.Error(err))
			if notify != nil {
				notify(Attempt{Number: attempt, Outcome: outcome, Err: err, Delay: delay})
			}
			if sleepErr := s.wait(ctx, stop, delay); sleepErr != nil {
				return outcome, fmt.Errorf("%w: %w", probe.ErrCancelled, sleepErr)
			}

		default:
			if outcome.Class != probe.ClassCancelled {
				s.breakers.RecordFailure(providerTag)
			}
			return outcome, err
		}
	}
}

// runAttempt calls attemptFn and normalizes its result: a failed Outcome becomes an error,
// an error fills the Outcome fields, a panic becomes a terminal error.
func (s *Supervisor) runAttempt(ctx context.Context, attemptFn AttemptFunc, attempt int) (outcome probe.Outcome, err error) {
	start := s.clock()
	defer func() {
		if p := recover(); p != nil {
			outcome = probe.Outcome{Kind: probe.OutcomeTerminalError, Class: probe.ClassUnknown}
			err = fmt.Errorf("%w: attempt panicked: %v", probe.ErrUnknown, p)
			outcome.Message = err.Error()
		}
		if outcome.Latency == 0 {
			outcome.Latency = s.clock().Sub(start)
		}
	}()

	outcome, err = attemptFn(ctx, attempt)
	if err == nil {
		err = outcome.Err()
	}
	if err == nil {
		return outcome, nil
	}

	c := probe.Classify(err)
	if outcome.StatusCode == 0 {
		outcome.StatusCode = c.Code
	}
	if outcome.Class == probe.ClassNone {
		outcome.Class = c.Class
	}
	if outcome.Message == "" {
		outcome.Message = err.Error()
	}
	if outcome.Kind == probe.OutcomeSuccess {
		outcome.Kind = kindForClass(outcome.Class)
	}
	return outcome, err
}

func kindForClass(class probe.Class) probe.OutcomeKind {
	switch class {
	case probe.ClassRateLimit, probe.ClassCircuitOpen:
		return probe.OutcomeRateLimited
	case probe.ClassServer, probe.ClassNetwork, probe.ClassMergeExpired:
		return probe.OutcomeRetryableError
	}
	return probe.OutcomeTerminalError
}

func (s *Supervisor) decide(cfg Config, outcome probe.Outcome) decision {
	if outcome.StatusCode != 0 {
		if containsCode(cfg.FastFailCodes, outcome.StatusCode) {
			return decisionFastFail
		}
		if containsCode(cfg.RetryableCodes, outcome.StatusCode) {
			return decisionRetry
		}
	}
	switch outcome.Class {
	case probe.ClassAuth, probe.ClassNotFound:
		if outcome.StatusCode == 0 {
			return decisionFastFail
		}
	case probe.ClassNetwork, probe.ClassMergeExpired:
		return decisionRetry
	case probe.ClassRateLimit, probe.ClassServer:
		// Only status codes listed as retryable are retried.
		if outcome.StatusCode == 0 {
			return decisionRetry
		}
	}
	return decisionTerminal
}

func containsCode(codes []int, code int) bool {
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}

// shapeDelay applies the priority factor (429 doubles the delay, network errors halve it),
// clamps to MaxDelay and adds a symmetric jitter of JitterFactor/2 of the delay.
// The result is always in [0, MaxDelay].
func (s *Supervisor) shapeDelay(cfg Config, delay time.Duration, class probe.Class) time.Duration {
	d := float64(delay)
	switch class {
	case probe.ClassRateLimit:
		d *= 2
	case probe.ClassNetwork:
		d *= 0.5
	}
	maxDelay := float64(cfg.MaxDelay)
	if d > maxDelay {
		d = maxDelay
	}
	if cfg.JitterFactor > 0 {
		s.randMu.Lock()
		r := s.rand()
		s.randMu.Unlock()
		d += d * cfg.JitterFactor * (r - 0.5)
	}
	if d < 0 {
		d = 0
	}
	if d > maxDelay {
		d = maxDelay
	}
	return time.Duration(d)
}

var errStopped = errors.New("stop signal received")

func (s *Supervisor) wait(ctx context.Context, stop <-chan struct{}, d time.Duration) error {
	if s.sleep != nil {
		if err := s.sleep(ctx, d); err != nil {
			return err
		}
		if isStopped(stop) {
			return errStopped
		}
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-stop:
		return errStopped
	case <-timer.C:
		return nil
	}
}
