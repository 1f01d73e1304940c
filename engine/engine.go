/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/acronis/go-keyprobe/admission"
	"github.com/acronis/go-keyprobe/httpclient"
	"github.com/acronis/go-keyprobe/log"
	"github.com/acronis/go-keyprobe/probe"
	"github.com/acronis/go-keyprobe/retry"
	"github.com/acronis/go-keyprobe/service"
)

// ErrClosed is returned by Start after the engine is closed.
var ErrClosed = errors.New("engine is closed")

// Opts represents options for the Engine.
type Opts struct {
	Logger log.FieldLogger

	// Metrics is used by the engine and all of its components. Metrics are not collected when it is nil.
	Metrics *PrometheusMetrics

	// Registry replaces the built-in HTTP providers.
	Registry *probe.Registry

	// Clock, Rand and Sleep make the engine deterministic in tests.
	Clock func() time.Time
	Rand  func() float64
	Sleep func(ctx context.Context, d time.Duration) error

	// NewConnTransport creates the transport of a new pooled connection.
	NewConnTransport func(host string) *http.Transport
}

// Engine validates batches of credentials. Each Engine owns its components, engines are independent.
type Engine struct {
	mu     sync.Mutex
	cfg    *Config
	closed bool

	logger     log.FieldLogger
	clock      func() time.Time
	controller *admission.Controller
	supervisor *retry.Supervisor
	client     *httpclient.Client
	registry   *probe.Registry
	dispatcher *Dispatcher
	reporters  *reporters
	metrics    MetricsCollector

	runsMu      sync.Mutex
	activeRuns  int
	stopWorkers context.CancelFunc
	workers     *errgroup.Group
}

// New creates a new Engine.
func New(cfg *Config, opts Opts) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	cfg = cfg.Clone()

	e := &Engine{cfg: cfg, logger: opts.Logger, clock: opts.Clock, reporters: &reporters{}, metrics: disabledMetrics{}}
	if e.logger == nil {
		e.logger = log.NewDisabledLogger()
	}
	if e.clock == nil {
		e.clock = time.Now
	}

	var (
		admissionMetrics admission.MetricsCollector
		retryMetrics     retry.MetricsCollector
		httpMetrics      httpclient.MetricsCollector
	)
	if opts.Metrics != nil {
		e.metrics = opts.Metrics
		admissionMetrics, retryMetrics, httpMetrics = opts.Metrics.Admission, opts.Metrics.Retry, opts.Metrics.HTTP
	}

	var err error
	if e.controller, err = admission.NewController(*cfg.Admission, admission.Opts{
		Logger: e.logger, Metrics: admissionMetrics, Clock: opts.Clock,
	}); err != nil {
		return nil, err
	}
	if e.supervisor, err = retry.NewSupervisor(*cfg.Retry, retry.SupervisorOpts{
		Logger: e.logger, Metrics: retryMetrics, Clock: opts.Clock, Rand: opts.Rand, Sleep: opts.Sleep,
	}); err != nil {
		return nil, err
	}
	if e.client, err = httpclient.NewWithOpts(cfg.Connection, httpclient.Opts{
		Logger:           e.logger,
		Collector:        httpMetrics,
		Clock:            opts.Clock,
		NewConnTransport: opts.NewConnTransport,
	}); err != nil {
		return nil, err
	}

	e.registry = opts.Registry
	if e.registry == nil {
		if e.registry, err = newHTTPRegistry(cfg.Dispatch.BaseURLs, e.client); err != nil {
			e.client.Close()
			return nil, err
		}
	}

	e.dispatcher = NewDispatcher(e.controller, e.supervisor, e.registry, DispatcherOpts{
		Logger:   e.logger,
		Metrics:  e.metrics,
		Reporter: e.reporters,
		Clock:    e.clock,
	})
	return e, nil
}

func newHTTPRegistry(baseURLs map[string]string, client probe.HTTPDoer) (*probe.Registry, error) {
	strategies := probe.Strategies()
	for name := range baseURLs {
		if _, ok := strategies[name]; !ok {
			return nil, fmt.Errorf("base URL for %w %q", probe.ErrUnknownProvider, name)
		}
	}
	providers := make([]probe.Provider, 0, len(strategies))
	for name, strategy := range strategies {
		providers = append(providers, probe.NewHTTPProvider(strategy, baseURLs[name], client))
	}
	return probe.NewRegistry(providers...)
}

// Start validates the credentials in the background and returns the handle of the run.
// Cancelling ctx has the same effect as Handle.Cancel.
func (e *Engine) Start(ctx context.Context, credentials []probe.Credential) (*Handle, error) {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	now := e.clock()
	tasks := make([]*probe.Task, 0, len(credentials))
	for _, cred := range credentials {
		tasks = append(tasks, probe.NewTask(cred, now))
	}
	h := newHandle(len(tasks))
	logger := e.logger.With(log.String("run_id", h.ID()))
	logger.Info("validation run started", log.Int("credentials", len(tasks)))

	runCtx := context.WithoutCancel(ctx)
	go func() {
		select {
		case <-ctx.Done():
			h.Cancel()
		case <-h.done:
		}
	}()

	e.beginRun()
	go func() {
		defer close(h.done)
		defer close(h.results)
		defer e.endRun()

		e.dispatcher.Run(runCtx, h.stop, tasks, func(r probe.TaskResult) {
			h.count(r.Status)
			h.results <- r
		})

		elapsed := e.clock().Sub(now)
		e.metrics.ObserveRunDuration(elapsed)
		s := h.Summary()
		logger.Info("validation run finished",
			log.Duration("duration", elapsed), log.Bool("cancelled", h.Cancelled()),
			log.Int("valid", s.Valid), log.Int("paid", s.Paid), log.Int("invalid", s.Invalid),
			log.Int("rate_limited", s.RateLimited), log.Int("cancelled_tasks", s.Cancelled))
	}()
	return h, nil
}

// Cancel requests cooperative cancellation of the run.
func (e *Engine) Cancel(h *Handle) {
	h.Cancel()
}

// Configure applies a partial update of the configuration to the live components.
// The updated configuration is validated as a whole before anything is applied.
// Rate limits, logging and metrics settings of the connection layer are fixed at creation.
func (e *Engine) Configure(update func(cfg *Config)) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := e.cfg.Clone()
	update(next)
	if err := next.Validate(); err != nil {
		return fmt.Errorf("invalid engine config: %w", err)
	}
	if err := e.controller.Reconfigure(*next.Admission); err != nil {
		return err
	}
	if err := e.supervisor.Reconfigure(*next.Retry); err != nil {
		return err
	}
	if err := e.client.Transport.Reconfigure(*next.Connection); err != nil {
		return err
	}
	e.cfg = next
	e.logger.Info("engine reconfigured")
	return nil
}

// Config returns a copy of the current configuration.
func (e *Engine) Config() *Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.Clone()
}

// Subscribe adds an observer of status transitions and attempts. It returns a function that removes it.
func (e *Engine) Subscribe(r probe.Reporter) (unsubscribe func()) {
	return e.reporters.subscribe(r)
}

// Controller returns the concurrency controller.
func (e *Engine) Controller() *admission.Controller {
	return e.controller
}

// Supervisor returns the retry supervisor.
func (e *Engine) Supervisor() *retry.Supervisor {
	return e.supervisor
}

// Client returns the HTTP client used by the built-in providers.
func (e *Engine) Client() *httpclient.Client {
	return e.client
}

// Registry returns the provider registry.
func (e *Engine) Registry() *probe.Registry {
	return e.registry
}

// Close closes the connection pool. Runs in flight should be finished before.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	e.client.Close()
}

// beginRun starts the periodic workers when the first run begins.
func (e *Engine) beginRun() {
	e.runsMu.Lock()
	defer e.runsMu.Unlock()
	e.activeRuns++
	if e.activeRuns > 1 {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.stopWorkers = cancel
	e.workers = &errgroup.Group{}

	adjuster := service.NewPeriodicWorkerWithOpts(service.WorkerFunc(func(ctx context.Context) error {
		e.controller.Adjust()
		return nil
	}), e.logger, service.PeriodicWorkerOpts{
		Name:         "admission-adjust",
		InitialDelay: e.controller.Config().AdjustmentInterval,
		IntervalFunc: func(error) time.Duration { return e.controller.Config().AdjustmentInterval },
	})
	maintainer := service.NewPeriodicWorkerWithOpts(service.WorkerFunc(func(ctx context.Context) error {
		retired, expired := e.client.Transport.Maintain(e.clock())
		if retired > 0 || expired > 0 {
			e.logger.Debug("connection layer maintained", log.Int("retired_connections", retired),
				log.Int("expired_merge_groups", expired))
		}
		return nil
	}), e.logger, service.PeriodicWorkerOpts{
		Name:         "connection-maintenance",
		InitialDelay: e.maintenanceInterval(),
		IntervalFunc: func(error) time.Duration { return e.maintenanceInterval() },
	})
	e.workers.Go(func() error { return adjuster.Run(ctx) })
	e.workers.Go(func() error { return maintainer.Run(ctx) })
}

// endRun stops the periodic workers when the last run ends.
func (e *Engine) endRun() {
	e.runsMu.Lock()
	e.activeRuns--
	if e.activeRuns > 0 {
		e.runsMu.Unlock()
		return
	}
	stop, workers := e.stopWorkers, e.workers
	e.stopWorkers, e.workers = nil, nil
	e.runsMu.Unlock()

	stop()
	_ = workers.Wait()
}

func (e *Engine) maintenanceInterval() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.Dispatch.MaintenanceInterval
}
