/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/acronis/go-keyprobe/admission"
	"github.com/acronis/go-keyprobe/httpclient"
	"github.com/acronis/go-keyprobe/log"
	"github.com/acronis/go-keyprobe/probe"
	"github.com/acronis/go-keyprobe/retry"
)

// DispatcherOpts represents options for the Dispatcher.
type DispatcherOpts struct {
	Logger   log.FieldLogger
	Metrics  MetricsCollector
	Reporter probe.Reporter
	Clock    func() time.Time
}

// Dispatcher drives tasks to terminal results, keeping at most the admission limit of pipelines running.
// It never fails because of an individual task: every task resolves to exactly one terminal status.
type Dispatcher struct {
	controller *admission.Controller
	supervisor *retry.Supervisor
	registry   *probe.Registry

	logger   log.FieldLogger
	metrics  MetricsCollector
	reporter probe.Reporter
	clock    func() time.Time
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(
	controller *admission.Controller, supervisor *retry.Supervisor, registry *probe.Registry, opts DispatcherOpts,
) *Dispatcher {
	d := &Dispatcher{
		controller: controller,
		supervisor: supervisor,
		registry:   registry,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		reporter:   opts.Reporter,
		clock:      opts.Clock,
	}
	if d.logger == nil {
		d.logger = log.NewDisabledLogger()
	}
	if d.metrics == nil {
		d.metrics = disabledMetrics{}
	}
	if d.reporter == nil {
		d.reporter = probe.ReporterFuncs{}
	}
	if d.clock == nil {
		d.clock = time.Now
	}
	return d
}

// Run dispatches the tasks and sends one result per task to emit. It returns when every task is resolved.
// Closing stop is a cooperative cancellation: tasks not started yet resolve as cancelled,
// pipelines in flight finish their current attempt.
func (d *Dispatcher) Run(ctx context.Context, stop <-chan struct{}, tasks []*probe.Task, emit func(probe.TaskResult)) {
	acquireCtx, cancelAcquire := context.WithCancel(ctx)
	defer cancelAcquire()
	go func() {
		select {
		case <-stop:
			cancelAcquire()
		case <-acquireCtx.Done():
		}
	}()

	var g errgroup.Group
	for i, task := range tasks {
		if isClosed(stop) {
			d.cancelTasks(tasks[i:], emit)
			break
		}
		slot, err := d.controller.Acquire(acquireCtx, task.ID)
		if err != nil {
			d.cancelTasks(tasks[i:], emit)
			break
		}
		if isClosed(stop) {
			d.controller.Release(slot, nil)
			d.cancelTasks(tasks[i:], emit)
			break
		}
		g.Go(func() error {
			d.runPipeline(ctx, stop, task, slot, emit)
			return nil
		})
	}
	_ = g.Wait()
}

func (d *Dispatcher) cancelTasks(tasks []*probe.Task, emit func(probe.TaskResult)) {
	for _, task := range tasks {
		d.finish(task, probe.TaskResult{
			Status: probe.StatusCancelled,
			Class:  probe.ClassCancelled,
			Error:  probe.ErrCancelled.Error(),
		}, emit)
	}
}

// runPipeline validates a single task while holding its slot.
func (d *Dispatcher) runPipeline(
	ctx context.Context, stop <-chan struct{}, task *probe.Task, slot *admission.Slot, emit func(probe.TaskResult),
) {
	d.reportStatus(task, probe.StatusTesting, nil)

	provider, err := d.registry.Lookup(task.Credential.Provider)
	if err != nil {
		d.controller.Release(slot, nil)
		d.finish(task, probe.TaskResult{Status: probe.StatusInvalid, Class: probe.ClassUnknown, Error: err.Error()}, emit)
		return
	}

	attemptCtx := retry.NewContextWithStopSignal(ctx, stop)
	attemptCtx = httpclient.NewContextWithRequestType(attemptCtx, provider.Name)
	attemptCtx = retry.NewContextWithNotify(attemptCtx, func(a retry.Attempt) {
		d.controller.Record(a.Outcome)
		d.reporter.OnLogEvent(probe.LogEvent{
			TaskID: task.ID, Stage: probe.StagePrimary, Attempt: a.Number,
			Elapsed: a.Outcome.Latency, Status: probe.StatusRetrying, Err: a.Err,
		})
		d.reportStatus(task, probe.StatusRetrying, map[string]string{
			"class": string(a.Outcome.Class),
			"delay": a.Delay.String(),
		})
	})

	outcome, err := d.supervisor.ExecuteWithRetry(attemptCtx, task, provider.Name,
		func(ctx context.Context, attempt int) (probe.Outcome, error) {
			return provider.Validator.Probe(ctx, task.Credential)
		})
	status := statusFor(outcome, err)
	d.reporter.OnLogEvent(probe.LogEvent{
		TaskID: task.ID, Stage: probe.StagePrimary, Attempt: task.Attempts,
		Elapsed: outcome.Latency, Status: status, Err: err,
	})

	result := probe.TaskResult{
		Status:     status,
		Class:      outcome.Class,
		StatusCode: outcome.StatusCode,
		Latency:    outcome.Latency,
	}
	if err != nil {
		result.Error = err.Error()
		if result.Class == probe.ClassNone {
			result.Class = probe.Classify(err).Class
		}
	}
	if status == probe.StatusValid && provider.Premium != nil {
		if isClosed(stop) {
			result.Tier = probe.TierUnknown
		} else {
			result.Tier = d.runPremium(attemptCtx, provider, task)
			if result.Tier == probe.TierPaid {
				result.Status = probe.StatusPaid
			}
		}
	}

	// Attempts that never reached the provider say nothing about its health.
	if task.Attempts > 0 {
		d.controller.Release(slot, &outcome)
	} else {
		d.controller.Release(slot, nil)
	}
	d.finish(task, result, emit)
}

// runPremium runs the premium probe once. Its failure never downgrades the primary result.
func (d *Dispatcher) runPremium(ctx context.Context, provider probe.Provider, task *probe.Task) (tier string) {
	start := d.clock()
	var (
		outcome probe.Outcome
		err     error
	)
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: premium probe panicked: %v", probe.ErrUnknown, p)
			tier = probe.TierUnknown
		}
		if err != nil {
			d.logger.Warn("premium probe failed", log.String("task_id", task.ID),
				log.String("provider", provider.Name), log.Error(err))
		}
		d.reporter.OnLogEvent(probe.LogEvent{
			TaskID: task.ID, Stage: probe.StagePremium, Attempt: 1,
			Elapsed: d.clock().Sub(start), Status: statusForTier(tier), Err: err,
		})
	}()

	outcome, err = provider.Premium.Probe(ctx, task.Credential)
	switch {
	case err != nil:
		return probe.TierUnknown
	case outcome.Succeeded():
		return probe.TierPaid
	case outcome.Kind == probe.OutcomeTerminalError:
		return probe.TierFree
	}
	return probe.TierUnknown
}

func statusForTier(tier string) probe.Status {
	if tier == probe.TierPaid {
		return probe.StatusPaid
	}
	return probe.StatusValid
}

// finish completes the result from the task, reports the terminal status and emits the result.
func (d *Dispatcher) finish(task *probe.Task, result probe.TaskResult, emit func(probe.TaskResult)) {
	result.TaskID = task.ID
	result.Credential = task.Credential.Masked()
	result.Provider = task.Credential.Provider
	result.Model = task.Credential.Model
	result.Attempts = task.Attempts

	meta := map[string]string{"attempts": strconv.Itoa(task.Attempts)}
	if result.Class != probe.ClassNone {
		meta["class"] = string(result.Class)
	}
	if result.Tier != "" {
		meta["tier"] = result.Tier
	}
	d.reportStatus(task, result.Status, meta)
	d.metrics.IncResults(result.Provider, result.Status)

	d.logger.Debug("credential validated",
		log.String("task_id", result.TaskID),
		log.String("credential", result.Credential),
		log.String("provider", result.Provider),
		log.String("status", string(result.Status)),
		log.Int("attempts", result.Attempts),
		log.String("class", string(result.Class)),
	)
	emit(result)
}

func (d *Dispatcher) reportStatus(task *probe.Task, status probe.Status, meta map[string]string) {
	d.reporter.OnStatus(probe.StatusEvent{
		TaskID:   task.ID,
		Status:   status,
		Attempts: task.Attempts,
		Metadata: meta,
		Time:     d.clock(),
	})
}

// statusFor maps the result of ExecuteWithRetry to a terminal status.
func statusFor(outcome probe.Outcome, err error) probe.Status {
	switch {
	case err == nil:
		return probe.StatusValid
	case errors.Is(err, probe.ErrCancelled):
		return probe.StatusCancelled
	case errors.Is(err, probe.ErrCircuitOpen), outcome.Class == probe.ClassRateLimit:
		return probe.StatusRateLimited
	}
	return probe.StatusInvalid
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
