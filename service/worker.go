/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/acronis/go-keyprobe/log"
)

// ErrPeriodicWorkerStop may be returned by the underlying worker to interrupt the PeriodicWorker's loop.
var ErrPeriodicWorkerStop = errors.New("stop periodic worker")

// Worker performs some (usually long-running) work.
type Worker interface {
	Run(ctx context.Context) error
}

// WorkerFunc is an adapter to allow the use of ordinary functions as Worker.
type WorkerFunc func(ctx context.Context) error

// Run is a part of Worker interface.
func (f WorkerFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// PeriodicWorker runs the underlying worker on an interval that may change between iterations.
// The engine uses it for admission adjustments and connection maintenance.
type PeriodicWorker struct {
	name         string
	worker       Worker
	logger       log.FieldLogger
	initialDelay time.Duration
	interval     func(err error) time.Duration
}

// PeriodicWorkerOpts contains optional parameters for constructing PeriodicWorker.
type PeriodicWorkerOpts struct {
	// Name is added to the worker's log entries.
	Name string

	InitialDelay time.Duration

	// IntervalFunc is called after each iteration with its error and returns the delay before the next one.
	// It allows following an interval that is reconfigured at runtime.
	IntervalFunc func(err error) time.Duration
}

// NewPeriodicWorker creates a new PeriodicWorker with a constant interval.
func NewPeriodicWorker(worker Worker, interval time.Duration, logger log.FieldLogger) *PeriodicWorker {
	return NewPeriodicWorkerWithOpts(worker, logger, PeriodicWorkerOpts{
		InitialDelay: interval,
		IntervalFunc: func(error) time.Duration { return interval },
	})
}

// NewPeriodicWorkerWithOpts creates a new PeriodicWorker with options.
// Without IntervalFunc the worker runs once after the initial delay.
func NewPeriodicWorkerWithOpts(worker Worker, logger log.FieldLogger, opts PeriodicWorkerOpts) *PeriodicWorker {
	if logger == nil {
		logger = log.NewDisabledLogger()
	}
	if opts.Name != "" {
		logger = logger.With(log.String("worker", opts.Name))
	}
	return &PeriodicWorker{
		name:         opts.Name,
		worker:       worker,
		logger:       logger,
		initialDelay: opts.InitialDelay,
		interval:     opts.IntervalFunc,
	}
}

// Run runs the loop until the context is done or the worker returns ErrPeriodicWorkerStop.
// Other errors are logged and do not stop the loop.
func (pw *PeriodicWorker) Run(ctx context.Context) (resErr error) {
	defer func() {
		if p := recover(); p != nil {
			const logStackSize = 8192
			stack := make([]byte, logStackSize)
			stack = stack[:runtime.Stack(stack, false)]
			pw.logger.Error(fmt.Sprintf("panic: %+v", p), log.Bytes("stack", stack))
			panic(p)
		}
		pw.logger.Debug("periodic worker stopped")
	}()

	pw.logger.Debug("running periodic worker", log.Duration("initial_delay", pw.initialDelay))

	timer := time.NewTimer(pw.initialDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		err := pw.worker.Run(ctx)
		if err != nil {
			if errors.Is(err, ErrPeriodicWorkerStop) {
				return nil
			}
			pw.logger.Error("periodic worker iteration failed", log.Error(err))
		}
		if pw.interval == nil {
			return nil
		}
		timer.Reset(pw.interval(err))
	}
}
