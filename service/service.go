/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package service

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/acronis/go-keyprobe/log"
)

// Opts represents an options for Service.
type Opts struct {
	// ShutdownSignals stop the unit gracefully. SIGINT and SIGTERM are used by New.
	ShutdownSignals []os.Signal
}

// Service runs a single Unit until one of these happens: the context is done,
// a shutdown signal is received, the unit reports a fatal error or the unit (being a Finisher) is done.
type Service struct {
	Unit    Unit
	Signals chan os.Signal
	Logger  log.FieldLogger
	Opts    Opts
}

// New creates a Service stopping the unit on SIGINT and SIGTERM.
func New(logger log.FieldLogger, unit Unit) *Service {
	return NewWithOpts(logger, unit, Opts{ShutdownSignals: []os.Signal{syscall.SIGINT, syscall.SIGTERM}})
}

// NewWithOpts creates a Service with the given options.
func NewWithOpts(logger log.FieldLogger, unit Unit, opts Opts) *Service {
	return &Service{Unit: unit, Signals: make(chan os.Signal, 1), Logger: logger, Opts: opts}
}

// Start runs the unit until a shutdown signal is received or the unit is done.
func (s *Service) Start() error {
	return s.StartContext(context.Background())
}

// StartContext runs the unit like Start, cancelling ctx stops it gracefully as well.
// Metrics of the unit (if it's a MetricsRegisterer) are registered for the run time.
func (s *Service) StartContext(ctx context.Context) error {
	if mr, ok := s.Unit.(MetricsRegisterer); ok {
		mr.MustRegisterMetrics()
		defer mr.UnregisterMetrics()
	}

	fatalErrs := make(chan error, 1)
	go s.Unit.Start(fatalErrs)

	signal.Notify(s.Signals, s.Opts.ShutdownSignals...)
	defer signal.Stop(s.Signals)

	if err := s.waitForStop(ctx, fatalErrs); err != nil {
		s.Logger.Error("service fatal error", log.Error(err))
		return fmt.Errorf("fatal error: %w", err)
	}
	if err := s.Unit.Stop(true); err != nil {
		return fmt.Errorf("stop service gracefully: %w", err)
	}
	return nil
}

// waitForStop returns the unit's fatal error, or nil when the unit should be stopped gracefully.
func (s *Service) waitForStop(ctx context.Context, fatalErrs <-chan error) error {
	var unitDone <-chan struct{}
	if f, ok := s.Unit.(Finisher); ok {
		unitDone = f.Done()
	}
	select {
	case err := <-fatalErrs:
		return err
	case <-ctx.Done():
		s.Logger.Info("context is canceled, service will be stopped")
	case sig := <-s.Signals:
		s.Logger.Info("service got signal", log.String("signal", sig.String()))
	case <-unitDone:
		// A unit failing at the very end reports the error before it's done.
		select {
		case err := <-fatalErrs:
			return err
		default:
		}
		s.Logger.Info("service unit finished")
	}
	return nil
}
