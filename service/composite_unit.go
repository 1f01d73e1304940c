/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package service

import (
	"errors"
	"strings"
	"sync"
)

// CompositeUnit runs several units as one, e.g. the validation worker next to the status and profiling servers.
type CompositeUnit struct {
	Units []Unit

	doneOnce sync.Once
	done     chan struct{}
}

var _ Finisher = (*CompositeUnit)(nil)

// NewCompositeUnit creates a new composite unit.
func NewCompositeUnit(units ...Unit) *CompositeUnit {
	return &CompositeUnit{Units: units}
}

// Done is closed once any unit of the composition that implements Finisher is done.
// It returns nil (never closed) if no unit implements Finisher.
func (cu *CompositeUnit) Done() <-chan struct{} {
	cu.doneOnce.Do(func() {
		var finishers []<-chan struct{}
		for _, u := range cu.Units {
			if f, ok := u.(Finisher); ok {
				finishers = append(finishers, f.Done())
			}
		}
		if len(finishers) == 0 {
			return
		}
		cu.done = make(chan struct{})
		var once sync.Once
		for _, ch := range finishers {
			go func(ch <-chan struct{}) {
				<-ch
				once.Do(func() { close(cu.done) })
			}(ch)
		}
	})
	if cu.done == nil {
		return nil
	}
	return cu.done
}

// Start runs every unit in its own goroutine and returns when all of them have returned.
// The first fatal error of a unit stops the rest non-gracefully, then a CompositeUnitError
// with the fatal errors followed by the stop errors is sent to fatalError.
func (cu *CompositeUnit) Start(fatalError chan<- error) {
	unitErrs := make(chan error, len(cu.Units))
	var wg sync.WaitGroup
	for _, u := range cu.Units {
		wg.Add(1)
		go func(u Unit) {
			defer wg.Done()
			errCh := make(chan error, 1)
			u.Start(errCh)
			select {
			case err := <-errCh:
				unitErrs <- err
			default:
			}
		}(u)
	}
	allReturned := make(chan struct{})
	go func() {
		wg.Wait()
		close(allReturned)
	}()

	select {
	case err := <-unitErrs:
		unitErrs <- err
	case <-allReturned:
		if len(unitErrs) == 0 {
			return
		}
	}

	stopErr := cu.Stop(false)
	<-allReturned
	errs := make([]error, 0, len(unitErrs))
	for len(unitErrs) > 0 {
		errs = append(errs, <-unitErrs)
	}
	var cuErr *CompositeUnitError
	if errors.As(stopErr, &cuErr) {
		errs = append(errs, cuErr.UnitErrors...)
	}
	fatalError <- &CompositeUnitError{UnitErrors: errs}
}

// Stop stops all units concurrently and returns a CompositeUnitError if any of them fails to stop.
func (cu *CompositeUnit) Stop(gracefully bool) error {
	var (
		mu   sync.Mutex
		errs []error
		wg   sync.WaitGroup
	)
	for _, u := range cu.Units {
		wg.Add(1)
		go func(u Unit) {
			defer wg.Done()
			if err := u.Stop(gracefully); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(u)
	}
	wg.Wait()
	if len(errs) > 0 {
		return &CompositeUnitError{UnitErrors: errs}
	}
	return nil
}

// MustRegisterMetrics registers metrics of the units implementing MetricsRegisterer.
func (cu *CompositeUnit) MustRegisterMetrics() {
	for _, s := range cu.Units {
		if mr, ok := s.(MetricsRegisterer); ok {
			mr.MustRegisterMetrics()
		}
	}
}

// UnregisterMetrics unregisters metrics of the units implementing MetricsRegisterer.
func (cu *CompositeUnit) UnregisterMetrics() {
	for _, s := range cu.Units {
		if mr, ok := s.(MetricsRegisterer); ok {
			mr.UnregisterMetrics()
		}
	}
}

// CompositeUnitError holds the errors of the units of a CompositeUnit.
type CompositeUnitError struct {
	UnitErrors []error
}

// Error joins the unit errors with "; ".
func (cue *CompositeUnitError) Error() string {
	msgs := make([]string, 0, len(cue.UnitErrors))
	for _, err := range cue.UnitErrors {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Unwrap makes errors.Is and errors.As look into every unit error.
func (cue *CompositeUnitError) Unwrap() []error {
	return cue.UnitErrors
}
