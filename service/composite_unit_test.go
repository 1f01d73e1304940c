/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

// mockUnit blocks in Start until it's stopped, like a status or profiling server.
type mockUnit struct {
	name     string
	running  *atomic.Int32
	startErr error
	stopErr  error

	stopOnce        sync.Once
	stopped         chan struct{}
	stopCalls       atomic.Int32
	gracefulStops   atomic.Int32
	metricsRegister atomic.Int32
	metricsUnreg    atomic.Int32
}

func newMockUnit(name string, running *atomic.Int32) *mockUnit {
	return &mockUnit{name: name, running: running, stopped: make(chan struct{})}
}

func (u *mockUnit) Start(fatalError chan<- error) {
	if u.startErr != nil {
		fatalError <- u.startErr
		return
	}
	u.running.Inc()
	defer u.running.Dec()
	<-u.stopped
}

func (u *mockUnit) Stop(gracefully bool) error {
	u.stopCalls.Inc()
	if gracefully {
		u.gracefulStops.Inc()
	}
	u.stopOnce.Do(func() { close(u.stopped) })
	return u.stopErr
}

func (u *mockUnit) MustRegisterMetrics() { u.metricsRegister.Inc() }

func (u *mockUnit) UnregisterMetrics() { u.metricsUnreg.Inc() }

func makeMockUnits(n int, running *atomic.Int32) ([]*mockUnit, []Unit) {
	mocks := make([]*mockUnit, 0, n)
	units := make([]Unit, 0, n)
	for i := 0; i < n; i++ {
		u := newMockUnit(fmt.Sprintf("server#%d", i), running)
		mocks = append(mocks, u)
		units = append(units, u)
	}
	return mocks, units
}

func startAsync(cu *CompositeUnit) (fatalErr chan error, exited chan struct{}) {
	fatalErr = make(chan error, 1)
	exited = make(chan struct{})
	go func() {
		defer close(exited)
		cu.Start(fatalErr)
	}()
	return fatalErr, exited
}

func TestCompositeUnit_StartAndStop(t *testing.T) {
	t.Run("all units are stopped gracefully", func(t *testing.T) {
		const unitsNum = 50
		var running atomic.Int32
		mocks, units := makeMockUnits(unitsNum, &running)
		cu := NewCompositeUnit(units...)

		fatalErr, exited := startAsync(cu)
		require.Eventually(t, func() bool { return running.Load() == unitsNum }, time.Second*3, time.Millisecond*10)

		require.NoError(t, cu.Stop(true))
		require.Eventually(t, func() bool { return running.Load() == 0 }, time.Second*3, time.Millisecond*10)
		select {
		case <-exited:
		case <-time.After(time.Second * 3):
			require.Fail(t, "Start should return once all units are stopped")
		}
		require.Empty(t, fatalErr)
		for _, u := range mocks {
			require.Equal(t, int32(1), u.gracefulStops.Load(), u.name)
		}
	})

	t.Run("stop errors are collected", func(t *testing.T) {
		var running atomic.Int32
		mocks, units := makeMockUnits(3, &running)
		mocks[0].stopErr = errors.New("status server: close listener")
		mocks[2].stopErr = errors.New("profiling server: close listener")
		cu := NewCompositeUnit(units...)

		_, exited := startAsync(cu)
		require.Eventually(t, func() bool { return running.Load() == 3 }, time.Second*3, time.Millisecond*10)

		err := cu.Stop(false)
		var cuErr *CompositeUnitError
		require.ErrorAs(t, err, &cuErr)
		require.Len(t, cuErr.UnitErrors, 2)
		require.Contains(t, err.Error(), "status server: close listener")
		require.Contains(t, err.Error(), "; ")
		<-exited
	})
}

func TestCompositeUnit_FatalErrorStopsOtherUnits(t *testing.T) {
	var running atomic.Int32
	mocks, units := makeMockUnits(3, &running)
	listenErr := errors.New("listen tcp 127.0.0.1:9090: bind: address already in use")
	mocks[1].startErr = listenErr
	cu := NewCompositeUnit(units...)

	fatalErr, exited := startAsync(cu)
	select {
	case <-exited:
	case <-time.After(time.Second * 3):
		require.Fail(t, "Start should return after a unit failure")
	}

	var err error
	select {
	case err = <-fatalErr:
	default:
	}
	var cuErr *CompositeUnitError
	require.ErrorAs(t, err, &cuErr)
	require.Equal(t, []error{listenErr}, cuErr.UnitErrors)
	require.Eventually(t, func() bool { return running.Load() == 0 }, time.Second*3, time.Millisecond*10)
	for _, u := range mocks {
		require.Equal(t, int32(1), u.stopCalls.Load(), u.name)
		require.Equal(t, int32(0), u.gracefulStops.Load(), u.name)
	}
}

func TestCompositeUnit_Done(t *testing.T) {
	t.Run("no finishers", func(t *testing.T) {
		var running atomic.Int32
		_, units := makeMockUnits(2, &running)
		require.Nil(t, NewCompositeUnit(units...).Done())
	})

	t.Run("closed when the validation run finishes", func(t *testing.T) {
		var running atomic.Int32
		server := newMockUnit("status server", &running)
		finishRun := make(chan struct{})
		run := NewWorkerUnit(WorkerFunc(func(ctx context.Context) error {
			<-finishRun
			return nil
		}))
		cu := NewCompositeUnit(run, server)

		_, exited := startAsync(cu)
		done := cu.Done()
		require.NotNil(t, done)
		require.True(t, done == cu.Done())

		select {
		case <-done:
			require.Fail(t, "Done should not be closed while the run is in progress")
		case <-time.After(time.Millisecond * 50):
		}
		close(finishRun)
		select {
		case <-done:
		case <-time.After(time.Second * 3):
			require.Fail(t, "Done should be closed once the run finishes")
		}

		require.NoError(t, cu.Stop(true))
		<-exited
	})
}

func TestCompositeUnit_Metrics(t *testing.T) {
	var running atomic.Int32
	mocks, units := makeMockUnits(2, &running)
	cu := NewCompositeUnit(append(units, NewWorkerUnit(WorkerFunc(func(context.Context) error { return nil })))...)

	cu.MustRegisterMetrics()
	cu.UnregisterMetrics()
	for _, u := range mocks {
		require.Equal(t, int32(1), u.metricsRegister.Load())
		require.Equal(t, int32(1), u.metricsUnreg.Load())
	}
}
