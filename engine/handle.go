/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package engine

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/atomic"

	"github.com/acronis/go-keyprobe/probe"
)

// Summary counts the terminal statuses of a run.
type Summary struct {
	Total       int `json:"total" yaml:"total"`
	Valid       int `json:"valid" yaml:"valid"`
	Paid        int `json:"paid" yaml:"paid"`
	Invalid     int `json:"invalid" yaml:"invalid"`
	RateLimited int `json:"rateLimited" yaml:"rateLimited"`
	Cancelled   int `json:"cancelled" yaml:"cancelled"`
}

// Handle controls a single run started by Engine.Start.
type Handle struct {
	id      string
	total   int
	results chan probe.TaskResult
	done    chan struct{}

	stop      chan struct{}
	stopOnce  sync.Once
	cancelled atomic.Bool

	valid, paid, invalid, rateLimited, cancelledCount atomic.Int64
}

func newHandle(total int) *Handle {
	return &Handle{
		id:      uuid.New().String(),
		total:   total,
		results: make(chan probe.TaskResult, total),
		done:    make(chan struct{}),
		stop:    make(chan struct{}),
	}
}

// ID returns the unique identifier of the run.
func (h *Handle) ID() string {
	return h.id
}

// Results returns the channel of terminal results. It receives exactly one result per credential
// and is closed when the run is finished. It is buffered for the whole batch, so a late reader loses nothing.
func (h *Handle) Results() <-chan probe.TaskResult {
	return h.results
}

// Cancel requests cooperative cancellation: no new task or attempt is started,
// attempts in flight run to completion. It is safe to call Cancel many times.
func (h *Handle) Cancel() {
	h.stopOnce.Do(func() {
		h.cancelled.Store(true)
		close(h.stop)
	})
}

// Cancelled reports whether cancellation was requested.
func (h *Handle) Cancelled() bool {
	return h.cancelled.Load()
}

// Done is closed when every credential of the run has a terminal result.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the run is finished and returns its summary.
func (h *Handle) Wait() Summary {
	<-h.done
	return h.Summary()
}

// Summary returns the counts of terminal statuses reached so far.
func (h *Handle) Summary() Summary {
	return Summary{
		Total:       h.total,
		Valid:       int(h.valid.Load()),
		Paid:        int(h.paid.Load()),
		Invalid:     int(h.invalid.Load()),
		RateLimited: int(h.rateLimited.Load()),
		Cancelled:   int(h.cancelledCount.Load()),
	}
}

func (h *Handle) count(status probe.Status) {
	switch status {
	case probe.StatusValid:
		h.valid.Inc()
	case probe.StatusPaid:
		h.paid.Inc()
	case probe.StatusInvalid:
		h.invalid.Inc()
	case probe.StatusRateLimited:
		h.rateLimited.Inc()
	case probe.StatusCancelled:
		h.cancelledCount.Inc()
	}
}
