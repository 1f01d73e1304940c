/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package admission

import (
	"time"

	"github.com/acronis/go-keyprobe/probe"
)

type sample struct {
	at      time.Time
	outcome probe.Outcome
}

// WindowStats are aggregated values over a MetricsWindow.
type WindowStats struct {
	Samples        int
	RateLimitRatio float64
	SuccessRate    float64
	AvgLatency     time.Duration
}

// MetricsWindow is a bounded time-ordered sequence of recent outcomes.
// It is not safe for concurrent use, the Controller guards it.
type MetricsWindow struct {
	capacity int
	maxAge   time.Duration
	samples  []sample
	head     int
	size     int
}

// NewMetricsWindow creates a window holding at most capacity samples not older than maxAge.
func NewMetricsWindow(capacity int, maxAge time.Duration) *MetricsWindow {
	if capacity < 1 {
		capacity = 1
	}
	return &MetricsWindow{capacity: capacity, maxAge: maxAge, samples: make([]sample, capacity)}
}

// Add inserts an outcome. Samples older than maxAge are evicted first, the oldest sample is evicted on overflow.
func (w *MetricsWindow) Add(now time.Time, outcome probe.Outcome) {
	w.Prune(now)
	if w.size == w.capacity {
		w.head = (w.head + 1) % w.capacity
		w.size--
	}
	w.samples[(w.head+w.size)%w.capacity] = sample{at: now, outcome: outcome}
	w.size++
}

// Prune evicts samples older than maxAge.
func (w *MetricsWindow) Prune(now time.Time) {
	if w.maxAge <= 0 {
		return
	}
	for w.size > 0 && now.Sub(w.samples[w.head].at) > w.maxAge {
		w.samples[w.head] = sample{}
		w.head = (w.head + 1) % w.capacity
		w.size--
	}
}

// Len returns the number of samples.
func (w *MetricsWindow) Len() int {
	return w.size
}

// Reset drops all samples.
func (w *MetricsWindow) Reset() {
	for i := range w.samples {
		w.samples[i] = sample{}
	}
	w.head, w.size = 0, 0
}

// Resize changes the bounds keeping the newest samples.
func (w *MetricsWindow) Resize(capacity int, maxAge time.Duration) {
	if capacity < 1 {
		capacity = 1
	}
	w.maxAge = maxAge
	if capacity == w.capacity {
		return
	}
	keep := w.size
	if keep > capacity {
		keep = capacity
	}
	samples := make([]sample, capacity)
	for i := 0; i < keep; i++ {
		samples[i] = w.samples[(w.head+w.size-keep+i)%w.capacity]
	}
	w.samples, w.capacity, w.head, w.size = samples, capacity, 0, keep
}

// Stats computes the window statistics.
func (w *MetricsWindow) Stats() WindowStats {
	if w.size == 0 {
		return WindowStats{}
	}
	var succeeded, rateLimited int
	var latency time.Duration
	for i := 0; i < w.size; i++ {
		o := w.samples[(w.head+i)%w.capacity].outcome
		switch {
		case answered(o):
			succeeded++
		case o.Kind == probe.OutcomeRateLimited || o.Class == probe.ClassRateLimit:
			rateLimited++
		}
		latency += o.Latency
	}
	n := float64(w.size)
	return WindowStats{
		Samples:        w.size,
		RateLimitRatio: float64(rateLimited) / n,
		SuccessRate:    float64(succeeded) / n,
		AvgLatency:     latency / time.Duration(w.size),
	}
}

// answered reports whether the provider handled the call: a rejected credential is still a served request.
func answered(o probe.Outcome) bool {
	return o.Succeeded() || o.Class == probe.ClassAuth || o.Class == probe.ClassNotFound
}
