/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package testutil

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestRequireSamplesCountInCounter(t *testing.T) {
	probesCounter := prometheus.NewCounter(prometheus.CounterOpts{Name: "probes_total"})
	probesCounter.Add(42)

	mockT := &MockT{}
	RequireSamplesCountInCounter(mockT, probesCounter, 41)
	require.True(t, mockT.Failed)

	mockT = &MockT{}
	RequireSamplesCountInCounter(mockT, probesCounter, 42)
	require.False(t, mockT.Failed)
}

func TestRequireSamplesCountInHistogram(t *testing.T) {
	latencyHistogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "probe_duration_seconds", Buckets: []float64{0.1, 0.5, 1, 5},
	})
	latencyHistogram.Observe(0.3)

	mockT := &MockT{}
	RequireSamplesCountInHistogram(mockT, latencyHistogram, 0)
	require.True(t, mockT.Failed)

	mockT = &MockT{}
	RequireSamplesCountInHistogram(mockT, latencyHistogram, 1)
	require.False(t, mockT.Failed)
}

func TestRequireSamplesCount_VectorIsRejected(t *testing.T) {
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "outcomes_total"}, []string{"status"})
	vec.WithLabelValues("valid").Inc()
	vec.WithLabelValues("invalid").Inc()

	mockT := &MockT{}
	_, ok := gatherSingle(mockT, vec)
	require.False(t, ok)
}
