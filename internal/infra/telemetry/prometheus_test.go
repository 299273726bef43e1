package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twingate/internal/domain"
)

func TestPrometheusMetrics_ImplementsInterface(t *testing.T) {
	var _ domain.Metrics = (*PrometheusMetrics)(nil)
	var _ domain.Metrics = NopMetrics{}
}

func TestNewPrometheusMetrics_UsesProvidedRegistry(t *testing.T) {
	registry := prometheus.NewRegistry()

	m := NewPrometheusMetrics(registry)
	m.ObserveExecution("echo", domain.StatusSuccess, 10*time.Millisecond)
	m.ObserveExecution("echo", domain.StatusError, 5*time.Millisecond)
	m.ObserveExecution("ghost", domain.StatusNotFound, 0)

	metrics, err := registry.Gather()
	require.NoError(t, err)

	names := make([]string, 0, len(metrics))
	for _, mf := range metrics {
		names = append(names, mf.GetName())
	}
	assert.Contains(t, names, "tool_executions_total")
	assert.Contains(t, names, "tool_execution_duration_seconds")
}

func TestObserveExecution_CountsEveryOutcome(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewPrometheusMetrics(registry)

	m.ObserveExecution("echo", domain.StatusSuccess, 10*time.Millisecond)
	m.ObserveExecution("echo", domain.StatusSuccess, 20*time.Millisecond)
	m.ObserveExecution("echo", domain.StatusError, 5*time.Millisecond)
	m.ObserveExecution("ghost", domain.StatusNotFound, 0)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.executions.WithLabelValues("echo", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.executions.WithLabelValues("echo", "error")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.executions.WithLabelValues("ghost", "not_found")))
}

func TestObserveExecution_NotFoundSkipsHistogram(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewPrometheusMetrics(registry)

	m.ObserveExecution("ghost", domain.StatusNotFound, time.Second)

	count := testutil.CollectAndCount(m.duration, "tool_execution_duration_seconds")
	assert.Zero(t, count, "lookup misses must not create duration series")

	m.ObserveExecution("echo", domain.StatusSuccess, time.Millisecond)
	count = testutil.CollectAndCount(m.duration, "tool_execution_duration_seconds")
	assert.Equal(t, 1, count)
}
