package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"twingate/internal/domain"
)

type PrometheusMetrics struct {
	executions *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

func NewPrometheusMetrics(registerer prometheus.Registerer) *PrometheusMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)

	return &PrometheusMetrics{
		executions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tool_executions_total",
				Help: "Total number of tool execution requests",
			},
			[]string{"tool", "status"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tool_execution_duration_seconds",
				Help:    "Duration of executed tool calls in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"tool"},
		),
	}
}

// ObserveExecution records one execution attempt. Lookup misses count
// against the counter only; the duration histogram covers calls that
// actually reached a backend.
func (p *PrometheusMetrics) ObserveExecution(tool string, status domain.ExecutionStatus, duration time.Duration) {
	p.executions.WithLabelValues(tool, string(status)).Inc()
	if status == domain.StatusNotFound {
		return
	}
	p.duration.WithLabelValues(tool).Observe(duration.Seconds())
}

// NopMetrics discards every observation.
type NopMetrics struct{}

func (NopMetrics) ObserveExecution(string, domain.ExecutionStatus, time.Duration) {}
