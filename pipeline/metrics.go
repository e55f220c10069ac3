package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects Prometheus metrics for pipeline execution.
//
// Exposed metrics (namespace "devloop"):
//   - steps_total (counter): node executions by node_id and status.
//   - step_latency_seconds (histogram): node execution duration by node_id.
//   - retries_total (counter): retry attempts by node_id.
//   - active_runs (gauge): runs currently executing.
//   - llm_tokens_total (counter): tokens consumed by model and direction.
//
// Register on a dedicated registry and expose it with promhttp:
//
//	registry := prometheus.NewRegistry()
//	metrics := pipeline.NewMetrics(registry)
//	engine := pipeline.New(reducer, st, emitter, pipeline.WithMetrics(metrics))
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
type Metrics struct {
	steps      *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	retries    *prometheus.CounterVec
	activeRuns prometheus.Gauge
	llmTokens  *prometheus.CounterVec
}

// NewMetrics creates and registers the pipeline metrics on registry.
// A nil registry falls back to the default Prometheus registerer.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		steps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "devloop",
			Name:      "steps_total",
			Help:      "Node executions by node and outcome",
		}, []string{"node_id", "status"}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "devloop",
			Name:      "step_latency_seconds",
			Help:      "Node execution duration in seconds",
			// LLM-backed nodes routinely take seconds; gates are sub-ms.
			Buckets: []float64{.001, .01, .1, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"node_id"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "devloop",
			Name:      "retries_total",
			Help:      "Node retry attempts",
		}, []string{"node_id"}),
		activeRuns: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "devloop",
			Name:      "active_runs",
			Help:      "Workflow runs currently executing",
		}),
		llmTokens: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "devloop",
			Name:      "llm_tokens_total",
			Help:      "LLM tokens consumed by model and direction",
		}, []string{"model", "direction"}),
	}
}

// RecordStep records one node execution with its outcome and duration.
func (m *Metrics) RecordStep(nodeID, status string, d time.Duration) {
	m.steps.WithLabelValues(nodeID, status).Inc()
	m.latency.WithLabelValues(nodeID).Observe(d.Seconds())
}

// RecordRetry counts a retry attempt for a node.
func (m *Metrics) RecordRetry(nodeID string) {
	m.retries.WithLabelValues(nodeID).Inc()
}

// RecordTokens counts LLM token usage for a model.
func (m *Metrics) RecordTokens(model string, input, output int) {
	m.llmTokens.WithLabelValues(model, "input").Add(float64(input))
	m.llmTokens.WithLabelValues(model, "output").Add(float64(output))
}

// RunStarted increments the active run gauge.
func (m *Metrics) RunStarted() {
	m.activeRuns.Inc()
}

// RunFinished decrements the active run gauge.
func (m *Metrics) RunFinished() {
	m.activeRuns.Dec()
}
