package telemetry

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/shaiso/apiflow/internal/domain"
)

// Metrics — Prometheus метрики выполнения workflows.
//
// Реализует orchestrator.Observer: подключается к Orchestrator через
// Config.Observers и считает узлы и runs по событиям.
type Metrics struct {
	runsTotal    *prometheus.CounterVec
	runDuration  prometheus.Histogram
	nodesTotal   *prometheus.CounterVec
	nodeDuration *prometheus.HistogramVec
	nodesRunning prometheus.Gauge
	httpRequests *prometheus.CounterVec
}

// NewMetrics регистрирует метрики в reg.
// reg == nil — prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "apiflow_runs_total",
			Help: "Total number of finished workflow runs",
		}, []string{"status"}),
		runDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "apiflow_run_duration_seconds",
			Help:    "Workflow run duration",
			Buckets: prometheus.DefBuckets,
		}),
		nodesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "apiflow_node_executions_total",
			Help: "Total number of finished node executions",
		}, []string{"type", "status"}),
		nodeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "apiflow_node_duration_seconds",
			Help:    "Node execution duration",
			Buckets: prometheus.DefBuckets,
		}, []string{"type"}),
		nodesRunning: factory.NewGauge(prometheus.GaugeOpts{
			Name: "apiflow_nodes_running",
			Help: "Number of nodes currently executing",
		}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "apiflow_http_requests_total",
			Help: "Total number of HTTP API requests",
		}, []string{"method", "status"}),
	}
}

// NodeStatusChanged считает переходы статусов узлов.
func (m *Metrics) NodeStatusChanged(_ context.Context, event domain.StatusEvent) {
	switch event.To {
	case domain.NodeStatusRunning:
		m.nodesRunning.Inc()
		return
	case domain.NodeStatusCompleted, domain.NodeStatusFailed:
		m.nodesRunning.Dec()
		m.nodeDuration.WithLabelValues(string(event.NodeType)).Observe(float64(event.DurationMs) / 1000)
	}
	if event.To.IsTerminal() {
		m.nodesTotal.WithLabelValues(string(event.NodeType), string(event.To)).Inc()
	}
}

// RunFinished считает завершённые runs.
func (m *Metrics) RunFinished(_ context.Context, report *domain.ExecutionReport) {
	m.runsTotal.WithLabelValues(string(report.OverallStatus)).Inc()
	m.runDuration.Observe(float64(report.DurationMs) / 1000)
}

// ObserveHTTPRequest считает запрос к HTTP API.
func (m *Metrics) ObserveHTTPRequest(method, status string) {
	m.httpRequests.WithLabelValues(method, status).Inc()
}
