package runner

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes Prometheus metrics for run execution.
//
// Metrics exposed (all namespaced with "synmat_"):
//   - active_users (gauge): user executions currently in flight
//   - users_total (counter, by status): finished user executions
//   - node_duration_ms (histogram, by node_type and status)
//   - dialog_turns_total (counter): dialog turns sent
//   - agent_calls_total (counter, by status): agent HTTP calls
//
// A nil *Metrics is valid and records nothing, so metrics stay optional in
// tests and one-shot CLI runs.
type Metrics struct {
	activeUsers  prometheus.Gauge
	usersTotal   *prometheus.CounterVec
	nodeDuration *prometheus.HistogramVec
	dialogTurns  prometheus.Counter
	agentCalls   *prometheus.CounterVec
}

// NewMetrics registers the engine's metrics with the given registerer.
//
// Usage:
//
//	registry := prometheus.NewRegistry()
//	metrics := runner.NewMetrics(registry)
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		activeUsers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "synmat",
			Name:      "active_users",
			Help:      "Number of user executions currently in flight.",
		}),
		usersTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "synmat",
			Name:      "users_total",
			Help:      "Finished user executions by terminal status.",
		}, []string{"status"}),
		nodeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "synmat",
			Name:      "node_duration_ms",
			Help:      "Node execution duration in milliseconds.",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
		}, []string{"node_type", "status"}),
		dialogTurns: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "synmat",
			Name:      "dialog_turns_total",
			Help:      "Dialog turns sent across all conversations.",
		}),
		agentCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "synmat",
			Name:      "agent_calls_total",
			Help:      "Agent HTTP calls by outcome.",
		}, []string{"status"}),
	}
}

// UserStarted marks one user execution as in flight.
func (m *Metrics) UserStarted() {
	if m == nil {
		return
	}
	m.activeUsers.Inc()
}

// UserFinished marks one user execution as done.
func (m *Metrics) UserFinished(status string) {
	if m == nil {
		return
	}
	m.activeUsers.Dec()
	m.usersTotal.WithLabelValues(status).Inc()
}

// ObserveNode records a node execution outcome.
func (m *Metrics) ObserveNode(nodeType, status string, durationMS float64) {
	if m == nil {
		return
	}
	m.nodeDuration.WithLabelValues(nodeType, status).Observe(durationMS)
}

// AddDialogTurns counts completed dialog turns.
func (m *Metrics) AddDialogTurns(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.dialogTurns.Add(float64(n))
}

// ObserveAgentCall counts one agent HTTP call.
func (m *Metrics) ObserveAgentCall(success bool) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "failed"
	}
	m.agentCalls.WithLabelValues(status).Inc()
}
