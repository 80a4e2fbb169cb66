// Package metrics exposes supervision counters and gauges.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the supervisor's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	// AnalysisPasses counts completed analysis passes
	AnalysisPasses prometheus.Counter
	// IssuesDetected counts detected issues by type
	IssuesDetected *prometheus.CounterVec
	// TasksCreated counts queued tasks by priority
	TasksCreated *prometheus.CounterVec
	// TasksSuppressed counts tasks dropped by deduplication
	TasksSuppressed prometheus.Counter
	// QueueSize tracks current tasks by status
	QueueSize *prometheus.GaugeVec
	// OpenViolations tracks currently open compliance violations
	OpenViolations prometheus.Gauge
	// ObserverPanics counts observer callbacks that panicked
	ObserverPanics prometheus.Counter
}

// New creates the collector set on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		AnalysisPasses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chainwatch",
			Name:      "analysis_passes_total",
			Help:      "Completed workflow analysis passes.",
		}),
		IssuesDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chainwatch",
			Name:      "issues_detected_total",
			Help:      "Issues detected, labeled by anomaly type.",
		}, []string{"type"}),
		TasksCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chainwatch",
			Name:      "tasks_created_total",
			Help:      "Intervention tasks queued, labeled by priority.",
		}, []string{"priority"}),
		TasksSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chainwatch",
			Name:      "tasks_suppressed_total",
			Help:      "Intervention tasks suppressed by deduplication.",
		}),
		QueueSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "chainwatch",
			Name:      "queue_tasks",
			Help:      "Tasks currently in the queue, labeled by status.",
		}, []string{"status"}),
		OpenViolations: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chainwatch",
			Name:      "open_violations",
			Help:      "Compliance violations currently open.",
		}),
		ObserverPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chainwatch",
			Name:      "observer_panics_total",
			Help:      "Observer callbacks that panicked and were isolated.",
		}),
	}
	reg.MustRegister(
		m.AnalysisPasses,
		m.IssuesDetected,
		m.TasksCreated,
		m.TasksSuppressed,
		m.QueueSize,
		m.OpenViolations,
		m.ObserverPanics,
	)
	return m
}

// Registry returns the underlying registry for HTTP exposure.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
