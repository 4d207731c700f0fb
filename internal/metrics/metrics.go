// Package metrics exposes Prometheus collectors for the alert engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "market_alerts"

// Metrics bundles the engine's collectors. A nil *Metrics is valid and records
// nothing, so components can be built without instrumentation in tests.
type Metrics struct {
	snapshots     *prometheus.CounterVec
	triggers      *prometheus.CounterVec
	evalErrors    prometheus.Counter
	evalDuration  prometheus.Histogram
	notifications *prometheus.CounterVec
	queueDropped  prometheus.Counter
	queueDepth    prometheus.Gauge
	rules         prometheus.Gauge
}

// New creates the collectors and registers them on reg when reg is non-nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		snapshots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_total",
			Help:      "Market snapshots received by the bridge, by outcome.",
		}, []string{"status"}),
		triggers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "triggers_total",
			Help:      "Alert triggers produced, by severity.",
		}, []string{"severity"}),
		evalErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_evaluation_errors_total",
			Help:      "Rule evaluations that failed or panicked.",
		}),
		evalDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_duration_seconds",
			Help:      "Duration of one monitoring scan over all enabled rules.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification attempts, by channel and status.",
		}, []string{"channel", "status"}),
		queueDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_dropped_total",
			Help:      "Triggers dropped because the dispatch queue was full.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dispatch_queue_depth",
			Help:      "Triggers waiting in the dispatch queue.",
		}),
		rules: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rules",
			Help:      "Registered alert rules.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.snapshots,
			m.triggers,
			m.evalErrors,
			m.evalDuration,
			m.notifications,
			m.queueDropped,
			m.queueDepth,
			m.rules,
		)
	}
	return m
}

// SnapshotIngested counts a snapshot by outcome (accepted, rejected, dropped).
func (m *Metrics) SnapshotIngested(status string) {
	if m == nil {
		return
	}
	m.snapshots.WithLabelValues(status).Inc()
}

// TriggerFired counts a trigger.
func (m *Metrics) TriggerFired(severity string) {
	if m == nil {
		return
	}
	m.triggers.WithLabelValues(severity).Inc()
}

// EvaluationFailed counts a failed rule evaluation.
func (m *Metrics) EvaluationFailed() {
	if m == nil {
		return
	}
	m.evalErrors.Inc()
}

// ObserveScan records the duration of one monitoring scan.
func (m *Metrics) ObserveScan(d time.Duration) {
	if m == nil {
		return
	}
	m.evalDuration.Observe(d.Seconds())
}

// NotificationSent counts a channel send attempt by status.
func (m *Metrics) NotificationSent(channel, status string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(channel, status).Inc()
}

// DispatchDropped counts a trigger dropped at the queue.
func (m *Metrics) DispatchDropped() {
	if m == nil {
		return
	}
	m.queueDropped.Inc()
}

// SetQueueDepth records the dispatch queue depth.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

// SetRules records the number of registered rules.
func (m *Metrics) SetRules(n int) {
	if m == nil {
		return
	}
	m.rules.Set(float64(n))
}
