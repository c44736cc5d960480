package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the service counters. A nil *Metrics records nothing.
type Metrics struct {
	tasksCreated        *prometheus.CounterVec
	transitions         *prometheus.CounterVec
	lockRetries         *prometheus.CounterVec
	operationFailures   *prometheus.CounterVec
	reviewNotifications *prometheus.CounterVec
	operationDuration   *prometheus.HistogramVec
}

// NewMetrics registers the service metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		// ─── Tasks ───────────────────────────────────────────────────────────

		tasksCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskgate",
			Subsystem: "tasks",
			Name:      "created_total",
			Help:      "Total tasks created, labelled by application.",
		}, []string{"app"}),

		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskgate",
			Subsystem: "tasks",
			Name:      "transitions_total",
			Help:      "Total workflow transitions, labelled by edge.",
		}, []string{"edge"}),

		// ─── Operations ──────────────────────────────────────────────────────

		lockRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskgate",
			Subsystem: "service",
			Name:      "lock_retries_total",
			Help:      "Total retries after transient lock contention.",
		}, []string{"operation"}),

		operationFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskgate",
			Subsystem: "service",
			Name:      "operation_failures_total",
			Help:      "Total failed operations, labelled by error code.",
		}, []string{"operation", "code"}),

		operationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "taskgate",
			Subsystem: "service",
			Name:      "operation_duration_seconds",
			Help:      "Operation latency in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		}, []string{"operation"}),

		// ─── Notifications ───────────────────────────────────────────────────

		reviewNotifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskgate",
			Subsystem: "notify",
			Name:      "review_total",
			Help:      "Total review notifications, labelled by outcome.",
		}, []string{"outcome"}),
	}
}

// TaskCreated counts one created task.
func (m *Metrics) TaskCreated(app string) {
	if m == nil {
		return
	}
	m.tasksCreated.WithLabelValues(app).Inc()
}

// Transition counts one committed transition.
func (m *Metrics) Transition(edge string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(edge).Inc()
}

// LockRetry counts one retry of operation.
func (m *Metrics) LockRetry(operation string) {
	if m == nil {
		return
	}
	m.lockRetries.WithLabelValues(operation).Inc()
}

// OperationFailed counts one failed operation.
func (m *Metrics) OperationFailed(operation, code string) {
	if m == nil {
		return
	}
	m.operationFailures.WithLabelValues(operation, code).Inc()
}

// ObserveOperation records how long operation took.
func (m *Metrics) ObserveOperation(operation string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.operationDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// ReviewNotification counts one notification by outcome (sent, failed, skipped).
func (m *Metrics) ReviewNotification(outcome string) {
	if m == nil {
		return
	}
	m.reviewNotifications.WithLabelValues(outcome).Inc()
}
