package service

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/warp/group-ledger/ledger"
)

// Metrics are the service's Prometheus instruments. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	operations  *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	conflicts   *prometheus.CounterVec
	otpFailures prometheus.Counter
}

// NewMetrics registers the instruments with reg. Pass a fresh
// prometheus.NewRegistry() in tests to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "group_ledger_operations_total",
			Help: "Group operations processed, labeled by operation and outcome",
		}, []string{"operation", "outcome"}),

		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "group_ledger_operation_duration_seconds",
			Help:    "Latency distribution of group operations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"operation"}),

		conflicts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "group_ledger_write_conflicts_total",
			Help: "Optimistic concurrency conflicts that triggered a retry",
		}, []string{"operation"}),

		otpFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "group_ledger_otp_delivery_failures_total",
			Help: "Settlement codes that could not be delivered",
		}),
	}
}

func (m *Metrics) observe(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, outcome(err)).Inc()
	m.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *Metrics) conflict(op string) {
	if m == nil {
		return
	}
	m.conflicts.WithLabelValues(op).Inc()
}

func (m *Metrics) otpFailure() {
	if m == nil {
		return
	}
	m.otpFailures.Inc()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ledger.ErrWriteConflict):
		return "conflict"
	case ledger.IsNotFound(err), ledger.IsClientError(err):
		return "rejected"
	default:
		return "error"
	}
}
