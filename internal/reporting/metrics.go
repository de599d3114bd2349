package reporting

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts RPC calls and notifier activity.
type Metrics struct {
	calls         *prometheus.CounterVec
	notifications *prometheus.CounterVec
}

// NewMetrics registers the reporting metrics with reg. A nil reg keeps them
// unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		calls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "testfleet_rpc_calls_total",
			Help: "Reporting RPC calls served, by method and outcome (ok, fault).",
		}, []string{"method", "outcome"}),
		notifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "testfleet_notifications_total",
			Help: "Result notifications queued by the worker, by outcome (sent, failed, dropped).",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) call(method, outcome string) {
	if m != nil {
		m.calls.WithLabelValues(method, outcome).Inc()
	}
}

func (m *Metrics) notification(outcome string) {
	if m != nil {
		m.notifications.WithLabelValues(outcome).Inc()
	}
}
