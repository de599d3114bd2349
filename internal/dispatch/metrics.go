package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts tickets through the publisher and the consumer.
type Metrics struct {
	published *prometheus.CounterVec
	consumed  *prometheus.CounterVec
}

// NewMetrics registers the dispatch metrics with reg. A nil reg keeps them
// unregistered, which is what tests want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		published: f.NewCounterVec(prometheus.CounterOpts{
			Name: "testfleet_tickets_published_total",
			Help: "Tickets handed to the broker, by outcome (ok, failed, skipped).",
		}, []string{"result"}),
		consumed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "testfleet_tickets_consumed_total",
			Help: "Tickets taken from the broker, by outcome (ok, invalid, stop, error).",
		}, []string{"result"}),
	}
}
