package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Set holds the agent's Prometheus instruments. A nil *Set is valid and
// turns every method into a no-op, so wiring metrics stays optional in tests.
type Set struct {
	delivered    prometheus.Counter
	failures     prometheus.Counter
	queueDropped prometheus.Counter
	queueLength  prometheus.Gauge
	lastAccuracy prometheus.Gauge
	filteredOut  prometheus.Counter
}

// New creates and registers the instrument set on reg.
func New(reg prometheus.Registerer) *Set {
	s := &Set{
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "waypost_samples_delivered_total",
			Help: "Samples acknowledged by the collector.",
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "waypost_delivery_failures_total",
			Help: "Delivery attempts that failed (network error or non-2xx).",
		}),
		queueDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "waypost_queue_dropped_total",
			Help: "Samples lost to bounded-queue eviction.",
		}),
		queueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "waypost_queue_length",
			Help: "Samples currently buffered awaiting delivery.",
		}),
		lastAccuracy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "waypost_last_fix_accuracy_meters",
			Help: "Reported accuracy of the most recent usable fix.",
		}),
		filteredOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "waypost_samples_filtered_total",
			Help: "Fixes discarded by the accuracy gate before queueing.",
		}),
	}
	reg.MustRegister(s.delivered, s.failures, s.queueDropped,
		s.queueLength, s.lastAccuracy, s.filteredOut)
	return s
}

func (s *Set) IncDelivered() {
	if s != nil {
		s.delivered.Inc()
	}
}

func (s *Set) IncFailure() {
	if s != nil {
		s.failures.Inc()
	}
}

func (s *Set) IncFiltered() {
	if s != nil {
		s.filteredOut.Inc()
	}
}

// AddQueueDropped adds n newly evicted samples to the eviction counter.
// Callers diff the queue's running total between observations.
func (s *Set) AddQueueDropped(n uint64) {
	if s != nil && n > 0 {
		s.queueDropped.Add(float64(n))
	}
}

func (s *Set) SetQueueLength(n int) {
	if s != nil {
		s.queueLength.Set(float64(n))
	}
}

func (s *Set) SetLastAccuracy(meters float64) {
	if s != nil {
		s.lastAccuracy.Set(meters)
	}
}
