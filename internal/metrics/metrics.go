// Package metrics exposes prometheus instrumentation for the mutation queue
// and its background flusher.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles the sync-engine counters and gauges. Construct with a nil
// registerer for a no-op set usable in tests.
type Metrics struct {
	QueueDepth         prometheus.Gauge
	EnqueuedTotal      prometheus.Counter
	FlushCyclesTotal   prometheus.Counter
	AppliedTotal       prometheus.Counter
	RetriedTotal       prometheus.Counter
	DroppedTotal       prometheus.Counter
	PersistErrorsTotal prometheus.Counter
}

// New constructs the metric set and registers it when a registerer is given.
func New(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "risalo_mutation_queue_depth",
			Help: "Pending mutations currently held by the local queue.",
		}),
		EnqueuedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "risalo_mutations_enqueued_total",
			Help: "Mutations accepted by the local queue.",
		}),
		FlushCyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "risalo_flush_cycles_total",
			Help: "Flush cycles that issued a batch request.",
		}),
		AppliedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "risalo_mutations_applied_total",
			Help: "Mutations confirmed applied by the server.",
		}),
		RetriedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "risalo_mutations_retried_total",
			Help: "Mutations requeued after a failed flush attempt.",
		}),
		DroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "risalo_mutations_dropped_total",
			Help: "Mutations abandoned after exhausting retries or on permanent rejection.",
		}),
		PersistErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "risalo_queue_persist_errors_total",
			Help: "Failed writes of the queue to its durable store.",
		}),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.QueueDepth,
			m.EnqueuedTotal,
			m.FlushCyclesTotal,
			m.AppliedTotal,
			m.RetriedTotal,
			m.DroppedTotal,
			m.PersistErrorsTotal,
		)
	}

	return m
}
