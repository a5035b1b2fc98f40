package txdict

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeCommitted  = "committed"
	outcomeRolledBack = "rolled_back"
)

type metrics struct {
	flushes    *prometheus.CounterVec
	intents    *prometheus.CounterVec
	writes     prometheus.Counter
	migrations prometheus.Counter
	duration   prometheus.Histogram
	delivered  prometheus.Counter
	panics     prometheus.Counter
}

// newMetrics builds the collectors and registers them with reg, if any.
// Collectors already registered by another Database on the same registry
// are shared.
func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "txdict",
			Name:      "flushes_total",
			Help:      "Flushes by outcome.",
		}, []string{"outcome"}),
		intents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "txdict",
			Name:      "intents_total",
			Help:      "Mutation intents flushed, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		writes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "txdict",
			Name:      "store_writes_total",
			Help:      "Rows inserted, updated or deleted by committed flushes.",
		}),
		migrations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "txdict",
			Name:      "migrations_total",
			Help:      "Schema preparations run.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "txdict",
			Name:      "flush_duration_seconds",
			Help:      "Time spent holding the writer lock per flush.",
			Buckets:   prometheus.DefBuckets,
		}),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "txdict",
			Name:      "batches_delivered_total",
			Help:      "Change batches delivered to subscribers.",
		}),
		panics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "txdict",
			Name:      "subscriber_panics_total",
			Help:      "Subscriber panics recovered.",
		}),
	}
	if reg == nil {
		return m
	}

	m.flushes = registerCollector(reg, m.flushes)
	m.intents = registerCollector(reg, m.intents)
	m.writes = registerCollector(reg, m.writes)
	m.migrations = registerCollector(reg, m.migrations)
	m.duration = registerCollector(reg, m.duration)
	m.delivered = registerCollector(reg, m.delivered)
	m.panics = registerCollector(reg, m.panics)
	return m
}

func registerCollector[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func (m *metrics) observeFlush(outcome string, elapsed time.Duration, batch []queued, writes int) {
	m.flushes.WithLabelValues(outcome).Inc()
	m.duration.Observe(elapsed.Seconds())
	for _, q := range batch {
		m.intents.WithLabelValues(q.kind().String(), outcome).Inc()
	}
	if outcome == outcomeCommitted {
		m.writes.Add(float64(writes))
	}
}
