// Package metrics collects the serving path's Prometheus counters and
// histograms (spec §5 "Prometheus metrics on cache hit/miss, UDF timeout
// counts, per-shard fan-out latency"), generalizing the counters torua's
// internal/coordinator/doc.go only gestures at in prose ("Health Metrics",
// "Performance Metrics", "Error Metrics") into real collectors, in the
// style of cockroachdb-pebble's wal package (prometheus.Histogram/Counter
// fields built with prometheus.HistogramOpts/CounterOpts and injected as a
// struct rather than as globals).
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every collector the serving path updates. A nil *Metrics
// is not valid; use New to construct one, or NewUnregistered for a value
// that observes calls but is never scraped (tests).
type Metrics struct {
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter

	UDFTimeouts prometheus.Counter
	UDFErrors   prometheus.Counter

	ShardFanoutLatency *prometheus.HistogramVec

	DeltaRecordsApplied *prometheus.CounterVec
	TombstonesReclaimed prometheus.Counter
}

// New builds a Metrics and registers every collector on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kvfabric",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Number of cache lookups that found a live value.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kvfabric",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Number of cache lookups that found no live value.",
		}),
		UDFTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kvfabric",
			Subsystem: "udf",
			Name:      "timeouts_total",
			Help:      "Number of UDF load/execute calls that hit their timeout.",
		}),
		UDFErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kvfabric",
			Subsystem: "udf",
			Name:      "errors_total",
			Help:      "Number of UDF execute calls that returned an error other than a timeout.",
		}),
		ShardFanoutLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kvfabric",
			Subsystem: "sharded",
			Name:      "fanout_latency_seconds",
			Help:      "Latency of a single shard's leg of a fan-out call, labeled by outcome.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		DeltaRecordsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kvfabric",
			Subsystem: "delta",
			Name:      "records_applied_total",
			Help:      "Number of delta records applied to the cache, labeled by record type.",
		}, []string{"record_type"}),
		TombstonesReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kvfabric",
			Subsystem: "cache",
			Name:      "tombstones_reclaimed_total",
			Help:      "Number of tombstoned keys removed by the GC ticker.",
		}),
	}
	reg.MustRegister(
		m.CacheHits, m.CacheMisses,
		m.UDFTimeouts, m.UDFErrors,
		m.ShardFanoutLatency,
		m.DeltaRecordsApplied,
		m.TombstonesReclaimed,
	)
	return m
}

// NewUnregistered builds a Metrics backed by a private registry, for tests
// and callers that don't want collectors visible on the default registry.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}
