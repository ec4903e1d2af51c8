package rpglot

import (
	"github.com/prometheus/client_golang/prometheus"
)

// selfMetrics is the agent's own telemetry, exposed on /metrics. This is
// observability of the agent itself, not the monitored data path.
type selfMetrics struct {
	ticksTotal     prometheus.Counter
	tickSeconds    prometheus.Histogram
	walEntries     prometheus.Gauge
	chunkFlushes   prometheus.Counter
	pgErrorsTotal  prometheus.Counter
	rotationsTotal prometheus.Counter
	bytesFreed     prometheus.Counter
}

func newSelfMetrics(reg prometheus.Registerer) *selfMetrics {
	m := &selfMetrics{
		ticksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rpglot", Name: "ticks_total",
			Help: "Total number of collection ticks.",
		}),
		tickSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rpglot", Name: "tick_duration_seconds",
			Help:    "Wall-clock duration of collection ticks.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
		}),
		walEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rpglot", Name: "wal_entries",
			Help: "Snapshots currently in the write-ahead log.",
		}),
		chunkFlushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rpglot", Name: "chunk_flushes_total",
			Help: "Total number of chunk flushes.",
		}),
		pgErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rpglot", Name: "postgres_errors_total",
			Help: "Total number of PostgreSQL collection errors.",
		}),
		rotationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rpglot", Name: "rotations_total",
			Help: "Total number of retention passes that removed files.",
		}),
		bytesFreed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rpglot", Name: "rotation_bytes_freed_total",
			Help: "Total bytes freed by retention.",
		}),
	}

	reg.MustRegister(m.ticksTotal, m.tickSeconds, m.walEntries, m.chunkFlushes,
		m.pgErrorsTotal, m.rotationsTotal, m.bytesFreed)
	return m
}
