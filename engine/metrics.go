// ABOUTME: Prometheus metrics of one engine, on a registry owned by that engine
// ABOUTME: Engines running side by side never share collectors

package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	registry *prometheus.Registry

	events        *prometheus.CounterVec
	fieldAccesses prometheus.Counter
	queryHits     prometheus.Counter
	snapshots     prometheus.Counter
	traceErrors   prometheus.Counter
	precision     prometheus.Histogram
	complexity    prometheus.Gauge
	objects       prometheus.Gauge
	edges         prometheus.Gauge
}

func newMetrics(abstraction string) *metrics {
	labels := prometheus.Labels{"abstraction": abstraction}
	m := &metrics{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "heapsnap",
			Name:        "events_total",
			Help:        "Trace events processed, by kind.",
			ConstLabels: labels,
		}, []string{"kind"}),
		fieldAccesses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "heapsnap",
			Name:        "field_accesses_total",
			Help:        "Field and array accesses observed after filtering.",
			ConstLabels: labels,
		}),
		queryHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "heapsnap",
			Name:        "query_hits_total",
			Help:        "Query observations recorded.",
			ConstLabels: labels,
		}),
		snapshots: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "heapsnap",
			Name:        "snapshots_total",
			Help:        "Snapshots taken.",
			ConstLabels: labels,
		}),
		traceErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "heapsnap",
			Name:        "trace_errors_total",
			Help:        "Recoverable trace inconsistencies.",
			ConstLabels: labels,
		}),
		precision: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "heapsnap",
			Name:        "snapshot_precision",
			Help:        "Precision of snapshots with a non-empty proposed set.",
			ConstLabels: labels,
			Buckets:     prometheus.LinearBuckets(0.1, 0.1, 10),
		}),
		complexity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "heapsnap",
			Name:        "complexity",
			Help:        "Distinct abstract values at the last computation.",
			ConstLabels: labels,
		}),
		objects: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "heapsnap",
			Name:        "objects",
			Help:        "Objects in the concrete graph.",
			ConstLabels: labels,
		}),
		edges: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "heapsnap",
			Name:        "edges",
			Help:        "Edges in the concrete graph.",
			ConstLabels: labels,
		}),
	}
	m.registry.MustRegister(m.events, m.fieldAccesses, m.queryHits, m.snapshots,
		m.traceErrors, m.precision, m.complexity, m.objects, m.edges)
	return m
}
