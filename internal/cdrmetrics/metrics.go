// Package cdrmetrics exposes Prometheus collectors for one engine run,
// mirroring the counters/histograms style the ingest side of the teacher
// registers at package init and increments directly from the pipeline.
package cdrmetrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "cdr_observatory"

var (
	LinesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "lines_total",
		Help:      "Total input lines read from all sources.",
	})

	ParseErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "parse_errors_total",
		Help:      "Total CDR lines that failed to parse and were skipped.",
	})

	LegsCached = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "legs_cached",
		Help:      "Current number of legs held in the correlation cache.",
	})

	CallsEmittedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "calls_emitted_total",
		Help:      "Total finalized calls written to sinks, by call direction.",
	}, []string{"direction"})

	UnknownEndpointsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "unknown_endpoints_total",
		Help:      "Total SIP endpoints seen that were not present in the endpoint classifier map.",
	})

	CacheEvictionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_evictions_total",
		Help:      "Total groups finalized early due to MAX_CACHED_LEGS eviction rather than end-of-run drain.",
	})

	EarlyEmitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "early_emits_total",
		Help:      "Total groups finalized early via completion-detection (unambiguous Incoming, no forwarding) rather than eviction or end-of-run drain.",
	})
)

func init() {
	prometheus.MustRegister(
		LinesTotal,
		ParseErrorsTotal,
		LegsCached,
		CallsEmittedTotal,
		UnknownEndpointsTotal,
		CacheEvictionsTotal,
		EarlyEmitsTotal,
	)
}
