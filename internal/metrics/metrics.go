// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "federated"

const (
	// ResultSuccess labels a fully successful call.
	ResultSuccess = "success"
	// ResultPartial labels a call that excluded failed shards or stores.
	ResultPartial = "partial"
	// ResultError labels a failed call.
	ResultError = "error"
)

var (
	storeOnline = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "online",
			Help:      "Latest health probe result per store (1=online, 0=offline).",
		},
		[]string{"store"},
	)

	storeProbeSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "probe_duration_seconds",
			Help:      "Store health probe latency in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"store"},
	)

	federatedQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "federated_queries_total",
			Help:      "Federated queries, partitioned by mode (routed, fanout) and result.",
		},
		[]string{"mode", "result"},
	)

	searchQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "queries_total",
			Help:      "Search queries, partitioned by result.",
		},
		[]string{"result"},
	)

	searchShardFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "shard_failures_total",
			Help:      "Shard calls excluded from a merge because they failed or timed out.",
		},
		[]string{"shard"},
	)

	searchSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "duration_seconds",
			Help:      "End-to-end search latency including fan-out and merge.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	indexedDocuments = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "documents",
			Help:      "Documents held across all shards.",
		},
	)

	violationsFound = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rules",
			Name:      "violations_total",
			Help:      "Violations found by scans, partitioned by rule and severity.",
		},
		[]string{"rule", "severity"},
	)

	fixOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rules",
			Name:      "fix_outcomes_total",
			Help:      "Remediation outcomes (fixed, failed, skipped).",
		},
		[]string{"outcome"},
	)

	monitorTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "ticks_total",
			Help:      "Monitor ticks, partitioned by result (ok, degraded, skipped).",
		},
		[]string{"result"},
	)
)

// Register attaches the collectors to reg.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		storeOnline,
		storeProbeSeconds,
		federatedQueries,
		searchQueries,
		searchShardFailures,
		searchSeconds,
		indexedDocuments,
		violationsFound,
		fixOutcomes,
		monitorTicks,
	}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveProbe records a store probe.
func ObserveProbe(store string, online bool, d time.Duration) {
	v := 0.0
	if online {
		v = 1
	}
	storeOnline.WithLabelValues(store).Set(v)
	storeProbeSeconds.WithLabelValues(store).Observe(clamp(d).Seconds())
}

// ObserveFederatedQuery records a federated query by mode and result.
func ObserveFederatedQuery(mode, result string) {
	federatedQueries.WithLabelValues(mode, result).Inc()
}

// ObserveSearch records a search call.
func ObserveSearch(result string, d time.Duration) {
	searchQueries.WithLabelValues(result).Inc()
	searchSeconds.Observe(clamp(d).Seconds())
}

// ObserveShardFailure records a shard excluded from a merge.
func ObserveShardFailure(shard string) {
	searchShardFailures.WithLabelValues(shard).Inc()
}

// SetIndexedDocuments publishes the current document count.
func SetIndexedDocuments(n int) {
	indexedDocuments.Set(float64(n))
}

// ObserveViolation records one violation found by a scan.
func ObserveViolation(rule, severity string) {
	violationsFound.WithLabelValues(rule, severity).Inc()
}

// ObserveFixOutcomes adds remediation tallies.
func ObserveFixOutcomes(fixed, failed, skipped int) {
	fixOutcomes.WithLabelValues("fixed").Add(float64(fixed))
	fixOutcomes.WithLabelValues("failed").Add(float64(failed))
	fixOutcomes.WithLabelValues("skipped").Add(float64(skipped))
}

// ObserveMonitorTick records a monitor tick result.
func ObserveMonitorTick(result string) {
	monitorTicks.WithLabelValues(result).Inc()
}

func clamp(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
