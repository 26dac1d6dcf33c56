// Package metrics defines the Prometheus metrics the pipeline binaries
// record (cmd/snapshot-build, cmd/backfill, cmd/reconcile); cmd/snapshot-build
// and cmd/reconcile also serve them over /metrics. Counter/histogram/gauge construction via promauto and
// the exposed handler are grounded on the teacher's cmd/api/metrics.go;
// the Registry-struct-of-metrics shape is grounded on the teacher's
// internal/metrics/registry.go, adapted from per-domain (bid/call/
// compliance) metrics to the snapshot pipeline's own domain (builds,
// district outcomes, cache, jobs).
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every metric the pipeline records.
type Registry struct {
	BuildsTotal        *prometheus.CounterVec
	BuildDuration      *prometheus.HistogramVec
	DistrictOutcomes   *prometheus.CounterVec
	SnapshotDistricts  prometheus.Gauge

	CacheHits      *prometheus.CounterVec
	CacheMisses    *prometheus.CounterVec
	CacheEvictions *prometheus.CounterVec

	BackfillJobsTotal    *prometheus.CounterVec
	BackfillJobsActive   prometheus.Gauge
	BackfillDatesFetched *prometheus.CounterVec

	ReconcileAttemptsTotal *prometheus.CounterVec
	ReconcilePendingGauge  prometheus.Gauge
}

// NewRegistry constructs and registers every pipeline metric against the
// default Prometheus registerer. Call once per process.
func NewRegistry() *Registry {
	return New(prometheus.DefaultRegisterer)
}

// New constructs and registers every pipeline metric against reg. Tests
// pass a fresh prometheus.NewRegistry() to avoid colliding with other
// Registry instances in the same test binary.
func New(reg prometheus.Registerer) *Registry {
	f := promauto.With(reg)
	return &Registry{
		BuildsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tsp",
				Subsystem: "builder",
				Name:      "runs_total",
				Help:      "Total number of snapshot builds, by terminal status",
			},
			[]string{"status"},
		),
		BuildDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "tsp",
				Subsystem: "builder",
				Name:      "run_duration_seconds",
				Help:      "Snapshot build wall-clock duration",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~200s
			},
			[]string{"status"},
		),
		DistrictOutcomes: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tsp",
				Subsystem: "builder",
				Name:      "district_outcomes_total",
				Help:      "Per-district build outcomes (included, missing, failed)",
			},
			[]string{"outcome"},
		),
		SnapshotDistricts: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "tsp",
				Subsystem: "builder",
				Name:      "last_snapshot_district_count",
				Help:      "Number of districts included in the most recent snapshot",
			},
		),

		CacheHits: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tsp",
				Subsystem: "cache",
				Name:      "hits_total",
				Help:      "Aggregator cache hits, by tier (l1, l2)",
			},
			[]string{"tier"},
		),
		CacheMisses: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tsp",
				Subsystem: "cache",
				Name:      "misses_total",
				Help:      "Aggregator cache misses, by tier (l1, l2)",
			},
			[]string{"tier"},
		),
		CacheEvictions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tsp",
				Subsystem: "cache",
				Name:      "evictions_total",
				Help:      "Aggregator LRU evictions",
			},
			[]string{"tier"},
		),

		BackfillJobsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tsp",
				Subsystem: "backfill",
				Name:      "jobs_total",
				Help:      "Total backfill jobs, by terminal status",
			},
			[]string{"status"},
		),
		BackfillJobsActive: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "tsp",
				Subsystem: "backfill",
				Name:      "jobs_active",
				Help:      "Number of backfill jobs currently processing",
			},
		),
		BackfillDatesFetched: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tsp",
				Subsystem: "backfill",
				Name:      "dates_fetched_total",
				Help:      "Per-date backfill fetch outcomes",
			},
			[]string{"outcome"}, // completed, skipped, unavailable, failed
		),

		ReconcileAttemptsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tsp",
				Subsystem: "reconcile",
				Name:      "attempts_total",
				Help:      "Month-end reconciliation initiation attempts, by outcome",
			},
			[]string{"outcome"}, // initiated, failed
		),
		ReconcilePendingGauge: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "tsp",
				Subsystem: "reconcile",
				Name:      "entries_pending",
				Help:      "Number of reconciliation entries not yet initiated",
			},
		),
	}
}

// Handler returns the Prometheus scrape handler for a cmd/ binary to
// mount at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordBuild records one snapshot build's terminal status and duration.
func (r *Registry) RecordBuild(status string, duration time.Duration) {
	r.BuildsTotal.WithLabelValues(status).Inc()
	r.BuildDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordDistrictOutcomes tallies one build's per-district result counts.
func (r *Registry) RecordDistrictOutcomes(included, missing, failed int) {
	r.DistrictOutcomes.WithLabelValues("included").Add(float64(included))
	r.DistrictOutcomes.WithLabelValues("missing").Add(float64(missing))
	r.DistrictOutcomes.WithLabelValues("failed").Add(float64(failed))
	r.SnapshotDistricts.Set(float64(included))
}

// RecordCacheStats mirrors an aggregator.CacheStats snapshot into the
// cumulative Prometheus counters for tier.
func (r *Registry) RecordCacheStats(tier string, hits, misses, evictions int64) {
	if hits > 0 {
		r.CacheHits.WithLabelValues(tier).Add(float64(hits))
	}
	if misses > 0 {
		r.CacheMisses.WithLabelValues(tier).Add(float64(misses))
	}
	if evictions > 0 {
		r.CacheEvictions.WithLabelValues(tier).Add(float64(evictions))
	}
}

// RecordBackfillJob records one backfill job's terminal status.
func (r *Registry) RecordBackfillJob(status string) {
	r.BackfillJobsTotal.WithLabelValues(status).Inc()
}

// RecordBackfillDate records one date's fetch outcome within a backfill job.
func (r *Registry) RecordBackfillDate(outcome string) {
	r.BackfillDatesFetched.WithLabelValues(outcome).Inc()
}

// SetBackfillJobsActive sets the current active-job gauge.
func (r *Registry) SetBackfillJobsActive(count int) {
	r.BackfillJobsActive.Set(float64(count))
}

// RecordReconcileAttempt records one reconciliation initiation attempt.
func (r *Registry) RecordReconcileAttempt(outcome string) {
	r.ReconcileAttemptsTotal.WithLabelValues(outcome).Inc()
}

// SetReconcilePending sets the pending-entries gauge.
func (r *Registry) SetReconcilePending(count int) {
	r.ReconcilePendingGauge.Set(float64(count))
}
