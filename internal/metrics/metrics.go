// Package metrics holds the engine's prometheus collectors. They register
// with the default registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/roach88/deduce/internal/ir"
)

var (
	// QueriesTotal counts queries by outcome: "ok" or the error kind.
	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deduce_queries_total",
			Help: "Total number of queries run",
		},
		[]string{"status"},
	)
	// QueryDuration is the latency of queries, compile through result.
	QueryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "deduce_query_duration_seconds",
			Help:    "Query latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
	// FixpointRounds is the number of rounds one query needed.
	FixpointRounds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "deduce_fixpoint_rounds",
			Help:    "Fixpoint rounds per query",
			Buckets: prometheus.ExponentialBuckets(1, 2, 16),
		},
	)
	// PlanCache counts plan cache lookups by result: "hit" or "miss".
	PlanCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deduce_plan_cache_total",
			Help: "Compiled plan cache lookups",
		},
		[]string{"result"},
	)
	// CommitsTotal counts transaction commits by outcome.
	CommitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deduce_commits_total",
			Help: "Total number of commits",
		},
		[]string{"status"},
	)
	// CompactionsTotal counts compaction runs.
	CompactionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deduce_compactions_total",
			Help: "Total number of compaction runs",
		},
	)
	// VersionsReclaimed counts tuple versions removed by compaction.
	VersionsReclaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deduce_versions_reclaimed_total",
			Help: "Tuple versions and tombstones removed by compaction",
		},
	)
)

// Status labels an outcome: "ok" for nil, otherwise the error kind, or
// "error" for errors outside the taxonomy.
func Status(err error) string {
	if err == nil {
		return "ok"
	}
	if kind := ir.KindOf(err); kind != "" {
		return string(kind)
	}
	return "error"
}
