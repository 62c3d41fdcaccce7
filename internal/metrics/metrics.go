package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 构建结果标签取值
const (
	OutcomePublished    = "published"
	OutcomeInProgress   = "in_progress"
	OutcomeInsufficient = "insufficient_data"
	OutcomeFailed       = "failed"
)

var (
	BuildsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trending_builds_total",
		Help: "Snapshot build attempts by outcome.",
	}, []string{"outcome"})

	BuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "trending_build_duration_seconds",
		Help:    "Wall time of snapshot builds that acquired the lock.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	IngestItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trending_ingest_items_total",
		Help: "Ingested items by result (saved, skipped, failed).",
	}, []string{"result"})

	PrunedSnapshotsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trending_pruned_snapshots_total",
		Help: "Snapshots removed by the retention pruner.",
	})

	EnrichmentReportsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trending_enrichment_reports_total",
		Help: "Enrichment worker callbacks by reported status.",
	}, []string{"status"})

	LatestPublishedAt = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trending_latest_published_timestamp_seconds",
		Help: "Unix time of the most recent successful publish.",
	})
)
