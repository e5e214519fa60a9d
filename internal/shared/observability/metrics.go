package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics definitions
var (
	CommitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vrdf_commits_total",
		Help: "Changesets resolved, by dataset and outcome (committed, aborted, rejected, failed).",
	}, []string{"dataset", "outcome"})

	CommitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vrdf_commit_seconds",
		Help:    "Time from commit start to durable append, hooks included.",
		Buckets: prometheus.DefBuckets,
	})

	LogEntriesAppendedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vrdf_log_entries_appended_total",
		Help: "Total number of operations appended to the triple log.",
	})

	MaterializeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vrdf_materialize_seconds",
		Help:    "Time spent materializing a graph, by mode (full, checkpoint, union).",
		Buckets: prometheus.DefBuckets,
	}, []string{"mode"})

	CheckpointHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vrdf_checkpoint_hits_total",
		Help: "Materializations that started from a stored checkpoint.",
	})

	CheckpointMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vrdf_checkpoint_misses_total",
		Help: "Checkpoint lookups that found nothing stored.",
	})

	HookFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vrdf_hook_failures_total",
		Help: "Hook failures by phase (precommit, postcommit).",
	}, []string{"phase"})

	OpenChangesets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vrdf_open_changesets",
		Help: "Current number of open changesets across all datasets.",
	})

	WatcherEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vrdf_watcher_events_total",
		Help: "Raw filesystem events seen by the document watcher.",
	})

	MirrorSyncsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vrdf_mirror_syncs_total",
		Help: "Document syncs by outcome (committed, unchanged, failed).",
	}, []string{"outcome"})
)
