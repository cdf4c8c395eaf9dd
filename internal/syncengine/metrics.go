package syncengine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pendingEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sync_pending_entries",
		Help: "Captured attendance entries waiting to be synced.",
	})
	syncedEntries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sync_entries_total",
		Help: "Attendance entries successfully synced to the directory.",
	})
	syncFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sync_failures_total",
		Help: "Sync runs aborted by a remote or storage failure.",
	})
	retriesScheduled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sync_retries_total",
		Help: "Backoff retries scheduled after a failed sync run.",
	})
	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sync_run_duration_seconds",
		Help:    "Duration of successful sync runs.",
		Buckets: prometheus.DefBuckets,
	})
)
