package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	CapturedMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capture_messages_total",
			Help: "Total number of messages appended to the capture store (count)",
		},
		[]string{"status"},
	)

	CaptureBacklog = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "capture_backlog",
			Help: "Number of capture rows still unprocessed (count)",
		},
	)

	DedupMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dedup_messages_total",
			Help: "Total number of staged messages resolved by deduplication (count)",
		},
		[]string{"status"},
	)

	PipelineBatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_batches_total",
			Help: "Total number of pipeline batches by terminal status (count)",
		},
		[]string{"status"},
	)

	BatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pipeline_batch_duration_ms",
			Help:    "End-to-end batch duration in milliseconds",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
	)

	CommitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clean_commit_duration_ms",
			Help:    "Clean store commit transaction duration in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		},
		[]string{"status"},
	)

	CleanStoreSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "clean_store_size",
			Help: "Number of rows in the clean store (count)",
		},
	)

	SnapshotsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapshots_total",
			Help: "Total number of snapshots taken (count)",
		},
		[]string{"type", "status"},
	)

	SnapshotSizeBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "snapshot_size_bytes",
			Help: "Size of the most recent snapshot in bytes",
		},
	)

	SnapshotRestoresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapshot_restores_total",
			Help: "Total number of snapshot restores (count)",
		},
		[]string{"status"},
	)

	StaleBatchesRecovered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stale_batches_recovered_total",
			Help: "Batches found in started state at startup and failed (count)",
		},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_requests_total",
			Help: "HTTP requests seen by the rate limiter (count)",
		},
		[]string{"status"},
	)
)

func RegisterPipelineMetrics() {
	prometheus.MustRegister(
		CapturedMessagesTotal,
		CaptureBacklog,
		DedupMessagesTotal,
		PipelineBatchesTotal,
		BatchDuration,
		CommitDuration,
		CleanStoreSize,
		StaleBatchesRecovered,
	)
}

func RegisterHTTPMetrics() {
	prometheus.MustRegister(RateLimitRequestsTotal)
}

func RegisterSnapshotMetrics() {
	prometheus.MustRegister(
		SnapshotsTotal,
		SnapshotSizeBytes,
		SnapshotRestoresTotal,
	)
}

func ObserveBatchDuration(d time.Duration) {
	BatchDuration.Observe(float64(d.Milliseconds()))
}

func ObserveCommitDuration(d time.Duration, status string) {
	CommitDuration.WithLabelValues(status).Observe(float64(d.Milliseconds()))
}
