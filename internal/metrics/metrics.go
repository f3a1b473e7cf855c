// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Consolidation pass outcomes.
const (
	PassWritten  = "written"
	PassLostRace = "lost_race"
	PassIdle     = "idle"
)

// Backup upload results.
const (
	UploadOK      = "ok"
	UploadFailed  = "failed"
	UploadDropped = "dropped"
	UploadSkipped = "skipped"
)

var (
	BatchesApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_batches_applied_total",
		Help: "Change batches accepted by a tracker",
	})

	BatchesAborted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_batches_aborted_total",
		Help: "Change batches rejected by a tracker",
	})

	Resyncs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_session_resyncs_total",
		Help: "Times a map session rebuilt its state from the canonical feed",
	})

	ConsolidationPasses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_consolidation_passes_total",
		Help: "Consolidation passes by outcome",
	}, []string{"outcome"})

	BatchesConsolidated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_batches_consolidated_total",
		Help: "Incremental batches folded into a base",
	})

	ConsolidationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ws_consolidation_duration_seconds",
		Help:    "Wall time of one Consolidate call",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	FeedSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ws_feed_subscribers",
		Help: "Open websocket feed connections",
	})

	BackupUploads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_backup_uploads_total",
		Help: "Backup objects handled by the mirror, by result",
	}, []string{"result"})

	BackupQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ws_backup_queue_depth",
		Help: "Files waiting for upload",
	})
)
