// Package monitoring exposes the pipeline's Prometheus collectors.
package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EnvelopesParsed counts envelopes successfully persisted, by container.
	EnvelopesParsed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bulkscan_envelopes_parsed_total",
		Help: "Envelopes successfully parsed and persisted, by container.",
	}, []string{"container"})

	// EnvelopesRejected counts zip files rejected during ingestion.
	EnvelopesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bulkscan_envelopes_rejected_total",
		Help: "Zip files rejected during ingestion, by container and event kind.",
	}, []string{"container", "event"})

	// UploadOutcomes counts document store upload attempts by outcome
	// (success or failure).
	UploadOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bulkscan_document_uploads_total",
		Help: "Document store upload attempts, by container and outcome.",
	}, []string{"container", "outcome"})

	// SummariesPublished counts processed-envelope summaries handed to the bus.
	SummariesPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bulkscan_envelope_summaries_published_total",
		Help: "Processed-envelope summaries published, by container.",
	}, []string{"container"})

	// ConfirmationsConsumed counts downstream confirmations applied.
	ConfirmationsConsumed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bulkscan_confirmations_consumed_total",
		Help: "Downstream confirmations that completed an envelope.",
	})

	// BlobsSwept counts source blobs removed after completion.
	BlobsSwept = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bulkscan_blobs_swept_total",
		Help: "Source blobs deleted after completion, by container.",
	}, []string{"container"})

	// TickDuration observes how long one scheduler pass takes per job.
	TickDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bulkscan_job_tick_seconds",
		Help:    "Duration of one scheduler pass, by job.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
)

// ObserveTick records one scheduler pass.
func ObserveTick(job string, d time.Duration) {
	TickDuration.WithLabelValues(job).Observe(d.Seconds())
}
