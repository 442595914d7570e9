// Package sweep removes source blobs for envelopes that finished
// processing. Rows stay behind for audit; only the archive itself goes.
package sweep

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/uk-gov-mirror/hmcts.bulk-scan-processor/internal/config"
	"github.com/uk-gov-mirror/hmcts.bulk-scan-processor/internal/envelope"
	"github.com/uk-gov-mirror/hmcts.bulk-scan-processor/internal/monitoring"
)

var log = logrus.WithField("prefix", "sweep")

// Store is the slice of the envelope store the sweeper needs.
type Store interface {
	FindCompleteToSweep(ctx context.Context, container string, cutoff time.Time) ([]envelope.Envelope, error)
	MarkZipDeleted(ctx context.Context, id uuid.UUID) error
}

// Blobs is the blob-store slice the sweeper needs.
type Blobs interface {
	DeleteIfExists(ctx context.Context, container, name, leaseID string) error
}

// Runner deletes blobs for consumed envelopes immediately and for
// processed-but-unconfirmed envelopes once they age past the grace window.
// A failed delete is retried on the next tick because the candidate query
// keys off zip_deleted.
type Runner struct {
	store      Store
	blobs      Blobs
	containers []config.ContainerConfig
	grace      time.Duration
}

func NewRunner(store Store, blobs Blobs, containers []config.ContainerConfig, grace time.Duration) *Runner {
	return &Runner{store: store, blobs: blobs, containers: containers, grace: grace}
}

func (r *Runner) Name() string { return "sweep" }

func (r *Runner) RunOnce(ctx context.Context) error {
	cutoff := time.Now().Add(-r.grace)
	for _, cont := range r.containers {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.sweepContainer(ctx, cont.Name, cutoff)
	}
	return nil
}

func (r *Runner) sweepContainer(ctx context.Context, container string, cutoff time.Time) {
	envs, err := r.store.FindCompleteToSweep(ctx, container, cutoff)
	if err != nil {
		log.WithError(err).WithField("container", container).Error("find sweep candidates")
		return
	}
	for i := range envs {
		if ctx.Err() != nil {
			return
		}
		env := &envs[i]
		entry := log.WithFields(logrus.Fields{
			"container":     container,
			"zip_file_name": env.ZipFileName,
			"envelope_id":   env.ID.String(),
		})
		if err := r.blobs.DeleteIfExists(ctx, container, env.ZipFileName, ""); err != nil {
			entry.WithError(err).Error("delete completed blob")
			continue
		}
		if err := r.store.MarkZipDeleted(ctx, env.ID); err != nil {
			entry.WithError(err).Error("mark zip deleted")
			continue
		}
		monitoring.BlobsSwept.WithLabelValues(container).Inc()
		entry.WithField("status", string(env.Status)).Info("completed blob deleted")
	}
}
