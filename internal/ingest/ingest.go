// Package ingest turns signed archives in the input containers into
// persisted envelopes.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/uk-gov-mirror/hmcts.bulk-scan-processor/internal/blobstore"
	"github.com/uk-gov-mirror/hmcts.bulk-scan-processor/internal/config"
	"github.com/uk-gov-mirror/hmcts.bulk-scan-processor/internal/database"
	"github.com/uk-gov-mirror/hmcts.bulk-scan-processor/internal/envelope"
	"github.com/uk-gov-mirror/hmcts.bulk-scan-processor/internal/metafile"
	"github.com/uk-gov-mirror/hmcts.bulk-scan-processor/internal/monitoring"
	"github.com/uk-gov-mirror/hmcts.bulk-scan-processor/internal/notify"
	"github.com/uk-gov-mirror/hmcts.bulk-scan-processor/internal/zipverify"
)

var log = logrus.WithField("prefix", "ingest")

// Store is the slice of the envelope store ingestion needs.
type Store interface {
	FindByContainerAndFile(ctx context.Context, container, zipFileName string) (*envelope.Envelope, error)
	Insert(ctx context.Context, env *envelope.Envelope) error
	InsertEvent(ctx context.Context, container, zipFileName string, kind envelope.EventKind, reason string) (int64, error)
	MarkZipDeleted(ctx context.Context, id uuid.UUID) error
}

// Notifier sends rejection notifications to the supplier.
type Notifier interface {
	PublishError(ctx context.Context, msg *notify.ErrorMsg)
}

// Coordinator walks the input containers once per pass, verifying and
// persisting whatever archives it can lease. Every failure is contained to
// its archive; one bad blob never stops the pass.
type Coordinator struct {
	gateway    blobstore.Gateway
	store      Store
	verifier   *zipverify.Verifier
	notifier   Notifier
	containers []config.ContainerConfig
	delay      time.Duration
}

// NewCoordinator wires the ingestion pass. processingDelay is how long a
// blob must sit unmodified before it is picked up, so half-written uploads
// are left alone.
func NewCoordinator(gateway blobstore.Gateway, store Store, verifier *zipverify.Verifier, notifier Notifier, containers []config.ContainerConfig, processingDelay time.Duration) *Coordinator {
	return &Coordinator{
		gateway:    gateway,
		store:      store,
		verifier:   verifier,
		notifier:   notifier,
		containers: containers,
		delay:      processingDelay,
	}
}

func (c *Coordinator) Name() string { return "ingest" }

// RunOnce processes every input container sequentially.
func (c *Coordinator) RunOnce(ctx context.Context) error {
	for _, cont := range c.containers {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.processContainer(ctx, cont)
	}
	return nil
}

func (c *Coordinator) processContainer(ctx context.Context, cont config.ContainerConfig) {
	names, err := c.gateway.ListArchives(ctx, cont.Name)
	if err != nil {
		log.WithError(err).WithField("container", cont.Name).Error("list archives")
		return
	}
	rand.Shuffle(len(names), func(i, j int) { names[i], names[j] = names[j], names[i] })

	for _, name := range names {
		if ctx.Err() != nil {
			return
		}
		c.processArchive(ctx, cont, name)
	}
}

func (c *Coordinator) processArchive(ctx context.Context, cont config.ContainerConfig, name string) {
	entry := log.WithFields(logrus.Fields{"container": cont.Name, "zip_file_name": name})

	props, err := c.gateway.Properties(ctx, cont.Name, name)
	if err != nil {
		entry.WithError(err).Error("read blob properties")
		return
	}
	if time.Since(props.LastModified) < c.delay {
		entry.Debug("blob newer than processing delay, skipping")
		return
	}

	existing, err := c.store.FindByContainerAndFile(ctx, cont.Name, name)
	switch {
	case err == nil:
		if existing.Status.IsProcessed() && !existing.ZipDeleted {
			c.deleteProcessedBlob(ctx, entry, cont.Name, name, existing)
		} else {
			entry.WithField("status", string(existing.Status)).Debug("envelope already in flight, skipping")
		}
		return
	case !errors.Is(err, database.ErrNotFound):
		entry.WithError(err).Error("look up existing envelope")
		return
	}

	leaseID, err := c.gateway.AcquireLease(ctx, cont.Name, name)
	if errors.Is(err, blobstore.ErrBlobBusy) {
		entry.Debug("blob leased elsewhere, skipping")
		return
	}
	if err != nil {
		entry.WithError(err).Error("acquire lease")
		return
	}

	blobGone := c.handleArchive(ctx, entry, cont, name, leaseID)
	if !blobGone {
		c.gateway.ReleaseLease(ctx, cont.Name, name, leaseID)
	}
}

func (c *Coordinator) deleteProcessedBlob(ctx context.Context, entry *logrus.Entry, container, name string, env *envelope.Envelope) {
	if err := c.gateway.DeleteIfExists(ctx, container, name, ""); err != nil {
		entry.WithError(err).Error("delete processed blob")
		return
	}
	if err := c.store.MarkZipDeleted(ctx, env.ID); err != nil {
		entry.WithError(err).Error("mark zip deleted")
		return
	}
	monitoring.BlobsSwept.WithLabelValues(container).Inc()
	entry.Info("processed blob deleted")
}

// handleArchive runs verification through persistence for one leased blob
// and reports whether the blob was moved away, which also ends the lease.
func (c *Coordinator) handleArchive(ctx context.Context, entry *logrus.Entry, cont config.ContainerConfig, name, leaseID string) bool {
	data, err := c.gateway.Download(ctx, cont.Name, name, leaseID)
	if err != nil {
		entry.WithError(err).Error("download archive")
		return false
	}

	env, err := c.buildEnvelope(cont, name, data)
	if err != nil {
		return c.reject(ctx, entry, cont, name, leaseID, err)
	}

	if err := c.store.Insert(ctx, env); err != nil {
		c.recordFailure(ctx, entry, cont.Name, name, err.Error())
		return false
	}
	monitoring.EnvelopesParsed.WithLabelValues(cont.Name).Inc()
	entry.WithField("envelope_id", env.ID.String()).Info("envelope created")
	return false
}

func (c *Coordinator) buildEnvelope(cont config.ContainerConfig, name string, data []byte) (*envelope.Envelope, error) {
	inner, err := c.verifier.Verify(zipverify.Archive{
		Container:   cont.Name,
		ZipFileName: name,
		Data:        data,
	})
	if err != nil {
		return nil, err
	}
	content, err := metafile.ExtractContent(inner)
	if err != nil {
		return nil, err
	}
	// Every later stage locates the blob by the envelope's zip file name, so
	// the declared name must be the actual one.
	if content.Envelope.ZipFileName != name {
		return nil, &envelope.MappingError{Reason: fmt.Sprintf(
			"Zip file name mismatch: blob is %s, metafile declares %s",
			name, content.Envelope.ZipFileName)}
	}
	return envelope.FromMetafile(content.Envelope, content.PdfNames(), cont.Name, cont.Jurisdiction)
}

// reject routes a classified terminal failure: event, notification, move to
// the rejected container. Unclassified failures record DOC_FAILURE and leave
// the blob in place for inspection. Reports whether the blob is gone.
func (c *Coordinator) reject(ctx context.Context, entry *logrus.Entry, cont config.ContainerConfig, name, leaseID string, cause error) bool {
	kind, code := classify(cause)
	if kind == envelope.EventDocFailure {
		c.recordFailure(ctx, entry, cont.Name, name, cause.Error())
		return false
	}

	entry.WithError(cause).WithField("event", string(kind)).Warn("archive rejected")
	eventID, err := c.store.InsertEvent(ctx, cont.Name, name, kind, cause.Error())
	if err != nil {
		entry.WithError(err).Error("record rejection event")
		return false
	}
	monitoring.EnvelopesRejected.WithLabelValues(cont.Name, string(kind)).Inc()

	c.notifier.PublishError(ctx, &notify.ErrorMsg{
		EventID:          eventID,
		ZipFileName:      name,
		Container:        cont.Name,
		ErrorCode:        code,
		ErrorDescription: cause.Error(),
		TestOnly:         cont.Test,
	})

	if err := c.gateway.MoveToRejected(ctx, cont.Name, name, leaseID); err != nil {
		entry.WithError(err).Error("move archive to rejected container")
		return false
	}
	entry.Info("archive moved to rejected container")
	return true
}

func (c *Coordinator) recordFailure(ctx context.Context, entry *logrus.Entry, container, name, reason string) {
	entry.WithField("reason", reason).Error("archive processing failed")
	if _, err := c.store.InsertEvent(ctx, container, name, envelope.EventDocFailure, reason); err != nil {
		entry.WithError(err).Error("record failure event")
	}
}

func classify(err error) (envelope.EventKind, string) {
	var sigErr *zipverify.SignatureError
	if errors.As(err, &sigErr) {
		return envelope.EventDocSignatureFailure, notify.CodeSigVerifyFailed
	}
	var valErr *metafile.ValidationError
	if errors.As(err, &valErr) {
		return envelope.EventFileValidationFailure, notify.CodeMetafileInvalid
	}
	var mapErr *envelope.MappingError
	if errors.As(err, &mapErr) {
		return envelope.EventFileValidationFailure, notify.CodeMetafileInvalid
	}
	return envelope.EventDocFailure, notify.CodeZipProcessingFailed
}
