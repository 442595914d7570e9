// Package upload pushes the PDFs of freshly created envelopes into the
// document store and records the outcome on the state machine.
package upload

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/uk-gov-mirror/hmcts.bulk-scan-processor/internal/blobstore"
	"github.com/uk-gov-mirror/hmcts.bulk-scan-processor/internal/database"
	"github.com/uk-gov-mirror/hmcts.bulk-scan-processor/internal/documents"
	"github.com/uk-gov-mirror/hmcts.bulk-scan-processor/internal/envelope"
	"github.com/uk-gov-mirror/hmcts.bulk-scan-processor/internal/metafile"
	"github.com/uk-gov-mirror/hmcts.bulk-scan-processor/internal/monitoring"
	"github.com/uk-gov-mirror/hmcts.bulk-scan-processor/internal/zipverify"
)

var log = logrus.WithField("prefix", "upload")

// Store is the slice of the envelope store the uploader needs.
type Store interface {
	FindEnvelopesToUpload(ctx context.Context, maxFailures int) ([]envelope.Envelope, error)
	Transition(ctx context.Context, id uuid.UUID, kind envelope.EventKind, opts database.TransitionOptions) error
}

// Blobs is the blob-store slice the uploader needs.
type Blobs interface {
	AcquireLease(ctx context.Context, container, name string) (string, error)
	ReleaseLease(ctx context.Context, container, name, leaseID string)
	Download(ctx context.Context, container, name, leaseID string) ([]byte, error)
}

// Runner retries document uploads for envelopes sitting in CREATED or
// UPLOAD_FAILURE until they succeed or exhaust the failure budget. Budget
// exhaustion is enforced by the candidate query, so a parked envelope
// simply stops appearing here.
type Runner struct {
	gateway     Blobs
	store       Store
	verifier    *zipverify.Verifier
	documents   documents.Uploader
	maxFailures int
}

func NewRunner(gateway Blobs, store Store, verifier *zipverify.Verifier, uploader documents.Uploader, maxFailures int) *Runner {
	return &Runner{
		gateway:     gateway,
		store:       store,
		verifier:    verifier,
		documents:   uploader,
		maxFailures: maxFailures,
	}
}

func (r *Runner) Name() string { return "upload" }

// RunOnce uploads documents for every candidate envelope sequentially.
func (r *Runner) RunOnce(ctx context.Context) error {
	envs, err := r.store.FindEnvelopesToUpload(ctx, r.maxFailures)
	if err != nil {
		return fmt.Errorf("find envelopes to upload: %w", err)
	}
	for i := range envs {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.processEnvelope(ctx, &envs[i])
	}
	return nil
}

func (r *Runner) processEnvelope(ctx context.Context, env *envelope.Envelope) {
	entry := log.WithFields(logrus.Fields{
		"container":     env.Container,
		"zip_file_name": env.ZipFileName,
		"envelope_id":   env.ID.String(),
	})

	leaseID, err := r.gateway.AcquireLease(ctx, env.Container, env.ZipFileName)
	if errors.Is(err, blobstore.ErrBlobBusy) {
		entry.Debug("blob leased elsewhere, skipping")
		return
	}
	if err != nil {
		r.recordFailure(ctx, entry, env, fmt.Sprintf("acquire lease: %v", err))
		return
	}
	defer r.gateway.ReleaseLease(ctx, env.Container, env.ZipFileName, leaseID)

	urls, err := r.uploadPdfs(ctx, env, leaseID)
	if err != nil {
		r.recordFailure(ctx, entry, env, err.Error())
		return
	}

	err = r.store.Transition(ctx, env.ID, envelope.EventDocUploaded, database.TransitionOptions{
		DocumentURLs: urls,
	})
	if err != nil {
		entry.WithError(err).Error("record successful upload")
		return
	}
	monitoring.UploadOutcomes.WithLabelValues(env.Container, "success").Inc()
	entry.WithField("documents", len(urls)).Info("documents uploaded")
}

// uploadPdfs re-reads the archive under the lease, verifies it again and
// submits the full PDF set in one request. Every declared scannable item
// must come back with a URL.
func (r *Runner) uploadPdfs(ctx context.Context, env *envelope.Envelope, leaseID string) (map[string]string, error) {
	data, err := r.gateway.Download(ctx, env.Container, env.ZipFileName, leaseID)
	if err != nil {
		return nil, err
	}
	inner, err := r.verifier.Verify(zipverify.Archive{
		Container:   env.Container,
		ZipFileName: env.ZipFileName,
		Data:        data,
	})
	if err != nil {
		return nil, err
	}
	content, err := metafile.ExtractContent(inner)
	if err != nil {
		return nil, err
	}

	pdfs := make([]documents.Pdf, len(content.Pdfs))
	for i, p := range content.Pdfs {
		pdfs[i] = documents.Pdf{Name: p.Name, Data: p.Data}
	}

	urls, err := r.documents.Upload(ctx, pdfs)
	if err != nil {
		return nil, err
	}

	var missing []string
	for _, item := range env.ScannableItems {
		if urls[item.FileName] == "" {
			missing = append(missing, item.FileName)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("document store returned no URL for: %s", strings.Join(missing, ", "))
	}
	return urls, nil
}

func (r *Runner) recordFailure(ctx context.Context, entry *logrus.Entry, env *envelope.Envelope, reason string) {
	entry.WithField("reason", reason).Warn("document upload failed")
	err := r.store.Transition(ctx, env.ID, envelope.EventDocUploadFailure, database.TransitionOptions{
		Reason: reason,
	})
	if err != nil {
		entry.WithError(err).Error("record upload failure")
		return
	}
	monitoring.UploadOutcomes.WithLabelValues(env.Container, "failure").Inc()
}
