// Package dispatch drives the post-upload half of the envelope state
// machine: confirming processing and publishing summary messages to the
// downstream case orchestrator.
package dispatch

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/uk-gov-mirror/hmcts.bulk-scan-processor/internal/config"
	"github.com/uk-gov-mirror/hmcts.bulk-scan-processor/internal/database"
	"github.com/uk-gov-mirror/hmcts.bulk-scan-processor/internal/envelope"
	"github.com/uk-gov-mirror/hmcts.bulk-scan-processor/internal/monitoring"
	"github.com/uk-gov-mirror/hmcts.bulk-scan-processor/internal/notify"
)

var log = logrus.WithField("prefix", "dispatch")

// Store is the slice of the envelope store the dispatcher needs.
type Store interface {
	FindByStatus(ctx context.Context, status envelope.Status) ([]envelope.Envelope, error)
	Transition(ctx context.Context, id uuid.UUID, kind envelope.EventKind, opts database.TransitionOptions) error
}

// Publisher sends envelope summaries downstream.
type Publisher interface {
	PublishEnvelope(ctx context.Context, msg *notify.EnvelopeMsg) error
}

// Runner advances UPLOADED envelopes to PROCESSED and publishes a summary
// for each PROCESSED envelope. A failed publish leaves the envelope in
// PROCESSED so the next tick retries it; the downstream consumer has to
// tolerate the occasional duplicate.
type Runner struct {
	store     Store
	publisher Publisher
	test      map[string]bool
}

func NewRunner(store Store, publisher Publisher, containers []config.ContainerConfig) *Runner {
	test := make(map[string]bool, len(containers))
	for _, c := range containers {
		if c.Test {
			test[c.Name] = true
		}
	}
	return &Runner{store: store, publisher: publisher, test: test}
}

func (r *Runner) Name() string { return "dispatch" }

func (r *Runner) RunOnce(ctx context.Context) error {
	if err := r.markProcessed(ctx); err != nil {
		return err
	}
	return r.publishSummaries(ctx)
}

func (r *Runner) markProcessed(ctx context.Context) error {
	envs, err := r.store.FindByStatus(ctx, envelope.StatusUploaded)
	if err != nil {
		return fmt.Errorf("find uploaded envelopes: %w", err)
	}
	for i := range envs {
		if err := ctx.Err(); err != nil {
			return err
		}
		env := &envs[i]
		err := r.store.Transition(ctx, env.ID, envelope.EventDocProcessed, database.TransitionOptions{})
		if err != nil {
			log.WithError(err).WithField("envelope_id", env.ID.String()).Error("mark envelope processed")
		}
	}
	return nil
}

func (r *Runner) publishSummaries(ctx context.Context) error {
	envs, err := r.store.FindByStatus(ctx, envelope.StatusProcessed)
	if err != nil {
		return fmt.Errorf("find processed envelopes: %w", err)
	}
	for i := range envs {
		if err := ctx.Err(); err != nil {
			return err
		}
		env := &envs[i]
		entry := log.WithFields(logrus.Fields{
			"container":     env.Container,
			"zip_file_name": env.ZipFileName,
			"envelope_id":   env.ID.String(),
		})

		msg := notify.NewEnvelopeMsg(env, r.test[env.Container])
		if err := r.publisher.PublishEnvelope(ctx, msg); err != nil {
			entry.WithError(err).Error("publish envelope summary")
			continue
		}
		err := r.store.Transition(ctx, env.ID, envelope.EventDocProcessedNotificationSent, database.TransitionOptions{})
		if err != nil {
			entry.WithError(err).Error("record notification sent")
			continue
		}
		monitoring.SummariesPublished.WithLabelValues(env.Container).Inc()
		entry.Info("envelope summary published")
	}
	return nil
}
