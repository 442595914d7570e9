package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/uk-gov-mirror/hmcts.bulk-scan-processor/internal/database"
	"github.com/uk-gov-mirror/hmcts.bulk-scan-processor/internal/envelope"
	"github.com/uk-gov-mirror/hmcts.bulk-scan-processor/internal/monitoring"
)

// Confirmation is the message the case orchestrator sends once it has
// consumed an envelope summary.
type Confirmation struct {
	EnvelopeID string `json:"envelope_id"`
	CcdID      string `json:"ccd_id"`
	CcdAction  string `json:"envelope_ccd_action"`
}

// ConfirmationStore is the slice of the envelope store the consumer needs.
type ConfirmationStore interface {
	Transition(ctx context.Context, id uuid.UUID, kind envelope.EventKind, opts database.TransitionOptions) error
}

// Consumer moves envelopes to CONSUMED as confirmations arrive. Malformed
// or duplicate messages are acked and dropped; only transient store
// failures are redelivered.
type Consumer struct {
	sub   *pubsub.Subscription
	store ConfirmationStore
}

// NewConsumer binds to an existing subscription on the processed-envelopes
// topic. The subscription is provisioned out of band; a missing one is a
// deployment fault, not something to create here.
func NewConsumer(ctx context.Context, bus *Bus, subscriptionID string, store ConfirmationStore) (*Consumer, error) {
	sub := bus.client.Subscription(subscriptionID)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("subscription %s exists: %w", subscriptionID, err)
	}
	if !exists {
		return nil, fmt.Errorf("subscription %s not found", subscriptionID)
	}
	return &Consumer{sub: sub, store: store}, nil
}

// Run blocks receiving confirmations until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	log.WithField("subscription", c.sub.ID()).Info("confirmation consumer started")
	err := c.sub.Receive(ctx, c.handle)
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("receive confirmations: %w", err)
	}
	return nil
}

func (c *Consumer) handle(ctx context.Context, m *pubsub.Message) {
	var conf Confirmation
	if err := json.Unmarshal(m.Data, &conf); err != nil {
		log.WithError(err).Warn("dropping malformed confirmation")
		m.Ack()
		return
	}
	id, err := uuid.Parse(conf.EnvelopeID)
	if err != nil {
		log.WithError(err).WithField("envelope_id", conf.EnvelopeID).
			Warn("dropping confirmation with invalid envelope id")
		m.Ack()
		return
	}

	err = c.store.Transition(ctx, id, envelope.EventDocConsumed, database.TransitionOptions{
		CcdID:     conf.CcdID,
		CcdAction: conf.CcdAction,
	})
	entry := log.WithFields(logrus.Fields{
		"envelope_id": conf.EnvelopeID,
		"ccd_id":      conf.CcdID,
	})
	switch {
	case err == nil:
		monitoring.ConfirmationsConsumed.Inc()
		entry.Info("envelope consumed")
		m.Ack()
	case errors.Is(err, database.ErrNotFound):
		entry.Warn("dropping confirmation for unknown envelope")
		m.Ack()
	default:
		var terr *database.TransitionError
		if errors.As(err, &terr) {
			entry.WithField("status", string(terr.Current)).
				Warn("dropping confirmation the envelope cannot accept")
			m.Ack()
			return
		}
		entry.WithError(err).Error("confirmation handling failed, redelivering")
		m.Nack()
	}
}
