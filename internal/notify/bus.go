// Package notify publishes pipeline outcomes on Pub/Sub and consumes the
// downstream confirmations that complete an envelope's lifecycle.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"

	"github.com/uk-gov-mirror/hmcts.bulk-scan-processor/internal/envelope"
)

var log = logrus.WithField("prefix", "notify")

const publishTimeout = 15 * time.Second

// Error codes carried on rejection notifications.
const (
	CodeSigVerifyFailed     = "ERR_SIG_VERIFY_FAILED"
	CodeMetafileInvalid     = "ERR_METAFILE_INVALID"
	CodeAvFailed            = "ERR_AV_FAILED"
	CodeZipProcessingFailed = "ERR_ZIP_PROCESSING_FAILED"
)

// ErrorMsg tells the supplier a zip file was rejected and why.
type ErrorMsg struct {
	ID                    string `json:"id"`
	EventID               int64  `json:"event_id"`
	ZipFileName           string `json:"zip_file_name"`
	Container             string `json:"container"`
	PoBox                 string `json:"po_box,omitempty"`
	DocumentControlNumber string `json:"document_control_number,omitempty"`
	ErrorCode             string `json:"error_code"`
	ErrorDescription      string `json:"error_description"`
	TestOnly              bool   `json:"test_only"`
}

// Document is one scanned file inside an EnvelopeMsg.
type Document struct {
	FileName              string              `json:"file_name"`
	DocumentControlNumber string              `json:"control_number"`
	Type                  string              `json:"type"`
	Subtype               string              `json:"subtype,omitempty"`
	ScannedAt             time.Time           `json:"scanned_at"`
	URL                   string              `json:"url"`
	OcrData               []envelope.OcrField `json:"ocr_data,omitempty"`
}

// EnvelopeMsg is the processed-envelope summary handed to the downstream
// case orchestrator.
type EnvelopeMsg struct {
	ID             string     `json:"id"`
	CaseNumber     string     `json:"case_ref,omitempty"`
	PoBox          string     `json:"po_box,omitempty"`
	Jurisdiction   string     `json:"jurisdiction"`
	Container      string     `json:"container"`
	ZipFileName    string     `json:"zip_file_name"`
	Classification string     `json:"classification"`
	DeliveryDate   time.Time  `json:"delivery_date"`
	OpeningDate    time.Time  `json:"opening_date"`
	Documents      []Document `json:"documents"`
	TestOnly       bool       `json:"test_only"`
}

// NewEnvelopeMsg maps a persisted envelope onto the wire summary.
func NewEnvelopeMsg(env *envelope.Envelope, testOnly bool) *EnvelopeMsg {
	msg := &EnvelopeMsg{
		ID:             env.ID.String(),
		CaseNumber:     env.CaseNumber,
		PoBox:          env.PoBox,
		Jurisdiction:   env.Jurisdiction,
		Container:      env.Container,
		ZipFileName:    env.ZipFileName,
		Classification: string(env.Classification),
		DeliveryDate:   env.DeliveryDate,
		OpeningDate:    env.OpeningDate,
		Documents:      make([]Document, 0, len(env.ScannableItems)),
		TestOnly:       testOnly,
	}
	for _, item := range env.ScannableItems {
		msg.Documents = append(msg.Documents, Document{
			FileName:              item.FileName,
			DocumentControlNumber: item.DocumentControlNumber,
			Type:                  item.DocumentType,
			Subtype:               item.DocumentSubtype,
			ScannedAt:             item.ScanningDate,
			URL:                   item.DocumentURL,
			OcrData:               item.OcrData,
		})
	}
	return msg
}

// Bus owns the Pub/Sub client and the two topics the pipeline publishes on.
// Missing topics are created on startup.
type Bus struct {
	client    *pubsub.Client
	errors    *pubsub.Topic
	envelopes *pubsub.Topic
}

// NewBus connects to Pub/Sub and resolves the error and envelope topics.
func NewBus(ctx context.Context, projectID, errorTopicID, envelopesTopicID string, opts ...option.ClientOption) (*Bus, error) {
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("pubsub.NewClient: %w", err)
	}

	errTopic, err := ensureTopic(ctx, client, errorTopicID)
	if err != nil {
		client.Close()
		return nil, err
	}
	envTopic, err := ensureTopic(ctx, client, envelopesTopicID)
	if err != nil {
		client.Close()
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"project":         projectID,
		"error_topic":     errorTopicID,
		"envelopes_topic": envelopesTopicID,
	}).Info("connected to pub/sub")
	return &Bus{client: client, errors: errTopic, envelopes: envTopic}, nil
}

func ensureTopic(ctx context.Context, client *pubsub.Client, topicID string) (*pubsub.Topic, error) {
	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("topic %s exists: %w", topicID, err)
	}
	if !exists {
		topic, err = client.CreateTopic(ctx, topicID)
		if err != nil {
			return nil, fmt.Errorf("create topic %s: %w", topicID, err)
		}
		log.WithField("topic", topicID).Info("created topic")
	}
	return topic, nil
}

// PublishError sends a rejection notification. Failures are logged and
// swallowed; a lost notification never blocks archive handling.
func (b *Bus) PublishError(ctx context.Context, msg *ErrorMsg) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		log.WithError(err).WithField("zip_file_name", msg.ZipFileName).
			Error("marshal error notification")
		return
	}

	result := b.errors.Publish(ctx, &pubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"error_code":    msg.ErrorCode,
			"container":     msg.Container,
			"zip_file_name": msg.ZipFileName,
		},
	})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		serverID, err := result.Get(ctx)
		entry := log.WithFields(logrus.Fields{
			"container":     msg.Container,
			"zip_file_name": msg.ZipFileName,
			"error_code":    msg.ErrorCode,
		})
		if err != nil {
			entry.WithError(err).Error("error notification publish failed")
			return
		}
		entry.WithField("message_id", serverID).Info("error notification published")
	}()
}

// PublishEnvelope sends the processed-envelope summary and waits for the
// broker ack. Callers only advance the envelope when this returns nil.
func (b *Bus) PublishEnvelope(ctx context.Context, msg *EnvelopeMsg) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal envelope message: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	result := b.envelopes.Publish(ctx, &pubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"container":      msg.Container,
			"jurisdiction":   msg.Jurisdiction,
			"classification": msg.Classification,
		},
	})
	serverID, err := result.Get(ctx)
	if err != nil {
		return fmt.Errorf("publish envelope %s: %w", msg.ID, err)
	}
	log.WithFields(logrus.Fields{
		"envelope_id":   msg.ID,
		"zip_file_name": msg.ZipFileName,
		"message_id":    serverID,
	}).Info("envelope summary published")
	return nil
}

// Close stops the publishers and releases the client.
func (b *Bus) Close() error {
	b.errors.Stop()
	b.envelopes.Stop()
	if err := b.client.Close(); err != nil {
		return fmt.Errorf("pubsub client close: %w", err)
	}
	return nil
}
