package envelope

import (
	"time"

	"github.com/google/uuid"
)

// EventKind enumerates the append-only audit events recorded against a zip
// file as it moves through the pipeline.
type EventKind string

const (
	EventZipfileProcessingStarted     EventKind = "ZIPFILE_PROCESSING_STARTED"
	EventFileValidationFailure        EventKind = "FILE_VALIDATION_FAILURE"
	EventDocSignatureFailure          EventKind = "DOC_SIGNATURE_FAILURE"
	EventDocUploaded                  EventKind = "DOC_UPLOADED"
	EventDocUploadFailure             EventKind = "DOC_UPLOAD_FAILURE"
	EventDocProcessed                 EventKind = "DOC_PROCESSED"
	EventDocProcessedNotificationSent EventKind = "DOC_PROCESSED_NOTIFICATION_SENT"
	EventDocConsumed                  EventKind = "DOC_CONSUMED"
	EventDocFailure                   EventKind = "DOC_FAILURE"
)

// ProcessEvent is one audit row. EnvelopeID is nil for events recorded
// before an envelope row exists (validation and signature rejections, and
// the unclassified DOC_FAILURE path).
type ProcessEvent struct {
	ID          int64
	Container   string
	ZipFileName string
	Kind        EventKind
	CreatedAt   time.Time
	Reason      string
	EnvelopeID  *uuid.UUID
}
