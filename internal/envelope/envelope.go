// Package envelope holds the normalized record of one inbound scan archive
// and the lifecycle state machine that every envelope moves through.
package envelope

import (
	"time"

	"github.com/google/uuid"
)

// Classification states why the bureau scanned the bundle.
type Classification string

const (
	ClassificationNewApplication               Classification = "NEW_APPLICATION"
	ClassificationSupplementaryEvidence        Classification = "SUPPLEMENTARY_EVIDENCE"
	ClassificationException                    Classification = "EXCEPTION"
	ClassificationSupplementaryEvidenceWithOcr Classification = "SUPPLEMENTARY_EVIDENCE_WITH_OCR"
)

// KnownClassification reports whether v is one of the accepted
// envelope_classification values.
func KnownClassification(v string) bool {
	switch Classification(v) {
	case ClassificationNewApplication,
		ClassificationSupplementaryEvidence,
		ClassificationException,
		ClassificationSupplementaryEvidenceWithOcr:
		return true
	}
	return false
}

// Envelope is the unit of work: one archive dropped by a scanning bureau,
// identified by (Container, ZipFileName). The row is retained for audit even
// after the source blob is deleted.
type Envelope struct {
	ID                 uuid.UUID
	Container          string
	PoBox              string
	Jurisdiction       string
	DeliveryDate       time.Time
	OpeningDate        time.Time
	ZipFileCreatedDate time.Time
	ZipFileName        string
	CaseNumber         string
	Classification     Classification
	Status             Status
	UploadFailureCount int
	ZipDeleted         bool
	CreatedAt          time.Time

	// Set by the downstream case-management confirmation.
	CcdID     string
	CcdAction string

	ScannableItems    []ScannableItem
	Payments          []Payment
	NonScannableItems []NonScannableItem
}

// ScannableItem is one scanned PDF inside an envelope.
type ScannableItem struct {
	ID                    uuid.UUID
	DocumentControlNumber string
	ScanningDate          time.Time
	OcrAccuracy           string
	ManualIntervention    string
	NextAction            string
	NextActionDate        time.Time
	OcrData               []OcrField
	FileName              string
	Notes                 string
	DocumentType          string
	DocumentSubtype       string
	DocumentURL           string
}

// OcrField is one key/value pair extracted by the scanning bureau's OCR.
// Order is preserved as declared.
type OcrField struct {
	Name  string `json:"metadata_field_name"`
	Value string `json:"metadata_field_value"`
}

type Payment struct {
	ID                      uuid.UUID
	DocumentControlNumber   string
	Method                  string
	PaymentInstrumentNumber string
	Amount                  string
	Currency                string
}

type NonScannableItem struct {
	ID                    uuid.UUID
	DocumentControlNumber string
	ItemType              string
	Notes                 string
}
