// Package metafile parses and validates the metadata.json carried inside the
// inner archive, together with the archive's PDF entries.
package metafile

import (
	"encoding/json"
	"fmt"
	"time"
)

const metadataFileName = "metadata.json"

// Envelope is the raw metafile content as declared by the scanning bureau.
// Field names follow the wire schema; unknown fields are rejected.
type Envelope struct {
	PoBox              string             `json:"po_box" validate:"required"`
	Jurisdiction       string             `json:"jurisdiction" validate:"required"`
	DeliveryDate       Timestamp          `json:"delivery_date" validate:"required"`
	OpeningDate        Timestamp          `json:"opening_date" validate:"required"`
	ZipFileCreatedDate Timestamp          `json:"zip_file_createddate" validate:"required"`
	ZipFileName        string             `json:"zip_file_name" validate:"required"`
	CaseNumber         string             `json:"case_number"`
	Classification     string             `json:"envelope_classification" validate:"required,oneof=NEW_APPLICATION SUPPLEMENTARY_EVIDENCE EXCEPTION SUPPLEMENTARY_EVIDENCE_WITH_OCR"`
	ScannableItems     []ScannableItem    `json:"scannable_items" validate:"dive"`
	Payments           []Payment          `json:"payments" validate:"dive"`
	NonScannableItems  []NonScannableItem `json:"non_scannable_items" validate:"dive"`
}

type ScannableItem struct {
	DocumentControlNumber string          `json:"document_control_number" validate:"required"`
	ScanningDate          Timestamp       `json:"scanning_date" validate:"required"`
	OcrAccuracy           string          `json:"ocr_accuracy"`
	ManualIntervention    string          `json:"manual_intervention"`
	NextAction            string          `json:"next_action"`
	NextActionDate        Timestamp       `json:"next_action_date"`
	OcrData               json.RawMessage `json:"ocr_data"`
	FileName              string          `json:"file_name" validate:"required"`
	Notes                 string          `json:"notes"`
	DocumentType          string          `json:"document_type"`
	DocumentSubtype       string          `json:"document_subtype"`
}

type Payment struct {
	DocumentControlNumber   string `json:"document_control_number" validate:"required"`
	Method                  string `json:"method_of_payment"`
	PaymentInstrumentNumber string `json:"payment_instrument_number"`
	Amount                  string `json:"amount"`
	Currency                string `json:"currency"`
}

type NonScannableItem struct {
	DocumentControlNumber string `json:"document_control_number" validate:"required"`
	ItemType              string `json:"item_type"`
	Notes                 string `json:"notes"`
}

// OcrField is one OCR key/value pair; ocr_data is an ordered list of these.
type OcrField struct {
	Name  string `json:"metadata_field_name"`
	Value string `json:"metadata_field_value"`
}

// timestampLayouts are the accepted metafile timestamp spellings. Bureaus
// disagree on the T separator and on fractional seconds.
var timestampLayouts = []string{
	"2006-01-02T15:04:05.000Z",
	"2006-01-02T15:04:05Z",
	"2006-01-02 15:04:05.000",
	"2006-01-02 15:04:05",
}

// Timestamp unmarshals any accepted layout and normalizes to UTC at
// millisecond precision.
type Timestamp struct {
	time.Time
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range timestampLayouts {
		parsed, err := time.Parse(layout, s)
		if err == nil {
			t.Time = parsed.UTC().Truncate(time.Millisecond)
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", s)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte(`null`), nil
	}
	return json.Marshal(t.Format("2006-01-02T15:04:05.000Z"))
}
