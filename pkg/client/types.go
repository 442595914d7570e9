package client

import "time"

// ZipFileStatus is the recorded history of one zip file: the envelopes
// created from it and the audit events logged against its name.
type ZipFileStatus struct {
	FileName  string            `json:"file_name"`
	Envelopes []ZipFileEnvelope `json:"envelopes"`
	Events    []ZipFileEvent    `json:"events"`
}

type ZipFileEnvelope struct {
	ID                string             `json:"id"`
	Container         string             `json:"container"`
	Status            string             `json:"status"`
	CcdID             string             `json:"ccd_id"`
	EnvelopeCcdAction string             `json:"envelope_ccd_action"`
	ZipDeleted        bool               `json:"zip_deleted"`
	Classification    string             `json:"classification"`
	Jurisdiction      string             `json:"jurisdiction"`
	CaseNumber        string             `json:"case_number"`
	ScannableItems    []ScannableItem    `json:"scannable_items"`
	NonScannableItems []NonScannableItem `json:"non_scannable_items"`
	Payments          []Payment          `json:"payments"`
}

type ZipFileEvent struct {
	Type      string    `json:"type"`
	Container string    `json:"container"`
	CreatedAt time.Time `json:"created_at"`
	Reason    string    `json:"reason,omitempty"`
}

// Envelope is one entry of the envelope listing served to the downstream
// service that owns its jurisdiction.
type Envelope struct {
	ID                 string             `json:"id"`
	CaseNumber         string             `json:"case_number"`
	Container          string             `json:"container"`
	PoBox              string             `json:"po_box"`
	Jurisdiction       string             `json:"jurisdiction"`
	DeliveryDate       time.Time          `json:"delivery_date"`
	OpeningDate        time.Time          `json:"opening_date"`
	ZipFileCreatedDate time.Time          `json:"zip_file_createddate"`
	ZipFileName        string             `json:"zip_file_name"`
	Status             string             `json:"status"`
	Classification     string             `json:"classification"`
	CcdID              string             `json:"ccd_id,omitempty"`
	CcdAction          string             `json:"ccd_action,omitempty"`
	ScannableItems     []ScannableItem    `json:"scannable_items"`
	NonScannableItems  []NonScannableItem `json:"non_scannable_items"`
	Payments           []Payment          `json:"payments"`
}

type ScannableItem struct {
	DocumentControlNumber string    `json:"document_control_number"`
	ScanningDate          time.Time `json:"scanning_date"`
	OcrAccuracy           string    `json:"ocr_accuracy,omitempty"`
	ManualIntervention    string    `json:"manual_intervention,omitempty"`
	NextAction            string    `json:"next_action,omitempty"`
	FileName              string    `json:"file_name"`
	Notes                 string    `json:"notes,omitempty"`
	DocumentType          string    `json:"document_type"`
	DocumentSubtype       string    `json:"document_subtype,omitempty"`
	DocumentURL           string    `json:"document_url,omitempty"`
}

type NonScannableItem struct {
	DocumentControlNumber string `json:"document_control_number"`
	ItemType              string `json:"item_type"`
	Notes                 string `json:"notes,omitempty"`
}

type Payment struct {
	DocumentControlNumber   string `json:"document_control_number"`
	Method                  string `json:"method,omitempty"`
	PaymentInstrumentNumber string `json:"payment_instrument_number,omitempty"`
	Amount                  string `json:"amount,omitempty"`
	Currency                string `json:"currency,omitempty"`
}

// StaleBlob identifies an archive whose envelope has sat incomplete past
// the stale cutoff.
type StaleBlob struct {
	Container string `json:"container"`
	FileName  string `json:"file_name"`
	CreatedAt string `json:"created_at"`
}

// CountSummary is the per-container received/rejected report for one day.
type CountSummary struct {
	TotalReceived int                `json:"total_received"`
	TotalRejected int                `json:"total_rejected"`
	TimeStamp     string             `json:"time_stamp"`
	Data          []CountSummaryItem `json:"data"`
}

type CountSummaryItem struct {
	Received  int    `json:"received"`
	Rejected  int    `json:"rejected"`
	Container string `json:"container"`
	Date      string `json:"date"`
}

// RejectedFiles lists zip files rejected before an envelope was created.
type RejectedFiles struct {
	Count         int            `json:"count"`
	RejectedFiles []RejectedFile `json:"rejected_files"`
}

type RejectedFile struct {
	Filename  string `json:"filename"`
	Container string `json:"container"`
}
