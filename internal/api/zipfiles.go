package api

import (
	"net/http"
	"time"

	"github.com/uk-gov-mirror/hmcts.bulk-scan-processor/internal/envelope"
)

// minDcnLength guards the LIKE-prefix search from scanning on a token too
// short to identify a document.
const minDcnLength = 6

type zipFileStatus struct {
	FileName  string            `json:"file_name"`
	Envelopes []zipFileEnvelope `json:"envelopes"`
	Events    []zipFileEvent    `json:"events"`
}

type zipFileEnvelope struct {
	ID                string                 `json:"id"`
	Container         string                 `json:"container"`
	Status            string                 `json:"status"`
	CcdID             string                 `json:"ccd_id"`
	EnvelopeCcdAction string                 `json:"envelope_ccd_action"`
	ZipDeleted        bool                   `json:"zip_deleted"`
	Classification    string                 `json:"classification"`
	Jurisdiction      string                 `json:"jurisdiction"`
	CaseNumber        string                 `json:"case_number"`
	ScannableItems    []scannableItemView    `json:"scannable_items"`
	NonScannableItems []nonScannableItemView `json:"non_scannable_items"`
	Payments          []paymentView          `json:"payments"`
}

type zipFileEvent struct {
	Type      string    `json:"type"`
	Container string    `json:"container"`
	CreatedAt time.Time `json:"created_at"`
	Reason    string    `json:"reason,omitempty"`
}

type scannableItemView struct {
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

type nonScannableItemView struct {
	DocumentControlNumber string `json:"document_control_number"`
	ItemType              string `json:"item_type"`
	Notes                 string `json:"notes,omitempty"`
}

type paymentView struct {
	DocumentControlNumber   string `json:"document_control_number"`
	Method                  string `json:"method,omitempty"`
	PaymentInstrumentNumber string `json:"payment_instrument_number,omitempty"`
	Amount                  string `json:"amount,omitempty"`
	Currency                string `json:"currency,omitempty"`
}

// handleZipFiles serves the status of a zip file by exact name, or of every
// zip file that carried a document matching a DCN prefix. Exactly one of the
// two query parameters must be supplied.
func (s *Server) handleZipFiles(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	dcn := r.URL.Query().Get("dcn")

	switch {
	case name != "" && dcn == "":
		status, err := s.zipFileStatusFor(r, name)
		if err != nil {
			log.WithError(err).WithField("zip_file_name", name).Error("zip file status")
			writeError(w, http.StatusInternalServerError, "failed to read zip file status")
			return
		}
		writeJSON(w, http.StatusOK, status)

	case dcn != "" && name == "":
		if len(dcn) < minDcnLength {
			writeError(w, http.StatusBadRequest, "dcn has to be at least 6 characters long")
			return
		}
		names, err := s.store.ZipFileNamesByDcnPrefix(r.Context(), dcn)
		if err != nil {
			log.WithError(err).WithField("dcn", dcn).Error("zip file search by dcn")
			writeError(w, http.StatusInternalServerError, "failed to search by dcn")
			return
		}
		statuses := make([]*zipFileStatus, 0, len(names))
		for _, n := range names {
			status, err := s.zipFileStatusFor(r, n)
			if err != nil {
				log.WithError(err).WithField("zip_file_name", n).Error("zip file status")
				writeError(w, http.StatusInternalServerError, "failed to read zip file status")
				return
			}
			statuses = append(statuses, status)
		}
		writeJSON(w, http.StatusOK, statuses)

	default:
		writeError(w, http.StatusBadRequest, "exactly one of name and dcn must be provided")
	}
}

func (s *Server) zipFileStatusFor(r *http.Request, zipFileName string) (*zipFileStatus, error) {
	envs, err := s.store.EnvelopesForZipFile(r.Context(), zipFileName)
	if err != nil {
		return nil, err
	}
	events, err := s.store.EventsForZipFile(r.Context(), zipFileName)
	if err != nil {
		return nil, err
	}

	status := &zipFileStatus{
		FileName:  zipFileName,
		Envelopes: make([]zipFileEnvelope, 0, len(envs)),
		Events:    make([]zipFileEvent, 0, len(events)),
	}
	for i := range envs {
		status.Envelopes = append(status.Envelopes, toZipFileEnvelope(&envs[i]))
	}
	for _, ev := range events {
		status.Events = append(status.Events, zipFileEvent{
			Type:      string(ev.Kind),
			Container: ev.Container,
			CreatedAt: ev.CreatedAt,
			Reason:    ev.Reason,
		})
	}
	return status, nil
}

func toZipFileEnvelope(env *envelope.Envelope) zipFileEnvelope {
	return zipFileEnvelope{
		ID:                env.ID.String(),
		Container:         env.Container,
		Status:            string(env.Status),
		CcdID:             env.CcdID,
		EnvelopeCcdAction: env.CcdAction,
		ZipDeleted:        env.ZipDeleted,
		Classification:    string(env.Classification),
		Jurisdiction:      env.Jurisdiction,
		CaseNumber:        env.CaseNumber,
		ScannableItems:    toScannableItemViews(env.ScannableItems),
		NonScannableItems: toNonScannableItemViews(env.NonScannableItems),
		Payments:          toPaymentViews(env.Payments),
	}
}

func toScannableItemViews(items []envelope.ScannableItem) []scannableItemView {
	views := make([]scannableItemView, 0, len(items))
	for _, item := range items {
		views = append(views, scannableItemView{
			DocumentControlNumber: item.DocumentControlNumber,
			ScanningDate:          item.ScanningDate,
			OcrAccuracy:           item.OcrAccuracy,
			ManualIntervention:    item.ManualIntervention,
			NextAction:            item.NextAction,
			FileName:              item.FileName,
			Notes:                 item.Notes,
			DocumentType:          item.DocumentType,
			DocumentSubtype:       item.DocumentSubtype,
			DocumentURL:           item.DocumentURL,
		})
	}
	return views
}

func toNonScannableItemViews(items []envelope.NonScannableItem) []nonScannableItemView {
	views := make([]nonScannableItemView, 0, len(items))
	for _, item := range items {
		views = append(views, nonScannableItemView{
			DocumentControlNumber: item.DocumentControlNumber,
			ItemType:              item.ItemType,
			Notes:                 item.Notes,
		})
	}
	return views
}

func toPaymentViews(payments []envelope.Payment) []paymentView {
	views := make([]paymentView, 0, len(payments))
	for _, p := range payments {
		views = append(views, paymentView{
			DocumentControlNumber:   p.DocumentControlNumber,
			Method:                  p.Method,
			PaymentInstrumentNumber: p.PaymentInstrumentNumber,
			Amount:                  p.Amount,
			Currency:                p.Currency,
		})
	}
	return views
}
