package envelope

import (
	"fmt"
	"strings"

	"github.com/uk-gov-mirror/hmcts.bulk-scan-processor/internal/metafile"
)

// MappingError is the typed rejection for a metafile that parsed cleanly but
// cannot be reconciled with the archive or the container configuration.
type MappingError struct {
	Reason string
}

func (e *MappingError) Error() string {
	return e.Reason
}

// FromMetafile cross-checks a parsed metafile against the archive's PDF
// entries and normalizes it into an unsaved Envelope aggregate.
//
// The multiset of archive PDF names must equal the multiset of declared
// scannable-item file names, and the jurisdiction configured for the
// container must agree with the one declared in the metafile.
func FromMetafile(meta *metafile.Envelope, pdfNames []string, container, containerJurisdiction string) (*Envelope, error) {
	if err := checkFileNames(meta, pdfNames); err != nil {
		return nil, err
	}
	if !strings.EqualFold(meta.Jurisdiction, containerJurisdiction) {
		return nil, &MappingError{Reason: fmt.Sprintf(
			"Jurisdiction mismatch: container %s expects %s, metafile declares %s",
			container, containerJurisdiction, meta.Jurisdiction)}
	}

	env := &Envelope{
		Container:          container,
		PoBox:              meta.PoBox,
		Jurisdiction:       meta.Jurisdiction,
		DeliveryDate:       meta.DeliveryDate.Time,
		OpeningDate:        meta.OpeningDate.Time,
		ZipFileCreatedDate: meta.ZipFileCreatedDate.Time,
		ZipFileName:        meta.ZipFileName,
		CaseNumber:         meta.CaseNumber,
		Classification:     Classification(meta.Classification),
		Status:             StatusCreated,
		ScannableItems:     make([]ScannableItem, 0, len(meta.ScannableItems)),
		Payments:           make([]Payment, 0, len(meta.Payments)),
		NonScannableItems:  make([]NonScannableItem, 0, len(meta.NonScannableItems)),
	}

	for i := range meta.ScannableItems {
		in := &meta.ScannableItems[i]
		ocr, err := metafile.ParseOcrData(in)
		if err != nil {
			return nil, err
		}
		item := ScannableItem{
			DocumentControlNumber: in.DocumentControlNumber,
			ScanningDate:          in.ScanningDate.Time,
			OcrAccuracy:           in.OcrAccuracy,
			ManualIntervention:    in.ManualIntervention,
			NextAction:            in.NextAction,
			NextActionDate:        in.NextActionDate.Time,
			FileName:              in.FileName,
			Notes:                 in.Notes,
			DocumentType:          in.DocumentType,
			DocumentSubtype:       in.DocumentSubtype,
		}
		for _, f := range ocr {
			item.OcrData = append(item.OcrData, OcrField{Name: f.Name, Value: f.Value})
		}
		env.ScannableItems = append(env.ScannableItems, item)
	}

	for _, in := range meta.Payments {
		env.Payments = append(env.Payments, Payment{
			DocumentControlNumber:   in.DocumentControlNumber,
			Method:                  in.Method,
			PaymentInstrumentNumber: in.PaymentInstrumentNumber,
			Amount:                  in.Amount,
			Currency:                in.Currency,
		})
	}

	for _, in := range meta.NonScannableItems {
		env.NonScannableItems = append(env.NonScannableItems, NonScannableItem{
			DocumentControlNumber: in.DocumentControlNumber,
			ItemType:              in.ItemType,
			Notes:                 in.Notes,
		})
	}

	return env, nil
}

// checkFileNames compares declared and actual PDF names as multisets.
// Missing files are reported in declaration order, extras in archive order.
func checkFileNames(meta *metafile.Envelope, pdfNames []string) error {
	counts := make(map[string]int, len(pdfNames))
	for _, name := range pdfNames {
		counts[name]++
	}

	var missing []string
	for _, item := range meta.ScannableItems {
		if counts[item.FileName] > 0 {
			counts[item.FileName]--
		} else {
			missing = append(missing, item.FileName)
		}
	}

	var extra []string
	for _, name := range pdfNames {
		if counts[name] > 0 {
			counts[name]--
			extra = append(extra, name)
		}
	}

	if len(missing) == 0 && len(extra) == 0 {
		return nil
	}

	var problems []string
	if len(missing) > 0 {
		problems = append(problems, "Missing PDFs: "+strings.Join(missing, ", "))
	}
	if len(extra) > 0 {
		problems = append(problems, "Extra PDFs: "+strings.Join(extra, ", "))
	}
	return &MappingError{Reason: strings.Join(problems, ". ")}
}
