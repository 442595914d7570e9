package metafile

import "fmt"

// ValidationKind classifies why a metafile (or the inner archive carrying
// it) was rejected. All kinds route to the same terminal validation outcome;
// the kind survives for the audit reason and the error notification.
type ValidationKind string

const (
	KindMetadataNotFound ValidationKind = "metadata_not_found"
	KindNonPdfFile       ValidationKind = "non_pdf_file"
	KindInvalidSchema    ValidationKind = "invalid_schema"
	KindOcrParse         ValidationKind = "ocr_parse"
)

// ValidationError is the typed rejection raised by this package.
type ValidationError struct {
	Kind   ValidationKind
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func errMetadataNotFound() *ValidationError {
	return &ValidationError{Kind: KindMetadataNotFound, Reason: "No metadata file found in the zip file"}
}

func errNonPdfFile(name string) *ValidationError {
	return &ValidationError{Kind: KindNonPdfFile, Reason: fmt.Sprintf("Zip file contains non-PDF entry: %s", name)}
}

func errInvalidSchema(report string) *ValidationError {
	return &ValidationError{Kind: KindInvalidSchema, Reason: fmt.Sprintf("Failed validation against schema: %s", report)}
}

func errOcrParse(dcn string, cause error) *ValidationError {
	return &ValidationError{Kind: KindOcrParse, Reason: fmt.Sprintf("Failed to parse OCR data for document %s: %v", dcn, cause)}
}
