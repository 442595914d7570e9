package metafile

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// report wire names, not Go field names
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if ts, ok := field.Interface().(Timestamp); ok {
			return ts.Time
		}
		return nil
	}, Timestamp{})
	return v
}

// Parse decodes a metafile and validates it against the envelope schema.
// Unknown fields are schema violations. Absent collections come back empty,
// never nil.
func Parse(data []byte) (*Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var env Envelope
	if err := dec.Decode(&env); err != nil {
		return nil, errInvalidSchema(err.Error())
	}

	if err := validate.Struct(&env); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			parts := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				parts = append(parts, fmt.Sprintf("%s violates %q", fe.Namespace(), fe.Tag()))
			}
			return nil, errInvalidSchema(strings.Join(parts, ", "))
		}
		return nil, errInvalidSchema(err.Error())
	}

	if env.ScannableItems == nil {
		env.ScannableItems = []ScannableItem{}
	}
	if env.Payments == nil {
		env.Payments = []Payment{}
	}
	if env.NonScannableItems == nil {
		env.NonScannableItems = []NonScannableItem{}
	}
	return &env, nil
}

// Pdf is one document pulled out of the inner archive.
type Pdf struct {
	Name string
	Data []byte
}

// Content is the fully parsed inner archive.
type Content struct {
	Envelope *Envelope
	Pdfs     []Pdf
}

// ExtractContent walks the inner archive. It must hold exactly one
// metadata.json plus zero or more .pdf entries; names are matched exactly.
func ExtractContent(zr *zip.Reader) (*Content, error) {
	var meta []byte
	var pdfs []Pdf

	for _, f := range zr.File {
		switch {
		case f.Name == metadataFileName:
			data, err := readEntry(f)
			if err != nil {
				return nil, err
			}
			meta = data
		case strings.HasSuffix(f.Name, ".pdf"):
			data, err := readEntry(f)
			if err != nil {
				return nil, err
			}
			pdfs = append(pdfs, Pdf{Name: f.Name, Data: data})
		default:
			return nil, errNonPdfFile(f.Name)
		}
	}

	if meta == nil {
		return nil, errMetadataNotFound()
	}

	env, err := Parse(meta)
	if err != nil {
		return nil, err
	}
	return &Content{Envelope: env, Pdfs: pdfs}, nil
}

// PdfNames lists the archive's PDF entry names in archive order.
func (c *Content) PdfNames() []string {
	names := make([]string, len(c.Pdfs))
	for i, p := range c.Pdfs {
		names[i] = p.Name
	}
	return names
}

// ParseOcrData decodes a scannable item's ocr_data blob. Absent data is
// legal and yields nil.
func ParseOcrData(item *ScannableItem) ([]OcrField, error) {
	if len(item.OcrData) == 0 || bytes.Equal(item.OcrData, []byte("null")) {
		return nil, nil
	}
	var fields []OcrField
	dec := json.NewDecoder(bytes.NewReader(item.OcrData))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&fields); err != nil {
		return nil, errOcrParse(item.DocumentControlNumber, err)
	}
	return fields, nil
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open zip entry %s: %w", f.Name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read zip entry %s: %w", f.Name, err)
	}
	return data, nil
}
