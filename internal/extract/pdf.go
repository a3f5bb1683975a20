// Package extract adapts non-plain-text uploads into the plain text the
// core consumes. Indexing itself only ever sees extracted text.
package extract

import (
	"bytes"
	"fmt"
	"io"

	"github.com/ledongthuc/pdf"
)

// PDFText extracts the plain text of a PDF. Scanned PDFs without a text
// layer come back empty, not as an error; the caller decides whether an
// empty document is acceptable.
func PDFText(data []byte) (string, error) {
	if len(data) == 0 {
		return "", nil
	}
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("reading pdf: %w", err)
	}
	reader, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting pdf text: %w", err)
	}
	out, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	return string(out), nil
}
