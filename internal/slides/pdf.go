package slides

import (
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

// extractPDF treats each page of an exported deck as one slide.
func extractPDF(r io.ReaderAt, size int64) (result []Slide, err error) {
	// The pdf package panics on some malformed content streams.
	defer func() {
		if p := recover(); p != nil {
			result, err = nil, fmt.Errorf("parsing pdf: %v", p)
		}
	}()

	pr, err := pdf.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("opening pdf: %w", err)
	}

	for i := 1; i <= pr.NumPage(); i++ {
		page := pr.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		if texts := cleanTexts(strings.Split(text, "\n")); len(texts) > 0 {
			result = append(result, Slide{Number: i, Texts: texts})
		}
	}
	return result, nil
}
