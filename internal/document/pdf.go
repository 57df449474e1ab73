package document

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

// extractPDF returns the text of every page that has any, each under a
// "--- Page N ---" header, separated by blank lines. Unreadable pages are
// skipped.
func (e *Extractor) extractPDF(ctx context.Context, r io.ReaderAt, size int64) (string, int, error) {
	reader, err := pdf.NewReader(r, size)
	if err != nil {
		return "", 0, fmt.Errorf("%w: open pdf: %v", ErrMalformed, err)
	}

	pageCount := reader.NumPage()
	pages := make([]string, 0, pageCount)
	for i := 1; i <= pageCount; i++ {
		if err := ctx.Err(); err != nil {
			return "", 0, err
		}

		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			e.logger.Warn("skipping unreadable pdf page", "page", i, "error", err)
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		pages = append(pages, fmt.Sprintf("--- Page %d ---\n%s", i, text))
	}

	return strings.Join(pages, "\n\n"), len(pages), nil
}
