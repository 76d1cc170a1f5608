package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/complimo/complimo/engine/domain"
)

// Loader extracts page text from a document on disk.
type Loader func(ctx context.Context, path string) ([]Page, error)

// IsPDF reports whether path has a .pdf extension.
func IsPDF(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".pdf")
}

// LoadPDF extracts the plain text of every page. Any other extension fails
// with domain.ErrUnsupportedFormat.
func LoadPDF(ctx context.Context, path string) ([]Page, error) {
	if !IsPDF(path) {
		return nil, domain.NewValidationError("path", filepath.Ext(path), domain.ErrUnsupportedFormat)
	}
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ingest: open %s: %w", path, err)
	}
	defer f.Close()

	pages := make([]Page, 0, r.NumPage())
	for i := 1; i <= r.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("ingest: extract page %d of %s: %w", i, path, err)
		}
		pages = append(pages, Page{Number: i, Text: text})
	}
	return pages, nil
}
