package guidelines

import (
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PageText is the extracted text of one page.
type PageText struct {
	Number int
	Text   string
}

// ExtractPages pulls plain text from the selected pages of a PDF. The pages
// spec uses the ParsePages grammar; empty means every page. The progress
// callback, when non-nil, is invoked after each page with (done, total).
func ExtractPages(ctx context.Context, path, spec string, progress func(done, total int)) ([]PageText, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open PDF %s: %w", path, err)
	}
	defer func() {
		// Read-only handle.
		_ = f.Close()
	}()

	total := r.NumPage()
	pages, err := ParsePages(spec, total)
	if err != nil {
		return nil, err
	}

	out := make([]PageText, 0, len(pages))
	for i, num := range pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := r.Page(num)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extract page %d of %s: %w", num, path, err)
		}
		out = append(out, PageText{Number: num, Text: text})
		if progress != nil {
			progress(i+1, len(pages))
		}
	}
	return out, nil
}

// RenderPages joins extracted pages with per-page headers.
func RenderPages(pages []PageText) string {
	var b strings.Builder
	for i, p := range pages {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "--- Page %d ---\n", p.Number)
		b.WriteString(strings.TrimSpace(p.Text))
		b.WriteString("\n")
	}
	return b.String()
}
