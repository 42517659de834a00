package ingestion_engine

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/markdave123-py/contexta-rag/internal/core"
)

var _ core.DocumentProcessor = (*PDFProcessor)(nil)

// pdfDocument is the slice of a parsed PDF the processor needs.
type pdfDocument interface {
	NumPage() int
	PageText(page int) (string, error)
}

// PDFProcessor extracts one ExtractedText per non-blank page.
type PDFProcessor struct {
	open func(content []byte) (pdfDocument, error)
}

func NewPDFProcessor() *PDFProcessor {
	return &PDFProcessor{open: openPDF}
}

func (p *PDFProcessor) Format() string       { return "pdf" }
func (p *PDFProcessor) Extensions() []string { return []string{"pdf"} }

func (p *PDFProcessor) SupportsFormat(filename string) bool {
	return hasExtension(filename, p.Extensions())
}

func (p *PDFProcessor) ExtractText(ctx context.Context, content []byte, filename string) (out []core.ExtractedText, err error) {
	// the parser panics on some malformed xref tables
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("%w: pdf %s: %v", core.ErrExtraction, filename, r)
		}
	}()

	doc, err := p.open(content)
	if err != nil {
		return nil, fmt.Errorf("%w: open pdf %s: %v", core.ErrExtraction, filename, err)
	}

	total := doc.NumPage()
	for page := 1; page <= total; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		text, err := doc.PageText(page)
		if err != nil {
			return nil, fmt.Errorf("%w: pdf %s page %d: %v", core.ErrExtraction, filename, page, err)
		}

		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}

		out = append(out, core.ExtractedText{
			Text:       text,
			PageNumber: page,
			Metadata: map[string]any{
				"source_file": filename,
				"file_type":   p.Format(),
				"page":        page,
				"total_pages": total,
			},
		})
	}

	return out, nil
}

type ledongthucPDF struct {
	r *pdf.Reader
}

func openPDF(content []byte) (pdfDocument, error) {
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, err
	}
	return ledongthucPDF{r: r}, nil
}

func (d ledongthucPDF) NumPage() int { return d.r.NumPage() }

func (d ledongthucPDF) PageText(page int) (string, error) {
	p := d.r.Page(page)
	if p.V.IsNull() {
		return "", nil
	}
	return p.GetPlainText(nil)
}

// hasExtension reports whether filename ends in one of exts, ignoring case.
func hasExtension(filename string, exts []string) bool {
	ext := fileExtension(filename)
	if ext == "" {
		return false
	}
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}

func fileExtension(filename string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
}
