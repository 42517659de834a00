package core

import (
	"context"
)

// ExtractedText is one page or section of text pulled out of a document.
type ExtractedText struct {
	Text       string
	PageNumber int
	Metadata   map[string]any
}

// DocumentProcessor extracts text from one family of file formats.
type DocumentProcessor interface {
	// Format is the tag written to chunk metadata, e.g. "pdf" or "word".
	Format() string
	// Extensions lists the lowercase extensions handled, without the dot.
	Extensions() []string
	// SupportsFormat checks the filename extension, case-insensitively.
	SupportsFormat(filename string) bool
	// ExtractText parses content. Parser failures wrap ErrExtraction.
	ExtractText(ctx context.Context, content []byte, filename string) ([]ExtractedText, error)
}
