package ingestion_engine

import (
	"strings"

	"github.com/markdave123-py/contexta-rag/internal/core"
)

// ProcessorFactory is an ordered, read-only registry of document processors.
// It is built once at startup and shared without locking.
type ProcessorFactory struct {
	processors []core.DocumentProcessor
}

// NewProcessorFactory registers processors in lookup order. With no
// arguments it registers the PDF and Word processors.
func NewProcessorFactory(processors ...core.DocumentProcessor) *ProcessorFactory {
	if len(processors) == 0 {
		processors = []core.DocumentProcessor{NewPDFProcessor(), NewWordProcessor()}
	}
	return &ProcessorFactory{processors: append([]core.DocumentProcessor(nil), processors...)}
}

// GetProcessor returns the first processor that supports filename.
func (f *ProcessorFactory) GetProcessor(filename string) (core.DocumentProcessor, bool) {
	for _, p := range f.processors {
		if p.SupportsFormat(filename) {
			return p, true
		}
	}
	return nil, false
}

func (f *ProcessorFactory) IsSupported(filename string) bool {
	_, ok := f.GetProcessor(filename)
	return ok
}

// SupportedExtensions lists every registered extension in registry order.
func (f *ProcessorFactory) SupportedExtensions() []string {
	var exts []string
	seen := make(map[string]bool)
	for _, p := range f.processors {
		for _, e := range p.Extensions() {
			if !seen[e] {
				seen[e] = true
				exts = append(exts, e)
			}
		}
	}
	return exts
}

// SupportedExtensionsString renders the extensions for error messages: ".pdf, .docx, .doc".
func (f *ProcessorFactory) SupportedExtensionsString() string {
	exts := f.SupportedExtensions()
	for i, e := range exts {
		exts[i] = "." + e
	}
	return strings.Join(exts, ", ")
}
