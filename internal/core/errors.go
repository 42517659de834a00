package core

import "errors"

// Error kinds shared by the ingestion pipeline, the stores, and the HTTP layer.
// Wrap them with fmt.Errorf("...: %w", ErrX) and match with errors.Is.
var (
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrEmptyInput        = errors.New("empty input")
	ErrExtraction        = errors.New("text extraction failed")
	ErrExternalService   = errors.New("external service failure")
	ErrPersistence       = errors.New("persistence failure")
	ErrNotFound          = errors.New("not found")
	ErrStaleVersion      = errors.New("document was modified concurrently")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrConflict          = errors.New("conflict")
	ErrInvalidArgument   = errors.New("invalid argument")
)
