package models

import (
	"time"
)

// ProcessingStatus is the lifecycle state of a context document.
type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "pending"
	StatusProcessing ProcessingStatus = "processing"
	StatusCompleted  ProcessingStatus = "completed"
	StatusFailed     ProcessingStatus = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s ProcessingStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// CanTransitionTo reports whether a document may move from s to next.
// One ingestion attempt is pending -> processing -> completed|failed; an
// attempt that cannot even start goes pending -> failed.
// failed -> pending starts a new attempt and is only taken by a reprocess.
func (s ProcessingStatus) CanTransitionTo(next ProcessingStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing || next == StatusFailed
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed
	case StatusFailed:
		return next == StatusPending
	}
	return false
}

// ContextDocument is an uploaded file tracked through the ingestion pipeline.
type ContextDocument struct {
	ID               string           `db:"id" json:"id"`
	Filename         string           `db:"filename" json:"filename"`
	StorageURL       string           `db:"storage_url" json:"storage_url"` // blob key
	ProcessingStatus ProcessingStatus `db:"processing_status" json:"processing_status"`
	Version          int              `db:"version" json:"-"` // bumped on every status write
	CreatedAt        time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time        `db:"updated_at" json:"updated_at"`
}

// Chunk is one embedded text segment of a context document.
type Chunk struct {
	ID         int64          `db:"id" json:"id"`
	Content    string         `db:"content" json:"content"`
	Metadata   map[string]any `db:"metadata" json:"metadata"`
	DocumentID string         `db:"document_id" json:"document_id"`
	Embedding  []float32      `db:"embedding" json:"-"` // pgvector column
	CreatedAt  time.Time      `db:"created_at" json:"created_at"`
}

// ChunkMatch is a similarity search hit.
type ChunkMatch struct {
	ID         int64          `json:"id"`
	Content    string         `json:"content"`
	Metadata   map[string]any `json:"metadata"`
	DocumentID string         `json:"document_id"`
	Similarity float64        `json:"similarity"`
}

// DocumentSummary is the listing shape of a document, with its chunk count.
type DocumentSummary struct {
	ID               string           `json:"id"`
	Filename         string           `json:"filename"`
	StorageURL       string           `json:"storage_url"`
	ProcessingStatus ProcessingStatus `json:"processing_status"`
	CreatedAt        *time.Time       `json:"created_at"`
	ChunksCount      int              `json:"chunks_count"`
}

// NewDocumentSummary builds a summary for doc.
func NewDocumentSummary(doc *ContextDocument, chunks int) DocumentSummary {
	s := DocumentSummary{
		ID:               doc.ID,
		Filename:         doc.Filename,
		StorageURL:       doc.StorageURL,
		ProcessingStatus: doc.ProcessingStatus,
		ChunksCount:      chunks,
	}
	if !doc.CreatedAt.IsZero() {
		t := doc.CreatedAt
		s.CreatedAt = &t
	}
	return s
}

// UploadResult is returned by a successful upload.
type UploadResult struct {
	Status           string           `json:"status"`
	Message          string           `json:"message"`
	DocumentID       string           `json:"document_id"`
	Filename         string           `json:"filename"`
	ProcessingStatus ProcessingStatus `json:"processing_status"`
}

// DeleteResult is returned by a successful delete.
type DeleteResult struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}
