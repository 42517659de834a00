package core

import (
	"context"

	"github.com/markdave123-py/contexta-rag/internal/models"
)

// DocumentStore persists context documents and their lifecycle status.
type DocumentStore interface {
	// CreateDocument assigns ID, Version and timestamps when they are unset.
	CreateDocument(ctx context.Context, doc *models.ContextDocument) error
	// GetDocumentByID returns nil, nil when the document does not exist.
	GetDocumentByID(ctx context.Context, id string) (*models.ContextDocument, error)
	ListDocuments(ctx context.Context) ([]models.ContextDocument, error)
	ListDocumentsByStatus(ctx context.Context, status models.ProcessingStatus) ([]models.ContextDocument, error)
	// UpdateDocumentStatus writes status only if the stored version still equals
	// expectedVersion, and returns the updated row. A lost race yields ErrStaleVersion.
	UpdateDocumentStatus(ctx context.Context, id string, expectedVersion int, status models.ProcessingStatus) (*models.ContextDocument, error)
	// DeleteDocument removes the document and, by cascade, its chunks.
	DeleteDocument(ctx context.Context, id string) (bool, error)
	CountChunks(ctx context.Context, documentID string) (int, error)
}

// ChunkStore persists embedded chunks and serves similarity queries.
type ChunkStore interface {
	CreateChunk(ctx context.Context, chunk *models.Chunk) error
	// CreateChunks writes all chunks or none.
	CreateChunks(ctx context.Context, chunks []models.Chunk) ([]models.Chunk, error)
	GetChunkByID(ctx context.Context, id int64) (*models.Chunk, error)
	// GetChunksByDocument returns chunks in insertion order.
	GetChunksByDocument(ctx context.Context, documentID string) ([]models.Chunk, error)
	// SearchSimilar ranks chunks by cosine similarity to query, keeping
	// similarity >= threshold, highest first, at most count rows.
	SearchSimilar(ctx context.Context, query []float32, threshold float64, count int) ([]models.ChunkMatch, error)
	DeleteChunksByDocument(ctx context.Context, documentID string) error
}

// DbClient is the full persistence surface used by the service.
type DbClient interface {
	DocumentStore
	ChunkStore
	Close() error
}

// ObjectClient stores raw uploaded files under opaque keys.
type ObjectClient interface {
	UploadFile(ctx context.Context, key string, data []byte, contentType string) (url string, err error)
	DeleteFile(ctx context.Context, key string) error
	GetFile(ctx context.Context, key string) ([]byte, error)
}
