package ingestion_engine

import (
	"context"

	"github.com/markdave123-py/contexta-rag/internal/models"
)

var _ Ingestor = (*DocumentIngestor)(nil)

// Ingestor is what the HTTP layer needs from the pipeline.
type Ingestor interface {
	UploadAndProcess(ctx context.Context, filename string, content []byte) (*models.UploadResult, error)
	ListDocuments(ctx context.Context, status models.ProcessingStatus) ([]models.DocumentSummary, error)
	GetDocument(ctx context.Context, id string) (*models.DocumentSummary, error)
	DeleteDocument(ctx context.Context, id string) (*models.DeleteResult, error)
	RequestReprocess(ctx context.Context, id string) error
	Search(ctx context.Context, query string, threshold *float64, count int) ([]models.ChunkMatch, error)
}
