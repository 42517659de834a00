package ingestion_engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/markdave123-py/contexta-rag/internal/core"
	"github.com/markdave123-py/contexta-rag/internal/models"
)

// ListDocuments summarizes every document, or only those in status when it is set.
// Each summary costs one chunk count query.
func (i *DocumentIngestor) ListDocuments(ctx context.Context, status models.ProcessingStatus) ([]models.DocumentSummary, error) {
	var (
		docs []models.ContextDocument
		err  error
	)
	if status == "" {
		docs, err = i.db.ListDocuments(ctx)
	} else {
		if !status.Valid() {
			return nil, fmt.Errorf("%w: unknown status %q", core.ErrInvalidArgument, status)
		}
		docs, err = i.db.ListDocumentsByStatus(ctx, status)
	}
	if err != nil {
		return nil, storeErr("list documents", err)
	}

	out := make([]models.DocumentSummary, 0, len(docs))
	for j := range docs {
		n, err := i.db.CountChunks(ctx, docs[j].ID)
		if err != nil {
			return nil, storeErr("count chunks", err)
		}
		out = append(out, models.NewDocumentSummary(&docs[j], n))
	}
	return out, nil
}

// GetDocument returns nil, nil when id is unknown.
func (i *DocumentIngestor) GetDocument(ctx context.Context, id string) (*models.DocumentSummary, error) {
	doc, err := i.db.GetDocumentByID(ctx, id)
	if err != nil {
		return nil, storeErr("get document", err)
	}
	if doc == nil {
		return nil, nil
	}
	n, err := i.db.CountChunks(ctx, id)
	if err != nil {
		return nil, storeErr("count chunks", err)
	}
	s := models.NewDocumentSummary(doc, n)
	return &s, nil
}

// DeleteDocument removes the blob on a best-effort basis, then the document
// and, by cascade, its chunks.
func (i *DocumentIngestor) DeleteDocument(ctx context.Context, id string) (*models.DeleteResult, error) {
	doc, err := i.db.GetDocumentByID(ctx, id)
	if err != nil {
		return nil, storeErr("get document", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}

	if doc.StorageURL != "" {
		if err := i.obj.DeleteFile(ctx, doc.StorageURL); err != nil {
			i.log.Warn("blob delete failed, removing document anyway",
				"document_id", id, "key", doc.StorageURL, "error", err)
		}
	}

	deleted, err := i.db.DeleteDocument(ctx, id)
	if err != nil {
		return nil, storeErr("delete document", err)
	}
	if !deleted {
		return nil, fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}

	i.log.Info("document deleted", "document_id", id, "filename", doc.Filename)
	return &models.DeleteResult{
		Status:  "success",
		Message: fmt.Sprintf("Document %s deleted", doc.Filename),
	}, nil
}

// Search embeds query and returns the closest chunks. A nil threshold or a
// count that is not positive falls back to the configured default; an
// explicit threshold must lie in [-1, 1].
func (i *DocumentIngestor) Search(ctx context.Context, query string, threshold *float64, count int) ([]models.ChunkMatch, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is blank", core.ErrEmptyInput)
	}
	minSim := i.cfg.MatchThreshold
	if threshold != nil {
		if *threshold < -1 || *threshold > 1 {
			return nil, fmt.Errorf("%w: threshold %g outside [-1, 1]", core.ErrInvalidArgument, *threshold)
		}
		minSim = *threshold
	}
	if count <= 0 {
		count = i.cfg.MatchCount
	}

	vectors, err := i.embedder.EmbedTexts(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("%w: got %d embeddings for 1 query", core.ErrExternalService, len(vectors))
	}
	if i.cfg.EmbedDim > 0 && len(vectors[0]) != i.cfg.EmbedDim {
		return nil, fmt.Errorf("%w: query embedding has dimension %d, want %d",
			core.ErrExternalService, len(vectors[0]), i.cfg.EmbedDim)
	}

	matches, err := i.db.SearchSimilar(ctx, vectors[0], minSim, count)
	if err != nil {
		return nil, storeErr("search chunks", err)
	}
	i.log.Debug("search", "matches", len(matches), "threshold", minSim, "count", count)
	return matches, nil
}
