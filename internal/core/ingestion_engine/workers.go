package ingestion_engine

import (
	"context"
	"fmt"
	"time"

	"github.com/markdave123-py/contexta-rag/internal/core"
	"github.com/markdave123-py/contexta-rag/internal/models"
)

// Start launches cfg.Workers goroutines draining the reprocess queue until ctx
// is cancelled. Wait blocks until they have returned.
func (i *DocumentIngestor) Start(ctx context.Context) {
	for w := 1; w <= i.cfg.Workers; w++ {
		i.wg.Add(1)
		go func(w int) {
			defer i.wg.Done()
			for {
				select {
				case <-ctx.Done():
					i.log.Debug("worker shutting down", "worker", w)
					return
				case docID := <-i.jobs:
					i.runJob(ctx, w, docID)
				}
			}
		}(w)
	}
}

func (i *DocumentIngestor) Wait() {
	i.wg.Wait()
}

func (i *DocumentIngestor) runJob(ctx context.Context, worker int, docID string) {
	defer i.release(docID)

	pctx, cancel := context.WithTimeout(ctx, i.cfg.ProcessTimeout)
	defer cancel()

	i.log.Info("reprocessing document", "document_id", docID, "worker", worker)
	if err := i.Reprocess(pctx, docID); err != nil {
		i.log.Error("reprocess failed", "document_id", docID, "worker", worker, "error", err)
	}
}

// Enqueue schedules a reprocess run. It fails with ErrConflict when the
// document is already queued or running, or when the queue is full.
func (i *DocumentIngestor) Enqueue(docID string) error {
	i.mu.Lock()
	if _, busy := i.inFlight[docID]; busy {
		i.mu.Unlock()
		return fmt.Errorf("%w: document %s is already being processed", core.ErrConflict, docID)
	}
	i.inFlight[docID] = struct{}{}
	i.mu.Unlock()

	select {
	case i.jobs <- docID:
		return nil
	default:
		i.release(docID)
		return fmt.Errorf("%w: ingestion queue is full", core.ErrConflict)
	}
}

func (i *DocumentIngestor) release(docID string) {
	i.mu.Lock()
	delete(i.inFlight, docID)
	i.mu.Unlock()
}

// RequestReprocess validates that id is FAILED and queues it.
func (i *DocumentIngestor) RequestReprocess(ctx context.Context, id string) error {
	doc, err := i.db.GetDocumentByID(ctx, id)
	if err != nil {
		return storeErr("get document", err)
	}
	if doc == nil {
		return fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	if doc.ProcessingStatus != models.StatusFailed {
		return fmt.Errorf("%w: document %s is %s, only failed documents can be reprocessed",
			core.ErrInvalidTransition, id, doc.ProcessingStatus)
	}
	return i.Enqueue(id)
}

// Reprocess runs a FAILED document through the pipeline again. The stored blob
// is fetched first, so a storage outage leaves the document FAILED. Stale
// chunks are removed before the document returns to PENDING.
func (i *DocumentIngestor) Reprocess(ctx context.Context, id string) error {
	doc, err := i.db.GetDocumentByID(ctx, id)
	if err != nil {
		return storeErr("get document", err)
	}
	if doc == nil {
		return fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	if !doc.ProcessingStatus.CanTransitionTo(models.StatusPending) {
		return fmt.Errorf("%w: document %s is %s", core.ErrInvalidTransition, id, doc.ProcessingStatus)
	}

	content, err := i.obj.GetFile(ctx, doc.StorageURL)
	if err != nil {
		return fmt.Errorf("%w: download %s: %w", core.ErrExternalService, doc.StorageURL, err)
	}

	if err := i.db.DeleteChunksByDocument(ctx, id); err != nil {
		return storeErr("clear chunks", err)
	}
	doc, err = i.advance(ctx, doc, models.StatusPending)
	if err != nil {
		return err
	}

	_, err = i.processDocument(ctx, doc, content)
	return err
}

// FailStuckDocuments marks documents that have sat in PROCESSING longer than
// olderThan as FAILED, making them eligible for reprocess. It returns how many
// were moved.
func (i *DocumentIngestor) FailStuckDocuments(ctx context.Context, olderThan time.Duration) (int, error) {
	docs, err := i.db.ListDocumentsByStatus(ctx, models.StatusProcessing)
	if err != nil {
		return 0, storeErr("list processing documents", err)
	}

	cutoff := time.Now().Add(-olderThan)
	moved := 0
	for j := range docs {
		doc := &docs[j]
		if doc.UpdatedAt.After(cutoff) {
			continue
		}
		if err := i.db.DeleteChunksByDocument(ctx, doc.ID); err != nil {
			return moved, storeErr("clear chunks", err)
		}
		if _, err := i.db.UpdateDocumentStatus(ctx, doc.ID, doc.Version, models.StatusFailed); err != nil {
			// someone else moved it; not stuck after all
			i.log.Warn("stuck document changed underneath", "document_id", doc.ID, "error", err)
			continue
		}
		moved++
	}
	if moved > 0 {
		i.log.Warn("marked stuck documents failed", "count", moved, "older_than", olderThan.String())
	}
	return moved, nil
}
