package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/markdave123-py/contexta-rag/internal/core"
	"github.com/markdave123-py/contexta-rag/internal/logger"
	"github.com/markdave123-py/contexta-rag/internal/models"
)

var contentTypes = map[string]string{
	"pdf":  "application/pdf",
	"docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"doc":  "application/msword",
}

// NewDocumentIngestor constructs the ingestor with a bounded reprocess queue.
func NewDocumentIngestor(
	db core.DbClient,
	obj core.ObjectClient,
	emb core.EmbeddingProvider,
	factory *ProcessorFactory,
	cfg *IngestConfig,
	log *logger.Logger,
) *DocumentIngestor {
	if cfg == nil {
		cfg = &IngestConfig{}
	}
	cfg = cfg.withDefaults()
	if factory == nil {
		factory = NewProcessorFactory()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &DocumentIngestor{
		db:       db,
		obj:      obj,
		embedder: emb,
		factory:  factory,
		chunker:  NewTextChunker(cfg.ChunkSize, cfg.ChunkOverlap),
		cfg:      cfg,
		log:      log.With("service", "ingestor"),
		jobs:     make(chan string, cfg.QueueSize),
		inFlight: make(map[string]struct{}),
	}
}

// UploadAndProcess stores the file, records it as PENDING and runs the
// pipeline to COMPLETED in the caller's goroutine.
//
// Unsupported or empty files are rejected before anything is written. If the
// record cannot be created the uploaded blob is removed again. Once the record
// exists any failure leaves it FAILED, with the blob kept for inspection.
func (i *DocumentIngestor) UploadAndProcess(ctx context.Context, filename string, content []byte) (*models.UploadResult, error) {
	if !i.factory.IsSupported(filename) {
		return nil, fmt.Errorf("%w: %q, supported formats: %s",
			core.ErrUnsupportedFormat, filename, i.factory.SupportedExtensionsString())
	}
	if len(content) == 0 {
		return nil, fmt.Errorf("%w: file %q is empty", core.ErrEmptyInput, filename)
	}

	key := storageKey(filename)
	if _, err := i.obj.UploadFile(ctx, key, content, contentTypes[fileExtension(filename)]); err != nil {
		return nil, fmt.Errorf("%w: upload %s: %w", core.ErrExternalService, key, err)
	}

	doc := &models.ContextDocument{
		Filename:         filename,
		StorageURL:       key,
		ProcessingStatus: models.StatusPending,
	}
	if err := i.db.CreateDocument(ctx, doc); err != nil {
		if derr := i.obj.DeleteFile(context.WithoutCancel(ctx), key); derr != nil {
			i.log.Error("orphaned blob after failed document insert", "key", key, "error", derr)
		}
		return nil, fmt.Errorf("%w: create document: %w", core.ErrPersistence, err)
	}
	i.log.Info("document accepted", "document_id", doc.ID, "filename", filename, "bytes", len(content))

	n, err := i.processDocument(ctx, doc, content)
	if err != nil {
		return nil, err
	}

	return &models.UploadResult{
		Status:           "success",
		Message:          fmt.Sprintf("Document processed into %d chunks", n),
		DocumentID:       doc.ID,
		Filename:         filename,
		ProcessingStatus: models.StatusCompleted,
	}, nil
}

// processDocument takes a PENDING document to COMPLETED and returns the number
// of chunks stored. On error the document is left FAILED with no chunks.
func (i *DocumentIngestor) processDocument(ctx context.Context, doc *models.ContextDocument, content []byte) (int, error) {
	start := time.Now()
	cur := doc
	fail := func(err error) (int, error) {
		i.markFailed(ctx, cur, err)
		return 0, fmt.Errorf("process document %s: %w", doc.ID, err)
	}

	next, err := i.advance(ctx, cur, models.StatusProcessing)
	if err != nil {
		return fail(err)
	}
	cur = next

	chunks, err := i.buildChunks(ctx, cur, content)
	if err != nil {
		return fail(err)
	}

	if _, err := i.db.CreateChunks(ctx, chunks); err != nil {
		return fail(storeErr("persist chunks", err))
	}

	next, err = i.advance(ctx, cur, models.StatusCompleted)
	if err != nil {
		return fail(err)
	}
	*doc = *next

	i.log.Info("document completed",
		"document_id", doc.ID,
		"chunks", len(chunks),
		"elapsed", time.Since(start).String(),
	)
	return len(chunks), nil
}

// buildChunks extracts, chunks and embeds the document's text.
func (i *DocumentIngestor) buildChunks(ctx context.Context, doc *models.ContextDocument, content []byte) ([]models.Chunk, error) {
	proc, ok := i.factory.GetProcessor(doc.Filename)
	if !ok {
		return nil, fmt.Errorf("%w: no processor for %q", core.ErrUnsupportedFormat, doc.Filename)
	}

	extracted, err := proc.ExtractText(ctx, content, doc.Filename)
	if err != nil {
		return nil, err
	}
	if len(extracted) == 0 {
		return nil, fmt.Errorf("%w: no text extracted from %s", core.ErrEmptyInput, doc.Filename)
	}

	parts := make([]string, len(extracted))
	for j, e := range extracted {
		parts[j] = e.Text
	}
	fullText := strings.Join(parts, "\n\n")

	pieces := i.chunker.ChunkText(fullText, extracted[0].Metadata)
	if len(pieces) == 0 {
		return nil, fmt.Errorf("%w: no chunks generated from %s", core.ErrEmptyInput, doc.Filename)
	}

	texts := make([]string, len(pieces))
	tokens := 0
	for j, p := range pieces {
		texts[j] = p.Text
		tokens += approxTokens(p.Text)
	}
	i.log.Debug("embedding chunks",
		"document_id", doc.ID,
		"format", proc.Format(),
		"sections", len(extracted),
		"chunks", len(pieces),
		"approx_tokens", tokens,
	)

	vectors, err := i.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		if !errors.Is(err, core.ErrExternalService) {
			err = fmt.Errorf("%w: %w", core.ErrExternalService, err)
		}
		return nil, fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(pieces) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d chunks", core.ErrExternalService, len(vectors), len(pieces))
	}

	chunks := make([]models.Chunk, len(pieces))
	for j, p := range pieces {
		if i.cfg.EmbedDim > 0 && len(vectors[j]) != i.cfg.EmbedDim {
			return nil, fmt.Errorf("%w: embedding %d has dimension %d, want %d",
				core.ErrExternalService, j, len(vectors[j]), i.cfg.EmbedDim)
		}
		chunks[j] = models.Chunk{
			Content:    p.Text,
			Metadata:   p.Metadata,
			DocumentID: doc.ID,
			Embedding:  vectors[j],
		}
	}
	return chunks, nil
}

// advance moves doc to next using its version as the write precondition.
func (i *DocumentIngestor) advance(ctx context.Context, doc *models.ContextDocument, next models.ProcessingStatus) (*models.ContextDocument, error) {
	if !doc.ProcessingStatus.CanTransitionTo(next) {
		return nil, fmt.Errorf("%w: %s -> %s", core.ErrInvalidTransition, doc.ProcessingStatus, next)
	}
	updated, err := i.db.UpdateDocumentStatus(ctx, doc.ID, doc.Version, next)
	if err != nil {
		return nil, storeErr("set status "+string(next), err)
	}
	return updated, nil
}

// markFailed records a failed attempt. Chunks are dropped only once the
// FAILED write has won, so a FAILED document never carries a partial index
// and a concurrent writer's chunks are left alone. It runs on a detached
// context since ctx may be the reason processing stopped.
func (i *DocumentIngestor) markFailed(ctx context.Context, doc *models.ContextDocument, cause error) {
	log := i.log.With("document_id", doc.ID)
	log.Error("document processing failed", "status", doc.ProcessingStatus, "error", cause)

	if !doc.ProcessingStatus.CanTransitionTo(models.StatusFailed) {
		return
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	if _, err := i.db.UpdateDocumentStatus(wctx, doc.ID, doc.Version, models.StatusFailed); err != nil {
		log.Error("could not mark document failed", "error", err)
		return
	}
	if err := i.db.DeleteChunksByDocument(wctx, doc.ID); err != nil {
		log.Error("could not clear chunks of failed document", "error", err)
	}
}

// storeErr wraps a store failure in ErrPersistence unless it already carries
// a more specific kind.
func storeErr(op string, err error) error {
	if errors.Is(err, core.ErrStaleVersion) || errors.Is(err, core.ErrNotFound) ||
		errors.Is(err, core.ErrPersistence) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", core.ErrPersistence, op, err)
}
