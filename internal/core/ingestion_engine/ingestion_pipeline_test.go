package ingestion_engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/contexta-rag/internal/core"
	"github.com/markdave123-py/contexta-rag/internal/core/memstore"
	"github.com/markdave123-py/contexta-rag/internal/logger"
	"github.com/markdave123-py/contexta-rag/internal/models"
)

const testDim = 4

// fakeObjects is an in-memory core.ObjectClient.
type fakeObjects struct {
	mu        sync.Mutex
	files     map[string][]byte
	deleted   []string
	uploadErr error
	deleteErr error
	getErr    error
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{files: make(map[string][]byte)}
}

func (f *fakeObjects) UploadFile(_ context.Context, key string, data []byte, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	f.files[key] = data
	return "mem://" + key, nil
}

func (f *fakeObjects) DeleteFile(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, key)
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.files, key)
	return nil
}

func (f *fakeObjects) GetFile(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	data, ok := f.files[key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return data, nil
}

func (f *fakeObjects) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.files)
}

// fakeEmbedder returns testDim-sized vectors leaning on the first axis.
type fakeEmbedder struct {
	mu    sync.Mutex
	err   error
	dim   int
	calls int
}

func (f *fakeEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	dim := f.dim
	if dim == 0 {
		dim = testDim
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, dim)
		v[0] = 1
		v[1] = float32(len(t)%5) / 10
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

// recordingStore wraps memstore to observe status writes and inject failures.
type recordingStore struct {
	*memstore.Store
	mu              sync.Mutex
	statuses        []models.ProcessingStatus
	createDocErr    error
	createChunksErr error
	statusErr       map[models.ProcessingStatus]error // returned once per status
}

func (r *recordingStore) CreateDocument(ctx context.Context, doc *models.ContextDocument) error {
	if r.createDocErr != nil {
		return r.createDocErr
	}
	return r.Store.CreateDocument(ctx, doc)
}

func (r *recordingStore) CreateChunks(ctx context.Context, chunks []models.Chunk) ([]models.Chunk, error) {
	if r.createChunksErr != nil {
		return nil, r.createChunksErr
	}
	return r.Store.CreateChunks(ctx, chunks)
}

func (r *recordingStore) UpdateDocumentStatus(ctx context.Context, id string, v int, s models.ProcessingStatus) (*models.ContextDocument, error) {
	r.mu.Lock()
	r.statuses = append(r.statuses, s)
	err, inject := r.statusErr[s]
	delete(r.statusErr, s)
	r.mu.Unlock()
	if inject {
		return nil, err
	}
	return r.Store.UpdateDocumentStatus(ctx, id, v, s)
}

type harness struct {
	ing   *DocumentIngestor
	store *recordingStore
	objs  *fakeObjects
	emb   *fakeEmbedder
}

func newHarness(t *testing.T, cfg *IngestConfig) *harness {
	t.Helper()
	if cfg == nil {
		cfg = &IngestConfig{EmbedDim: testDim}
	}
	h := &harness{
		store: &recordingStore{Store: memstore.New(testDim)},
		objs:  newFakeObjects(),
		emb:   &fakeEmbedder{},
	}
	h.ing = NewDocumentIngestor(h.store, h.objs, h.emb, NewProcessorFactory(), cfg, logger.Nop())
	return h
}

func (h *harness) onlyDocument(t *testing.T) models.ContextDocument {
	t.Helper()
	docs, err := h.store.ListDocuments(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)
	return docs[0]
}

func TestUploadAndProcess_TwoPagePDF(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	res, err := h.ing.UploadAndProcess(ctx, "Préstamo 2024.pdf", buildPDF(t, "Loan terms are twelve months.", "Interest is fixed at five percent."))
	require.NoError(t, err)

	assert.Equal(t, "success", res.Status)
	assert.Equal(t, models.StatusCompleted, res.ProcessingStatus)
	assert.Equal(t, "Préstamo 2024.pdf", res.Filename)
	assert.Equal(t, []models.ProcessingStatus{models.StatusProcessing, models.StatusCompleted}, h.store.statuses)
	assert.Equal(t, 1, h.emb.calls)

	doc := h.onlyDocument(t)
	assert.Equal(t, res.DocumentID, doc.ID)
	assert.Equal(t, models.StatusCompleted, doc.ProcessingStatus)
	assert.True(t, strings.HasPrefix(doc.StorageURL, "rag_documents/rag_"))
	assert.True(t, strings.HasSuffix(doc.StorageURL, "_Prestamo_2024.pdf"))
	assert.Equal(t, 1, h.objs.count())

	chunks, err := h.store.GetChunksByDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.Contains(t, chunks[0].Content, "Loan terms")
	assert.Equal(t, "pdf", chunks[0].Metadata["file_type"])
	assert.Equal(t, "Préstamo 2024.pdf", chunks[0].Metadata["source_file"])
	assert.Equal(t, 0, chunks[0].Metadata["chunk_index"])
	assert.Len(t, chunks[0].Embedding, testDim)
}

func TestUploadAndProcess_WordTable(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	content := buildDocx(t, wTable([][]string{{"a", "b"}, {"c", "d"}, {"e", "f"}}))
	res, err := h.ing.UploadAndProcess(ctx, "tabla.docx", content)
	require.NoError(t, err)

	chunks, err := h.store.GetChunksByDocument(ctx, res.DocumentID)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "--- Tablas ---\na | b\nc | d\ne | f", chunks[0].Content)
	assert.Equal(t, "word", chunks[0].Metadata["file_type"])
}

func TestUploadAndProcess_RejectsBeforeSideEffects(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		content  []byte
		wantErr  error
		wantMsg  string
	}{
		{"empty file", "empty.pdf", nil, core.ErrEmptyInput, "empty.pdf"},
		{"zero bytes", "empty.docx", []byte{}, core.ErrEmptyInput, ""},
		{"unsupported", "notes.txt", []byte("hello"), core.ErrUnsupportedFormat, ".pdf, .docx, .doc"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, nil)
			res, err := h.ing.UploadAndProcess(context.Background(), tc.filename, tc.content)

			require.ErrorIs(t, err, tc.wantErr)
			assert.Contains(t, err.Error(), tc.wantMsg)
			assert.Nil(t, res)
			docs, _ := h.store.ListDocuments(context.Background())
			assert.Empty(t, docs)
			assert.Zero(t, h.objs.count())
			assert.Zero(t, h.emb.calls)
		})
	}
}

func TestUploadAndProcess_UploadFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.objs.uploadErr = errors.New("s3 unavailable")

	_, err := h.ing.UploadAndProcess(context.Background(), "a.pdf", buildPDF(t, "text"))
	require.ErrorIs(t, err, core.ErrExternalService)
	assert.Contains(t, err.Error(), "s3 unavailable")

	docs, _ := h.store.ListDocuments(context.Background())
	assert.Empty(t, docs)
}

func TestUploadAndProcess_CreateFailureRemovesBlob(t *testing.T) {
	h := newHarness(t, nil)
	h.store.createDocErr = errors.New("connection reset")

	_, err := h.ing.UploadAndProcess(context.Background(), "a.pdf", buildPDF(t, "text"))
	require.ErrorIs(t, err, core.ErrPersistence)

	assert.Zero(t, h.objs.count())
	require.Len(t, h.objs.deleted, 1)
	assert.True(t, strings.HasPrefix(h.objs.deleted[0], "rag_documents/"))
}

func TestUploadAndProcess_EmbeddingFailureMarksFailed(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.emb.err = errors.New("rate limited")

	res, err := h.ing.UploadAndProcess(ctx, "a.pdf", buildPDF(t, "page one", "page two"))
	require.ErrorIs(t, err, core.ErrExternalService)
	assert.Nil(t, res)

	doc := h.onlyDocument(t)
	assert.Equal(t, models.StatusFailed, doc.ProcessingStatus)
	assert.Contains(t, err.Error(), doc.ID)

	got, err := h.ing.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 0, got.ChunksCount)

	chunks, err := h.store.GetChunksByDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Empty(t, chunks)
	assert.Equal(t, 1, h.objs.count(), "blob kept for inspection")
}

func TestUploadAndProcess_FailuresAfterCreation(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(h *harness)
		content func(t *testing.T) []byte
		wantErr error
	}{
		{
			name:    "no text extracted",
			content: func(t *testing.T) []byte { return buildPDF(t, "", "") },
			wantErr: core.ErrEmptyInput,
		},
		{
			name:    "corrupt pdf",
			content: func(*testing.T) []byte { return []byte("%PDF-1.4\nthis is not really a pdf") },
			wantErr: core.ErrExtraction,
		},
		{
			name:    "wrong dimension",
			setup:   func(h *harness) { h.emb.dim = testDim + 1 },
			content: func(t *testing.T) []byte { return buildPDF(t, "text") },
			wantErr: core.ErrExternalService,
		},
		{
			name:    "chunk write fails",
			setup:   func(h *harness) { h.store.createChunksErr = errors.New("disk full") },
			content: func(t *testing.T) []byte { return buildPDF(t, "text") },
			wantErr: core.ErrPersistence,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, nil)
			if tc.setup != nil {
				tc.setup(h)
			}

			_, err := h.ing.UploadAndProcess(context.Background(), "doc.pdf", tc.content(t))
			require.ErrorIs(t, err, tc.wantErr)

			doc := h.onlyDocument(t)
			assert.Equal(t, models.StatusFailed, doc.ProcessingStatus)
			n, _ := h.store.CountChunks(context.Background(), doc.ID)
			assert.Zero(t, n)
		})
	}
}

func TestDeleteDocument_SwallowsBlobError(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	res, err := h.ing.UploadAndProcess(ctx, "a.pdf", buildPDF(t, "text one", "text two"))
	require.NoError(t, err)

	h.objs.deleteErr = errors.New("access denied")
	out, err := h.ing.DeleteDocument(ctx, res.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, "success", out.Status)

	got, err := h.ing.GetDocument(ctx, res.DocumentID)
	require.NoError(t, err)
	assert.Nil(t, got)
	n, _ := h.store.CountChunks(ctx, res.DocumentID)
	assert.Zero(t, n)

	_, err = h.ing.DeleteDocument(ctx, res.DocumentID)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestListDocuments(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	ok, err := h.ing.UploadAndProcess(ctx, "good.pdf", buildPDF(t, "some text"))
	require.NoError(t, err)
	h.emb.setErr(errors.New("boom"))
	_, err = h.ing.UploadAndProcess(ctx, "bad.pdf", buildPDF(t, "other text"))
	require.Error(t, err)

	all, err := h.ing.ListDocuments(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)

	byID := map[string]models.DocumentSummary{}
	for _, s := range all {
		byID[s.Filename] = s
	}
	assert.Equal(t, 1, byID["good.pdf"].ChunksCount)
	assert.Equal(t, models.StatusCompleted, byID["good.pdf"].ProcessingStatus)
	assert.Equal(t, 0, byID["bad.pdf"].ChunksCount)
	assert.NotNil(t, byID["good.pdf"].CreatedAt)

	failed, err := h.ing.ListDocuments(ctx, models.StatusFailed)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "bad.pdf", failed[0].Filename)

	_, err = h.ing.ListDocuments(ctx, "archived")
	assert.ErrorIs(t, err, core.ErrInvalidArgument)

	got, err := h.ing.GetDocument(ctx, ok.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, "good.pdf", got.Filename)

	missing, err := h.ing.GetDocument(ctx, "00000000-0000-0000-0000-000000000000")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &IngestConfig{EmbedDim: testDim, ChunkSize: 40, MatchThreshold: 0.5, MatchCount: 2})

	_, err := h.ing.UploadAndProcess(ctx, "a.pdf", buildPDF(t,
		"First sentence is here. Second sentence follows. Third one closes it out nicely."))
	require.NoError(t, err)

	matches, err := h.ing.Search(ctx, "  sentence  ", nil, 0)
	require.NoError(t, err)
	assert.Len(t, matches, 2)
	for _, m := range matches {
		assert.GreaterOrEqual(t, m.Similarity, 0.5)
	}

	matches, err = h.ing.Search(ctx, "sentence", threshold(0.5), 1)
	require.NoError(t, err)
	assert.Len(t, matches, 1)

	_, err = h.ing.Search(ctx, "   ", nil, 0)
	assert.ErrorIs(t, err, core.ErrEmptyInput)

	matches, err = h.ing.Search(ctx, "sentence", threshold(0), 10)
	require.NoError(t, err)
	n, err := h.store.CountChunks(ctx, h.onlyDocument(t).ID)
	require.NoError(t, err)
	assert.Len(t, matches, n)

	matches, err = h.ing.Search(ctx, "sentence", threshold(-1), 10)
	require.NoError(t, err)
	assert.Len(t, matches, n)

	_, err = h.ing.Search(ctx, "sentence", threshold(1.5), 0)
	assert.ErrorIs(t, err, core.ErrInvalidArgument)

	h.emb.setErr(errors.New("down"))
	_, err = h.ing.Search(ctx, "sentence", nil, 0)
	assert.Error(t, err)
}

func TestSearch_ExplicitZeroThresholdOverridesDefault(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &IngestConfig{EmbedDim: testDim, MatchThreshold: 0.99})

	doc := &models.ContextDocument{Filename: "a.pdf", StorageURL: "k"}
	require.NoError(t, h.store.CreateDocument(ctx, doc))
	_, err := h.store.CreateChunks(ctx, []models.Chunk{
		{Content: "orthogonal", DocumentID: doc.ID, Embedding: []float32{0, 0, 1, 0}},
	})
	require.NoError(t, err)

	matches, err := h.ing.Search(ctx, "q", nil, 5)
	require.NoError(t, err)
	assert.Empty(t, matches)

	matches, err = h.ing.Search(ctx, "q", threshold(0), 5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.InDelta(t, 0, matches[0].Similarity, 1e-9)
}

func TestSearch_RejectsQueryOfWrongDimension(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.emb.dim = testDim * 2

	_, err := h.ing.Search(ctx, "sentence", nil, 0)
	assert.ErrorIs(t, err, core.ErrExternalService)
	assert.ErrorContains(t, err, "query embedding has dimension 8, want 4")
}

func threshold(v float64) *float64 { return &v }

func TestReprocess_RecoversFailedDocument(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newHarness(t, &IngestConfig{EmbedDim: testDim, Workers: 2, ProcessTimeout: 5 * time.Second})

	h.emb.setErr(errors.New("quota exceeded"))
	_, err := h.ing.UploadAndProcess(ctx, "a.pdf", buildPDF(t, "page one", "page two"))
	require.Error(t, err)
	doc := h.onlyDocument(t)
	require.Equal(t, models.StatusFailed, doc.ProcessingStatus)

	h.emb.setErr(nil)
	h.ing.Start(ctx)
	require.NoError(t, h.ing.RequestReprocess(ctx, doc.ID))

	require.Eventually(t, func() bool {
		s, err := h.ing.GetDocument(ctx, doc.ID)
		return err == nil && s != nil && s.ProcessingStatus == models.StatusCompleted && s.ChunksCount > 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	h.ing.Wait()

	err = h.ing.RequestReprocess(context.Background(), doc.ID)
	assert.ErrorIs(t, err, core.ErrInvalidTransition)
	err = h.ing.RequestReprocess(context.Background(), "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestReprocess_DownloadFailureKeepsFailed(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	h.emb.setErr(errors.New("quota exceeded"))
	_, err := h.ing.UploadAndProcess(ctx, "a.pdf", buildPDF(t, "page one"))
	require.Error(t, err)
	doc := h.onlyDocument(t)

	h.emb.setErr(nil)
	h.objs.getErr = errors.New("bucket gone")
	err = h.ing.Reprocess(ctx, doc.ID)
	require.ErrorIs(t, err, core.ErrExternalService)

	assert.Equal(t, models.StatusFailed, h.onlyDocument(t).ProcessingStatus)
}

func TestEnqueue_SingleWriterPerDocument(t *testing.T) {
	h := newHarness(t, &IngestConfig{EmbedDim: testDim, QueueSize: 2})

	require.NoError(t, h.ing.Enqueue("doc-1"))
	assert.ErrorIs(t, h.ing.Enqueue("doc-1"), core.ErrConflict)
	require.NoError(t, h.ing.Enqueue("doc-2"))

	err := h.ing.Enqueue("doc-3")
	assert.ErrorIs(t, err, core.ErrConflict)
	assert.Contains(t, err.Error(), "queue is full")

	h.ing.release("doc-1")
	<-h.ing.jobs
	assert.NoError(t, h.ing.Enqueue("doc-1"))
}

func TestFailStuckDocuments(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	doc := &models.ContextDocument{Filename: "stuck.pdf", StorageURL: "k"}
	require.NoError(t, h.store.CreateDocument(ctx, doc))
	_, err := h.store.UpdateDocumentStatus(ctx, doc.ID, doc.Version, models.StatusProcessing)
	require.NoError(t, err)

	moved, err := h.ing.FailStuckDocuments(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, moved)

	moved, err = h.ing.FailStuckDocuments(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)
	assert.Equal(t, models.StatusFailed, h.onlyDocument(t).ProcessingStatus)
}

func TestAdvance_StaleVersion(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	doc := &models.ContextDocument{Filename: "a.pdf", StorageURL: "k"}
	require.NoError(t, h.store.CreateDocument(ctx, doc))
	stale := *doc

	_, err := h.ing.advance(ctx, doc, models.StatusProcessing)
	require.NoError(t, err)

	_, err = h.ing.advance(ctx, &stale, models.StatusProcessing)
	assert.ErrorIs(t, err, core.ErrStaleVersion)

	_, err = h.ing.advance(ctx, &stale, models.StatusCompleted)
	assert.ErrorIs(t, err, core.ErrInvalidTransition)
}

func TestUploadAndProcess_FailedStartMarksFailed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newHarness(t, nil)
	h.store.statusErr = map[models.ProcessingStatus]error{models.StatusProcessing: context.Canceled}

	_, err := h.ing.UploadAndProcess(ctx, "a.pdf", buildPDF(t, "Some text."))
	require.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, core.ErrPersistence)

	doc := h.onlyDocument(t)
	assert.Equal(t, models.StatusFailed, doc.ProcessingStatus)
	assert.Zero(t, h.emb.calls)

	// the document is now eligible for a retry
	h.ing.Start(ctx)
	require.NoError(t, h.ing.RequestReprocess(ctx, doc.ID))
	require.Eventually(t, func() bool {
		d, err := h.store.GetDocumentByID(ctx, doc.ID)
		return err == nil && d.ProcessingStatus == models.StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)
}

func TestMarkFailed_LosingWriteKeepsChunks(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	doc := &models.ContextDocument{Filename: "a.pdf", StorageURL: "k"}
	require.NoError(t, h.store.CreateDocument(ctx, doc))
	stale := *doc
	stale.ProcessingStatus = models.StatusProcessing

	// another writer advanced the document and stored its chunks
	cur, err := h.ing.advance(ctx, doc, models.StatusProcessing)
	require.NoError(t, err)
	_, err = h.store.CreateChunks(ctx, []models.Chunk{{Content: "kept", DocumentID: doc.ID, Embedding: []float32{1, 0, 0, 0}}})
	require.NoError(t, err)

	h.ing.markFailed(ctx, &stale, errors.New("late failure"))

	got, err := h.store.GetDocumentByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, got.ProcessingStatus)
	assert.Equal(t, cur.Version, got.Version)
	n, err := h.store.CountChunks(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// the winning writer can still fail it, which clears the chunks
	h.ing.markFailed(ctx, cur, errors.New("real failure"))
	got, err = h.store.GetDocumentByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.ProcessingStatus)
	n, err = h.store.CountChunks(ctx, doc.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}
