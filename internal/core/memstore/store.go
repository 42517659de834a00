// Package memstore is an in-process core.DbClient. It backs DB_DRIVER=memory
// and the pipeline tests; similarity search is a brute-force cosine scan.
package memstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/markdave123-py/contexta-rag/internal/core"
	"github.com/markdave123-py/contexta-rag/internal/models"
)

var _ core.DbClient = (*Store)(nil)

type Store struct {
	mu        sync.RWMutex
	dimension int
	docs      map[string]models.ContextDocument
	order     []string // document ids, creation order
	chunks    []models.Chunk
	nextID    int64
	now       func() time.Time
}

// New returns an empty store. A positive dimension makes it reject
// embeddings of any other length, as the vector column would.
func New(dimension int) *Store {
	return &Store{
		dimension: dimension,
		docs:      make(map[string]models.ContextDocument),
		nextID:    1,
		now:       time.Now,
	}
}

func (s *Store) Close() error { return nil }

func (s *Store) CreateDocument(_ context.Context, doc *models.ContextDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if _, exists := s.docs[doc.ID]; exists {
		return fmt.Errorf("%w: document %s already exists", core.ErrConflict, doc.ID)
	}
	if doc.ProcessingStatus == "" {
		doc.ProcessingStatus = models.StatusPending
	}
	if !doc.ProcessingStatus.Valid() {
		return fmt.Errorf("%w: unknown status %q", core.ErrInvalidArgument, doc.ProcessingStatus)
	}
	now := s.now()
	doc.Version = 1
	doc.CreatedAt = now
	doc.UpdatedAt = now

	s.docs[doc.ID] = *doc
	s.order = append(s.order, doc.ID)
	return nil
}

func (s *Store) GetDocumentByID(_ context.Context, id string) (*models.ContextDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, nil
	}
	return &doc, nil
}

// ListDocuments returns documents newest first.
func (s *Store) ListDocuments(ctx context.Context) ([]models.ContextDocument, error) {
	return s.list(func(models.ContextDocument) bool { return true }), nil
}

func (s *Store) ListDocumentsByStatus(_ context.Context, status models.ProcessingStatus) ([]models.ContextDocument, error) {
	return s.list(func(d models.ContextDocument) bool { return d.ProcessingStatus == status }), nil
}

func (s *Store) list(keep func(models.ContextDocument) bool) []models.ContextDocument {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ContextDocument, 0, len(s.order))
	for j := len(s.order) - 1; j >= 0; j-- {
		if d := s.docs[s.order[j]]; keep(d) {
			out = append(out, d)
		}
	}
	return out
}

func (s *Store) UpdateDocumentStatus(_ context.Context, id string, expectedVersion int, status models.ProcessingStatus) (*models.ContextDocument, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", core.ErrInvalidArgument, status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	if doc.Version != expectedVersion {
		return nil, fmt.Errorf("document %s at version %d, expected %d: %w", id, doc.Version, expectedVersion, core.ErrStaleVersion)
	}
	doc.ProcessingStatus = status
	doc.Version++
	doc.UpdatedAt = s.now()
	s.docs[id] = doc
	return &doc, nil
}

func (s *Store) DeleteDocument(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[id]; !ok {
		return false, nil
	}
	delete(s.docs, id)
	for j, d := range s.order {
		if d == id {
			s.order = append(s.order[:j], s.order[j+1:]...)
			break
		}
	}
	s.deleteChunksLocked(id)
	return true, nil
}

func (s *Store) CountChunks(_ context.Context, documentID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, c := range s.chunks {
		if c.DocumentID == documentID {
			n++
		}
	}
	return n, nil
}

func (s *Store) CreateChunk(ctx context.Context, chunk *models.Chunk) error {
	out, err := s.CreateChunks(ctx, []models.Chunk{*chunk})
	if err != nil {
		return err
	}
	*chunk = out[0]
	return nil
}

// CreateChunks validates the whole batch before writing any of it.
func (s *Store) CreateChunks(_ context.Context, chunks []models.Chunk) ([]models.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for j, c := range chunks {
		if _, ok := s.docs[c.DocumentID]; !ok {
			return nil, fmt.Errorf("chunk %d references document %s: %w", j, c.DocumentID, core.ErrNotFound)
		}
		if s.dimension > 0 && len(c.Embedding) != s.dimension {
			return nil, fmt.Errorf("%w: chunk %d has %d dimensions, want %d", core.ErrPersistence, j, len(c.Embedding), s.dimension)
		}
	}

	now := s.now()
	out := make([]models.Chunk, len(chunks))
	for j, c := range chunks {
		c.ID = s.nextID
		s.nextID++
		c.CreatedAt = now
		c.Metadata = copyMetadata(c.Metadata)
		c.Embedding = append([]float32(nil), c.Embedding...)
		s.chunks = append(s.chunks, c)
		out[j] = c
	}
	return out, nil
}

func (s *Store) GetChunkByID(_ context.Context, id int64) (*models.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.chunks {
		if c.ID == id {
			return &c, nil
		}
	}
	return nil, nil
}

func (s *Store) GetChunksByDocument(_ context.Context, documentID string) ([]models.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Chunk
	for _, c := range s.chunks {
		if c.DocumentID == documentID {
			out = append(out, c)
		}
	}
	return out, nil
}

// SearchSimilar scores every chunk, keeps those at or above threshold and
// returns the best count of them. Ties keep insertion order.
func (s *Store) SearchSimilar(_ context.Context, query []float32, threshold float64, count int) ([]models.ChunkMatch, error) {
	if count <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []models.ChunkMatch
	for _, c := range s.chunks {
		sim, ok := cosine(query, c.Embedding)
		if !ok || sim < threshold {
			continue
		}
		matches = append(matches, models.ChunkMatch{
			ID:         c.ID,
			Content:    c.Content,
			Metadata:   c.Metadata,
			DocumentID: c.DocumentID,
			Similarity: sim,
		})
	}

	sort.SliceStable(matches, func(a, b int) bool {
		return matches[a].Similarity > matches[b].Similarity
	})
	if len(matches) > count {
		matches = matches[:count]
	}
	return matches, nil
}

func (s *Store) DeleteChunksByDocument(_ context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteChunksLocked(documentID)
	return nil
}

func (s *Store) deleteChunksLocked(documentID string) {
	kept := s.chunks[:0]
	for _, c := range s.chunks {
		if c.DocumentID != documentID {
			kept = append(kept, c)
		}
	}
	s.chunks = kept
}

// cosine is false for mismatched lengths and zero vectors.
func cosine(a, b []float32) (float64, bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}
	var dot, na, nb float64
	for j := range a {
		x, y := float64(a[j]), float64(b[j])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0, false
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), true
}

func copyMetadata(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
