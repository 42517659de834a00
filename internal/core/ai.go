package core

import "context"

// EmbeddingProvider turns texts into fixed-dimension vectors.
// Implementations return exactly len(texts) vectors, out[i] belonging to texts[i],
// and wrap provider failures in ErrExternalService.
type EmbeddingProvider interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}
