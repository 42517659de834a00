package llm

import (
	"context"
	"fmt"

	"github.com/markdave123-py/contexta-rag/internal/core"
)

const defaultBatchSize = 100

type batchFunc func(ctx context.Context, texts []string) ([][]float32, error)

// embedInBatches calls embed on consecutive slices of at most size texts and
// stitches the results back together in input order. Any failure, including
// a batch answering with the wrong number of vectors, wraps ErrExternalService.
func embedInBatches(ctx context.Context, texts []string, size int, embed batchFunc) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if size <= 0 {
		size = defaultBatchSize
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += size {
		end := min(start+size, len(texts))

		vectors, err := embed(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("%w: embed batch %d-%d: %w", core.ErrExternalService, start, end, err)
		}
		if len(vectors) != end-start {
			return nil, fmt.Errorf("%w: batch %d-%d returned %d vectors", core.ErrExternalService, start, end, len(vectors))
		}
		for i, v := range vectors {
			if len(v) == 0 {
				return nil, fmt.Errorf("%w: no embedding for input %d", core.ErrExternalService, start+i)
			}
		}
		out = append(out, vectors...)
	}
	return out, nil
}
