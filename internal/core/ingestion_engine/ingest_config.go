package ingestion_engine

import (
	"sync"
	"time"

	"github.com/markdave123-py/contexta-rag/internal/core"
	"github.com/markdave123-py/contexta-rag/internal/logger"
)

// IngestConfig tunes the pipeline.
//
// ChunkSize:      max runes per chunk.
// ChunkOverlap:   runes re-read from the previous chunk (0 keeps chunks disjoint).
// EmbedDim:       expected vector length; results of any other length are rejected.
// MatchThreshold: default minimum cosine similarity for Search.
// MatchCount:     default max rows for Search.
// Workers:        reprocess workers started by Start.
// QueueSize:      capacity of the reprocess queue.
// ProcessTimeout: deadline for one queued reprocess run.
type IngestConfig struct {
	ChunkSize      int
	ChunkOverlap   int
	EmbedDim       int
	MatchThreshold float64
	MatchCount     int
	Workers        int
	QueueSize      int
	ProcessTimeout time.Duration
}

func (c *IngestConfig) withDefaults() *IngestConfig {
	out := *c
	if out.ChunkSize <= 0 {
		out.ChunkSize = DefaultChunkSize
	}
	if out.MatchThreshold == 0 {
		out.MatchThreshold = 0.7
	}
	if out.MatchCount <= 0 {
		out.MatchCount = 5
	}
	if out.Workers <= 0 {
		out.Workers = 1
	}
	if out.QueueSize <= 0 {
		out.QueueSize = 64
	}
	if out.ProcessTimeout <= 0 {
		out.ProcessTimeout = 5 * time.Minute
	}
	return &out
}

// DocumentIngestor runs the upload -> extract -> chunk -> embed -> persist
// pipeline and the document management operations around it.
//
// db:       persistence for documents and chunks.
// obj:      blob storage for the raw uploads.
// embedder: embedding provider (OpenAI/Gemini).
// factory:  processor registry, selected by filename.
// jobs:     reprocess queue; inFlight keeps one writer per document.
type DocumentIngestor struct {
	db       core.DbClient
	obj      core.ObjectClient
	embedder core.EmbeddingProvider
	factory  *ProcessorFactory
	chunker  *TextChunker
	cfg      *IngestConfig
	log      *logger.Logger

	jobs     chan string
	mu       sync.Mutex
	inFlight map[string]struct{}
	wg       sync.WaitGroup
}
