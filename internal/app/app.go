package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/contexta-rag/internal/config"
	"github.com/markdave123-py/contexta-rag/internal/core"
	db "github.com/markdave123-py/contexta-rag/internal/core/database"
	"github.com/markdave123-py/contexta-rag/internal/core/ingestion_engine"
	"github.com/markdave123-py/contexta-rag/internal/core/llm"
	"github.com/markdave123-py/contexta-rag/internal/core/memstore"
	objectclient "github.com/markdave123-py/contexta-rag/internal/core/object-client"
	"github.com/markdave123-py/contexta-rag/internal/logger"
)

const shutdownTimeout = 30 * time.Second

type App struct {
	cfg      *config.Config
	log      *logger.Logger
	DBClient core.DbClient
	Objects  core.ObjectClient
	Embedder core.EmbeddingProvider
	Ingestor *ingestion_engine.DocumentIngestor
	Server   *Server

	closers []func() error
}

func NewApp(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	appCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	a := &App{cfg: cfg, log: log}

	dbClient, err := newDatabase(appCtx, cfg)
	if err != nil {
		return nil, err
	}
	a.DBClient = dbClient
	a.closers = append(a.closers, dbClient.Close)
	log.Info("database ready", "driver", cfg.DBDriver)

	objClient, err := newObjectClient(appCtx, cfg, log)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Objects = objClient
	log.Info("object storage ready", "backend", cfg.StorageBackend)

	embedder, err := newEmbedder(appCtx, cfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("couldn't initialize the embedder: %w", err)
	}
	a.Embedder = embedder
	if c, ok := embedder.(interface{ Close() error }); ok {
		a.closers = append(a.closers, c.Close)
	}
	if c, ok := objClient.(interface{ Close() error }); ok {
		a.closers = append(a.closers, c.Close)
	}
	log.Info("embedder ready", "provider", cfg.EmbedProvider, "dim", cfg.EmbedDim)

	a.Ingestor = ingestion_engine.NewDocumentIngestor(
		dbClient, objClient, embedder,
		ingestion_engine.NewProcessorFactory(),
		&ingestion_engine.IngestConfig{
			ChunkSize:      cfg.ChunkSize,
			ChunkOverlap:   cfg.ChunkOverlap,
			EmbedDim:       cfg.EmbedDim,
			MatchThreshold: cfg.MatchThreshold,
			MatchCount:     cfg.MatchCount,
			Workers:        cfg.IngestWorkers,
			ProcessTimeout: cfg.ProcessTimeout,
		},
		log,
	)
	a.Server = NewServer(cfg, a.Ingestor, log)
	return a, nil
}

func newDatabase(ctx context.Context, cfg *config.Config) (core.DbClient, error) {
	switch cfg.DBDriver {
	case "memory":
		return memstore.New(cfg.EmbedDim), nil
	case "postgres":
		return db.NewDatabaseClient(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown DB_DRIVER %q", cfg.DBDriver)
	}
}

func newObjectClient(ctx context.Context, cfg *config.Config, log *logger.Logger) (core.ObjectClient, error) {
	switch cfg.StorageBackend {
	case "s3":
		return objectclient.NewS3Client(ctx, cfg, log)
	case "gcs":
		return objectclient.NewGCSClient(ctx, cfg.GCSBucketName, log)
	default:
		return nil, fmt.Errorf("unknown STORAGE_BACKEND %q", cfg.StorageBackend)
	}
}

func newEmbedder(ctx context.Context, cfg *config.Config) (core.EmbeddingProvider, error) {
	switch cfg.EmbedProvider {
	case "openai":
		return llm.NewOpenAIEmbedder(llm.OpenAIOptions{
			APIKey:     cfg.OpenAIAPIKey,
			Model:      cfg.EmbedModel,
			BaseURL:    cfg.OpenAIBaseURL,
			Dimensions: cfg.EmbedDim,
			BatchSize:  cfg.EmbedBatchSize,
		})
	case "gemini":
		return llm.NewGeminiEmbedder(ctx, cfg.AIAPIKey, cfg.EmbedModel, cfg.EmbedBatchSize)
	default:
		return nil, fmt.Errorf("unknown EMBED_PROVIDER %q", cfg.EmbedProvider)
	}
}

// Run serves HTTP and drains the reprocess queue until ctx is cancelled or
// the server fails.
func (a *App) Run(ctx context.Context) error {
	// a crash mid-pipeline leaves documents in PROCESSING forever
	if n, err := a.Ingestor.FailStuckDocuments(ctx, 2*a.cfg.ProcessTimeout); err != nil {
		a.log.Warn("stuck document sweep failed", "error", err)
	} else if n > 0 {
		a.log.Info("stuck documents marked failed", "count", n)
	}

	g, gctx := errgroup.WithContext(ctx)

	a.Ingestor.Start(gctx)
	g.Go(func() error {
		a.Ingestor.Wait()
		return nil
	})
	g.Go(a.Server.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return a.Server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Close releases clients in reverse order of creation.
func (a *App) Close() {
	for j := len(a.closers) - 1; j >= 0; j-- {
		if err := a.closers[j](); err != nil {
			a.log.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}
