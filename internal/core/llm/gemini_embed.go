package llm

import (
	"context"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/markdave123-py/contexta-rag/internal/core"
)

var _ core.EmbeddingProvider = (*GeminiEmbedder)(nil)

// defaultGeminiModel answers with 768-dimension vectors.
const defaultGeminiModel = "text-embedding-004"

type GeminiEmbedder struct {
	client    *genai.Client
	modelName string
	batchSize int
	embed     batchFunc
}

func NewGeminiEmbedder(ctx context.Context, apiKey, modelName string, batchSize int) (*GeminiEmbedder, error) {
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	if modelName == "" {
		modelName = defaultGeminiModel
	}
	g := &GeminiEmbedder{client: cl, modelName: modelName, batchSize: batchSize}
	g.embed = g.embedBatch
	return g, nil
}

func (g *GeminiEmbedder) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

// EmbedTexts sends one BatchEmbedContents request per batchSize texts.
func (g *GeminiEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	return embedInBatches(ctx, texts, g.batchSize, g.embed)
}

func (g *GeminiEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	em := g.client.EmbeddingModel(g.modelName)

	batch := em.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}

	resp, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, err
	}
	return vectorsOf(resp), nil
}

// vectorsOf keeps one slot per embedding so a missing one stays in place
// and is rejected by embedInBatches.
func vectorsOf(resp *genai.BatchEmbedContentsResponse) [][]float32 {
	if resp == nil {
		return nil
	}
	out := make([][]float32, 0, len(resp.Embeddings))
	for _, e := range resp.Embeddings {
		if e == nil {
			out = append(out, nil)
			continue
		}
		out = append(out, e.Values)
	}
	return out
}
