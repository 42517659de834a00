package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/contexta-rag/internal/core"
)

// fakeOpenAI answers /embeddings with [len(input), index] vectors, listed in
// reverse order to check that results are placed by index.
func fakeOpenAI(t *testing.T, calls *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req embeddingRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		type item struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}
		data := make([]item, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			data = append(data, item{Embedding: []float32{float32(len(req.Input[i])), float32(i)}, Index: i})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
	}))
}

func TestOpenAIEmbedder_PreservesOrderAcrossBatches(t *testing.T) {
	var calls int32
	srv := fakeOpenAI(t, &calls)
	defer srv.Close()

	e, err := NewOpenAIEmbedder(OpenAIOptions{APIKey: "test-key", BaseURL: srv.URL + "/", BatchSize: 2})
	require.NoError(t, err)

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	out, err := e.EmbedTexts(context.Background(), texts)
	require.NoError(t, err)

	require.Len(t, out, len(texts))
	for i, v := range out {
		assert.Equal(t, float32(len(texts[i])), v[0], "vector %d", i)
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestOpenAIEmbedder_Empty(t *testing.T) {
	e, err := NewOpenAIEmbedder(OpenAIOptions{APIKey: "k", BaseURL: "http://127.0.0.1:1"})
	require.NoError(t, err)

	out, err := e.EmbedTexts(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestOpenAIEmbedder_ProviderErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"status", func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, `{"error":{"message":"rate limit"}}`, http.StatusTooManyRequests)
		}},
		{"error body", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"error":{"message":"bad model","type":"invalid_request_error"}}`))
		}},
		{"short answer", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"data":[{"embedding":[1,2],"index":0}]}`))
		}},
		{"garbage", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`<html>`))
		}},
		{"bad index", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"data":[{"embedding":[1],"index":0},{"embedding":[1],"index":7}]}`))
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			e, err := NewOpenAIEmbedder(OpenAIOptions{APIKey: "k", BaseURL: srv.URL})
			require.NoError(t, err)

			out, err := e.EmbedTexts(context.Background(), []string{"one", "two"})
			assert.ErrorIs(t, err, core.ErrExternalService)
			assert.Nil(t, out)
		})
	}
}

func TestOpenAIEmbedder_SendsDimensionsForV3(t *testing.T) {
	var got embeddingRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"data":[{"embedding":[1],"index":0}]}`))
	}))
	defer srv.Close()

	e, err := NewOpenAIEmbedder(OpenAIOptions{APIKey: "k", BaseURL: srv.URL, Dimensions: 512})
	require.NoError(t, err)
	_, err = e.EmbedTexts(context.Background(), []string{"x"})
	require.NoError(t, err)
	assert.Equal(t, 512, got.Dimensions)
	assert.Equal(t, defaultOpenAIModel, got.Model)

	got = embeddingRequest{}
	e, _ = NewOpenAIEmbedder(OpenAIOptions{APIKey: "k", BaseURL: srv.URL, Model: "text-embedding-ada-002", Dimensions: 512})
	_, err = e.EmbedTexts(context.Background(), []string{"x"})
	require.NoError(t, err)
	assert.Zero(t, got.Dimensions)
}

func TestNewOpenAIEmbedder_RequiresKey(t *testing.T) {
	_, err := NewOpenAIEmbedder(OpenAIOptions{})
	assert.Error(t, err)
}

func TestEmbedInBatches(t *testing.T) {
	var sizes []int
	embed := func(_ context.Context, texts []string) ([][]float32, error) {
		sizes = append(sizes, len(texts))
		out := make([][]float32, len(texts))
		for i := range texts {
			out[i] = []float32{1}
		}
		return out, nil
	}

	texts := make([]string, 250)
	out, err := embedInBatches(context.Background(), texts, 0, embed)
	require.NoError(t, err)
	assert.Len(t, out, 250)
	assert.Equal(t, []int{100, 100, 50}, sizes)

	_, err = embedInBatches(context.Background(), []string{"a"}, 10, func(context.Context, []string) ([][]float32, error) {
		return nil, errors.New("unavailable")
	})
	assert.ErrorIs(t, err, core.ErrExternalService)
	assert.ErrorContains(t, err, "unavailable")
}
