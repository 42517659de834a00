package ingestion_engine

import (
	"fmt"
	"strings"
	"testing"
	"unicode"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

func sampleText(paragraphs int) string {
	var b strings.Builder
	for p := 0; p < paragraphs; p++ {
		for s := 0; s < 4; s++ {
			fmt.Fprintf(&b, "Paragraph %d sentence %d talks about credit limits and repayment terms. ", p, s)
		}
		b.WriteString("\n\n")
	}
	return b.String()
}

func TestChunkText_Blank(t *testing.T) {
	c := NewTextChunker(100, 0)
	assert.Empty(t, c.ChunkText("", nil))
	assert.Empty(t, c.ChunkText(" \n\t\n ", map[string]any{"page": 1}))
}

func TestChunkText_SingleChunk(t *testing.T) {
	base := map[string]any{"source_file": "a.pdf", "page": 1}
	chunks := NewTextChunker(1000, 0).ChunkText("  short text  ", base)

	require.Len(t, chunks, 1)
	assert.Equal(t, "short text", chunks[0].Text)
	assert.Equal(t, map[string]any{
		"source_file":  "a.pdf",
		"page":         1,
		"chunk_index":  0,
		"total_chunks": 1,
		"char_start":   0,
		"char_end":     10,
	}, chunks[0].Metadata)
	assert.Len(t, base, 2, "base metadata must not be modified")
}

func TestChunkText_ReconstructsSource(t *testing.T) {
	for _, size := range []int{37, 100, 250, 1000} {
		t.Run(fmt.Sprintf("size=%d", size), func(t *testing.T) {
			text := sampleText(12)
			chunks := NewTextChunker(size, 0).ChunkText(text, map[string]any{"file_type": "pdf"})
			require.NotEmpty(t, chunks)

			var joined strings.Builder
			for i, ch := range chunks {
				assert.NotEmpty(t, strings.TrimSpace(ch.Text))
				assert.LessOrEqual(t, utf8.RuneCountInString(ch.Text), size)
				assert.Equal(t, i, ch.Metadata["chunk_index"])
				assert.Equal(t, len(chunks), ch.Metadata["total_chunks"])
				assert.Equal(t, "pdf", ch.Metadata["file_type"])
				joined.WriteString(ch.Text)
			}
			assert.Equal(t, stripSpace(text), stripSpace(joined.String()))
		})
	}
}

func TestChunkText_PrefersParagraphBreak(t *testing.T) {
	text := strings.Repeat("a", 70) + "\n\n" + strings.Repeat("b", 70)
	chunks := NewTextChunker(100, 0).ChunkText(text, nil)

	require.Len(t, chunks, 2)
	assert.Equal(t, strings.Repeat("a", 70), chunks[0].Text)
	assert.Equal(t, strings.Repeat("b", 70), chunks[1].Text)
	assert.Equal(t, 72, chunks[0].Metadata["char_end"])
	assert.Equal(t, 72, chunks[1].Metadata["char_start"])
}

func TestChunkText_PrefersSentenceBreak(t *testing.T) {
	text := strings.Repeat("x", 60) + ". " + strings.Repeat("y", 60)
	chunks := NewTextChunker(100, 0).ChunkText(text, nil)

	require.Len(t, chunks, 2)
	assert.Equal(t, strings.Repeat("x", 60)+".", chunks[0].Text)
}

func TestChunkText_HardCutWithoutBoundaries(t *testing.T) {
	chunks := NewTextChunker(10, 0).ChunkText(strings.Repeat("z", 25), nil)

	require.Len(t, chunks, 3)
	assert.Equal(t, []int{10, 10, 5}, []int{len(chunks[0].Text), len(chunks[1].Text), len(chunks[2].Text)})
}

func TestChunkText_Overlap(t *testing.T) {
	chunks := NewTextChunker(10, 3).ChunkText("abcdefghijklmnopqrst", nil)

	require.Len(t, chunks, 3)
	assert.Equal(t, "abcdefghij", chunks[0].Text)
	assert.Equal(t, "hijklmnopq", chunks[1].Text)
	assert.Equal(t, "opqrst", chunks[2].Text)
}

func TestChunkText_Deterministic(t *testing.T) {
	c := NewTextChunker(120, 0)
	text := sampleText(5)
	assert.Equal(t, c.ChunkText(text, map[string]any{"k": "v"}), c.ChunkText(text, map[string]any{"k": "v"}))
}

func TestChunkText_MultiByteRunes(t *testing.T) {
	text := strings.Repeat("Año niño señal ", 40)
	chunks := NewTextChunker(50, 0).ChunkText(text, nil)

	require.NotEmpty(t, chunks)
	var joined strings.Builder
	for _, ch := range chunks {
		assert.True(t, utf8.ValidString(ch.Text))
		assert.LessOrEqual(t, utf8.RuneCountInString(ch.Text), 50)
		joined.WriteString(ch.Text)
	}
	assert.Equal(t, stripSpace(text), stripSpace(joined.String()))
}

func TestNewTextChunker_Defaults(t *testing.T) {
	c := NewTextChunker(0, -5)
	assert.Equal(t, DefaultChunkSize, c.size)
	assert.Equal(t, 0, c.overlap)

	c = NewTextChunker(10, 10)
	assert.Equal(t, 0, c.overlap)
}

func TestApproxTokens(t *testing.T) {
	assert.Equal(t, 0, approxTokens(""))
	assert.Equal(t, 1, approxTokens("abc"))
	assert.Equal(t, 2, approxTokens("abcde"))
}
