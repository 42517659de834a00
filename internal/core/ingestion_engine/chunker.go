package ingestion_engine

import (
	"strings"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 0
)

// TextChunk is one retrieval-sized piece of a document's text.
type TextChunk struct {
	Text     string
	Metadata map[string]any
}

// TextChunker splits text into windows of at most size runes, preferring
// paragraph, then sentence, then word boundaries in the second half of a window.
//
// With overlap 0 the chunks partition the trimmed input: joining them gives
// the source back, less whitespace at the cut points.
type TextChunker struct {
	size    int
	overlap int
}

func NewTextChunker(size, overlap int) *TextChunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = DefaultChunkOverlap
	}
	return &TextChunker{size: size, overlap: overlap}
}

var sentenceEnds = [][]rune{
	[]rune(". "), []rune("! "), []rune("? "),
	[]rune(".\n"), []rune("!\n"), []rune("?\n"),
}

// ChunkText returns nil for blank input. Every chunk's metadata is a copy of
// base plus chunk_index, total_chunks, char_start and char_end (rune offsets
// into the trimmed text).
func (c *TextChunker) ChunkText(fullText string, base map[string]any) []TextChunk {
	text := []rune(strings.TrimSpace(fullText))
	n := len(text)
	if n == 0 {
		return nil
	}

	type span struct {
		text       string
		start, end int
	}
	var spans []span

	for start := 0; start < n; {
		end := start + c.size
		if end < n {
			end = c.breakPoint(text, start, end)
		} else {
			end = n
		}

		if piece := strings.TrimSpace(string(text[start:end])); piece != "" {
			spans = append(spans, span{text: piece, start: start, end: end})
		}
		if end == n {
			break
		}

		next := end - c.overlap
		if next <= start {
			next = end
		}
		start = next
	}

	chunks := make([]TextChunk, len(spans))
	for i, s := range spans {
		md := make(map[string]any, len(base)+4)
		for k, v := range base {
			md[k] = v
		}
		md["chunk_index"] = i
		md["total_chunks"] = len(spans)
		md["char_start"] = s.start
		md["char_end"] = s.end
		chunks[i] = TextChunk{Text: s.text, Metadata: md}
	}
	return chunks
}

// breakPoint picks where the window [start, end) should end.
func (c *TextChunker) breakPoint(text []rune, start, end int) int {
	half := start + c.size/2

	if pos := lastIndex(text, start, end, []rune("\n\n")); pos > half {
		return pos + 2
	}
	for _, sep := range sentenceEnds {
		if pos := lastIndex(text, start, end, sep); pos > half {
			return pos + len(sep)
		}
	}
	if pos := lastIndex(text, start, end, []rune(" ")); pos > half {
		return pos + 1
	}
	return end
}

// lastIndex finds the last occurrence of sep lying entirely inside text[start:end], or -1.
func lastIndex(text []rune, start, end int, sep []rune) int {
	for i := end - len(sep); i >= start; i-- {
		match := true
		for j, r := range sep {
			if text[i+j] != r {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

// approxTokens estimates model tokens at ~4 runes per token.
func approxTokens(s string) int {
	n := len([]rune(s))
	if n <= 0 {
		return 0
	}
	return (n + 3) / 4
}
