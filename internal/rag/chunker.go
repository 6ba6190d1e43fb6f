package rag

import (
	"strings"
	"unicode"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// Chunk is a bounded window of a document's text. Start and End are rune
// offsets into the trimmed source text.
type Chunk struct {
	SourceID    string `json:"source_id"`
	Index       int    `json:"index"`
	Text        string `json:"text"`
	TotalChunks int    `json:"total_chunks"`
	Start       int    `json:"start"`
	End         int    `json:"end"`
}

// Chunker splits text into overlapping windows that prefer natural breaks.
type Chunker struct {
	size    int
	overlap int
}

func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 2
	}
	return &Chunker{size: size, overlap: overlap}
}

func (c *Chunker) Size() int    { return c.size }
func (c *Chunker) Overlap() int { return c.overlap }

// Split returns the chunks of text for sourceID. Whitespace-only text has no
// chunks.
func (c *Chunker) Split(sourceID, text string) []Chunk {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	runes := []rune(text)
	n := len(runes)

	var chunks []Chunk
	emit := func(start, end int) {
		piece := string(runes[start:end])
		if strings.TrimSpace(piece) == "" {
			return
		}
		chunks = append(chunks, Chunk{
			SourceID: sourceID,
			Index:    len(chunks),
			Text:     piece,
			Start:    start,
			End:      end,
		})
	}

	pos := 0
	for {
		if n-pos <= c.size {
			emit(pos, n)
			break
		}
		end := c.breakPoint(runes, pos, pos+c.size)
		emit(pos, end)
		pos = end - c.overlap
	}

	for i := range chunks {
		chunks[i].TotalChunks = len(chunks)
	}
	return chunks
}

// breakPoint picks the exclusive end of the window [pos, limit). Only the tail
// of the window is searched so chunks stay close to full size, and the result
// is always past pos+overlap so the next window moves forward.
func (c *Chunker) breakPoint(runes []rune, pos, limit int) int {
	lookback := c.overlap
	if lookback < c.size/10 {
		lookback = c.size / 10
	}
	lo := limit - lookback
	if floor := pos + c.overlap + 1; lo < floor {
		lo = floor
	}
	if lo > limit {
		return limit
	}

	for _, match := range []func(b int) bool{
		func(b int) bool { return runes[b] == '\n' && b > 0 && runes[b-1] != '\n' && b+1 < len(runes) && runes[b+1] == '\n' },
		func(b int) bool { return runes[b] == '\n' },
		func(b int) bool {
			return unicode.IsSpace(runes[b]) && b > 0 && strings.ContainsRune(".!?", runes[b-1])
		},
		func(b int) bool { return unicode.IsSpace(runes[b]) },
	} {
		for b := limit; b >= lo; b-- {
			if match(b) {
				return b
			}
		}
	}
	return limit
}
