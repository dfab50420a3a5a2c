package search

import (
	"github.com/hyperjump/sheetsift/internal/config"
	"github.com/hyperjump/sheetsift/internal/models"
)

// Chunker splits a row set into fixed-size contiguous windows.
type Chunker struct {
	chunkSize int
}

// NewChunker creates a chunker with the given window size (in rows).
// A non-positive size falls back to config.DefaultChunkSize.
func NewChunker(chunkSize int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = config.DefaultChunkSize
	}
	return &Chunker{chunkSize: chunkSize}
}

// Size returns the window size.
func (c *Chunker) Size() int { return c.chunkSize }

// Chunk returns windows in dataset order that cover every row exactly once.
// The last window may be shorter; no rows means no chunks.
func (c *Chunker) Chunk(rows [][]string) []models.Chunk {
	if len(rows) == 0 {
		return nil
	}
	chunks := make([]models.Chunk, 0, (len(rows)+c.chunkSize-1)/c.chunkSize)
	for start := 0; start < len(rows); start += c.chunkSize {
		end := start + c.chunkSize
		if end > len(rows) {
			end = len(rows)
		}
		chunks = append(chunks, models.Chunk{
			Rows:   rows[start:end:end],
			Offset: start,
		})
	}
	return chunks
}
