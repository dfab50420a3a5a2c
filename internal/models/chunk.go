package models

// Chunk is a contiguous window of dataset rows sent as one relevance request.
// Offset is the 0-based position of the first row in the full dataset.
type Chunk struct {
	Rows   [][]string
	Offset int
}

// First returns the 1-based global number of the chunk's first row.
func (c Chunk) First() int { return c.Offset + 1 }

// Last returns the 1-based global number of the chunk's last row.
func (c Chunk) Last() int { return c.Offset + len(c.Rows) }

// Contains reports whether the 1-based global row number i falls inside the chunk.
func (c Chunk) Contains(i int) bool {
	return i >= c.First() && i <= c.Last()
}
