package relevance

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hyperjump/sheetsift/internal/models"
)

const (
	rowLinePrefix   = "Row "
	queryLinePrefix = "Query: "

	// MinRelevance is the score a row must reach to be returned.
	MinRelevance = 0.7
)

// Request is the relevance question for one chunk. It is built once and not modified.
type Request struct {
	Query   string
	Headers []string
	Chunk   models.Chunk
}

// NewRequest builds the request for chunk.
func NewRequest(query string, headers []string, chunk models.Chunk) Request {
	return Request{Query: strings.TrimSpace(query), Headers: headers, Chunk: chunk}
}

// Prompt renders the request. Rows are numbered with their global 1-based
// position so replies from different chunks merge without re-indexing.
func (r Request) Prompt() (string, error) {
	headers, err := json.Marshal(r.Headers)
	if err != nil {
		return "", fmt.Errorf("encode headers: %w", err)
	}
	query, err := json.Marshal(r.Query)
	if err != nil {
		return "", fmt.Errorf("encode query: %w", err)
	}

	var b strings.Builder
	b.WriteString("Instructions: decide which rows of the table below relate to the user's query. ")
	b.WriteString("Judge every row on its own and give it a relevance score between 0.0 and 1.0.\n")
	fmt.Fprintf(&b, "Headers: %s\n", headers)
	b.WriteString("Rows:\n")
	for i, row := range r.Chunk.Rows {
		cells, err := json.Marshal(row)
		if err != nil {
			return "", fmt.Errorf("encode row %d: %w", r.Chunk.Offset+i+1, err)
		}
		fmt.Fprintf(&b, "%s%d: %s\n", rowLinePrefix, r.Chunk.Offset+i+1, cells)
	}
	fmt.Fprintf(&b, "%s%s\n", queryLinePrefix, query)
	fmt.Fprintf(&b, "Output: a JSON array of the row numbers shown above (1-indexed, exactly as numbered in this prompt), e.g. [%d, %d]. ",
		r.Chunk.First(), r.Chunk.First()+1)
	fmt.Fprintf(&b, "Include only rows with a relevance score of %.1f or greater. ", MinRelevance)
	b.WriteString("Respond ONLY with the JSON array; return [] when nothing matches.")
	return b.String(), nil
}
