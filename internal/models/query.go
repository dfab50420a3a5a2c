package models

import "fmt"

// SearchQuery is a natural-language search over either a stored dataset or inline rows.
type SearchQuery struct {
	Query     string     `json:"query"`
	DatasetID string     `json:"dataset_id,omitempty"`
	Headers   []string   `json:"headers,omitempty"`
	Rows      [][]string `json:"rows,omitempty"`
}

// Validate checks that the query names its rows and normalizes inline rows.
// A blank query is valid: it selects every row.
func (q *SearchQuery) Validate() error {
	if q.DatasetID != "" {
		if len(q.Headers) > 0 || len(q.Rows) > 0 {
			return fmt.Errorf("dataset_id cannot be combined with inline headers or rows")
		}
		return nil
	}
	if len(q.Headers) == 0 {
		if len(q.Rows) > 0 {
			return fmt.Errorf("headers are required with inline rows")
		}
		return fmt.Errorf("either dataset_id or headers must be set")
	}
	q.Rows = NormalizeRows(q.Headers, q.Rows)
	return nil
}
