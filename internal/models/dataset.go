// Package models defines core data structures for datasets, chunks, queries, and search results.
package models

import (
	"errors"
	"time"
)

// ErrNoHeaders is returned when a dataset has no header row.
var ErrNoHeaders = errors.New("dataset has no headers")

// Dataset is a loaded table: ordered column names and rows of cells.
type Dataset struct {
	ID        string                 `json:"id" db:"id"`
	Name      string                 `json:"name" db:"name"`
	Source    string                 `json:"source,omitempty" db:"source"`
	Headers   []string               `json:"headers" db:"headers"`
	Rows      [][]string             `json:"rows" db:"-"`
	Metadata  map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
	CreatedAt time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt time.Time              `json:"updated_at" db:"updated_at"`
}

// DatasetSummary describes a stored dataset without its rows.
type DatasetSummary struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Source   string   `json:"source,omitempty"`
	Headers  []string `json:"headers,omitempty"`
	Columns  int      `json:"columns"`
	RowCount int      `json:"row_count"`
	// Metadata holds loader bookkeeping such as file size and mtime.
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// Normalize enforces the row width invariant and rejects a dataset without headers.
func (d *Dataset) Normalize() error {
	if len(d.Headers) == 0 {
		return ErrNoHeaders
	}
	d.Rows = NormalizeRows(d.Headers, d.Rows)
	return nil
}

// Summary returns the list view of d.
func (d *Dataset) Summary() *DatasetSummary {
	return &DatasetSummary{
		ID:        d.ID,
		Name:      d.Name,
		Source:    d.Source,
		Headers:   d.Headers,
		Metadata:  d.Metadata,
		Columns:   len(d.Headers),
		RowCount:  len(d.Rows),
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

// NormalizeRows returns rows with every row exactly len(headers) cells wide:
// short rows are padded with empty cells and long rows are truncated.
// Rows already of the right width are reused, not copied.
func NormalizeRows(headers []string, rows [][]string) [][]string {
	width := len(headers)
	out := make([][]string, len(rows))
	for i, row := range rows {
		switch {
		case len(row) == width:
			out[i] = row
		case len(row) > width:
			out[i] = row[:width:width]
		default:
			padded := make([]string, width)
			copy(padded, row)
			out[i] = padded
		}
	}
	return out
}
