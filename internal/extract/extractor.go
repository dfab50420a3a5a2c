// Package extract parses spreadsheet files into header and row tables.
package extract

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrEmptyTable is returned when a file holds no non-empty row to use as headers.
	ErrEmptyTable = errors.New("extract: table has no header row")
	// ErrUnsupportedFormat is returned for extensions without a parser.
	ErrUnsupportedFormat = errors.New("extract: unsupported format")
)

// Table is a parsed spreadsheet: the first non-empty row becomes Headers and
// every following non-empty row is padded or cut to len(Headers).
type Table struct {
	Headers []string
	Rows    [][]string
	// Truncated is set when rows beyond the configured limit were dropped.
	Truncated bool
}

// Extractor parses tables from CSV, TSV, XLSX and ODS files.
type Extractor struct {
	maxRows int
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithMaxRows caps the number of data rows kept per table; 0 means unlimited.
func WithMaxRows(n int) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.maxRows = n
		}
	}
}

// NewExtractor returns a new Extractor.
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Supported reports whether ext (with leading dot, any case) has a parser.
func Supported(ext string) bool {
	switch strings.ToLower(ext) {
	case ".csv", ".tsv", ".txt", ".xlsx", ".ods":
		return true
	}
	return false
}

// Extract opens the file at path and parses it by extension.
func (e *Extractor) Extract(path string) (*Table, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if !Supported(ext) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()
	return e.ExtractReader(f, ext)
}

// ExtractReader parses r as the format named by ext (e.g. ".csv").
// Delimited text is parsed as it streams; workbooks are read whole.
func (e *Extractor) ExtractReader(r io.Reader, ext string) (*Table, error) {
	var (
		records [][]string
		err     error
	)
	switch strings.ToLower(ext) {
	case ".csv":
		records, err = e.readDelimited(r, ',')
	case ".tsv":
		records, err = e.readDelimited(r, '\t')
	case ".txt", "":
		records, err = e.readSniffed(r)
	case ".xlsx":
		records, err = readExcel(r)
	case ".ods":
		records, err = readODS(r)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return nil, err
	}
	return e.buildTable(records)
}

// ExtractBytes parses content as the format named by ext.
func (e *Extractor) ExtractBytes(content []byte, ext string) (*Table, error) {
	return e.ExtractReader(strings.NewReader(string(content)), ext)
}

func (e *Extractor) buildTable(records [][]string) (*Table, error) {
	start := -1
	for i, rec := range records {
		if !blankRecord(rec) {
			start = i
			break
		}
	}
	if start < 0 {
		return nil, ErrEmptyTable
	}

	headers := make([]string, len(records[start]))
	for i, h := range records[start] {
		h = strings.TrimSpace(h)
		if h == "" {
			h = fmt.Sprintf("Column %d", i+1)
		}
		headers[i] = h
	}

	t := &Table{Headers: headers, Rows: [][]string{}}
	for _, rec := range records[start+1:] {
		if blankRecord(rec) {
			continue
		}
		if e.maxRows > 0 && len(t.Rows) >= e.maxRows {
			t.Truncated = true
			break
		}
		row := make([]string, len(headers))
		copy(row, rec)
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

func blankRecord(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
