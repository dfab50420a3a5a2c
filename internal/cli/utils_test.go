package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/sheetsift/internal/models"
)

func sampleResponse() *models.SearchResponse {
	return &models.SearchResponse{
		Query:       "london",
		Headers:     []string{"name", "city"},
		Rows:        [][]string{{"Ada", "London"}, {"Bob", "London, UK"}},
		Total:       2,
		DatasetRows: 10,
		Chunks:      2,
		QueryTime:   42,
	}
}

func TestParseOutputFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    SearchOutputFormat
		wantErr bool
	}{
		{"", OutputText, false},
		{"text", OutputText, false},
		{"JSON", OutputJSON, false},
		{" csv ", OutputCSV, false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		got, err := ParseOutputFormat(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseOutputFormat(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestWriteSearchResults_JSON(t *testing.T) {
	response := sampleResponse()
	var buf bytes.Buffer
	if err := WriteSearchResults(&buf, response, OutputJSON); err != nil {
		t.Fatalf("WriteSearchResults(json): %v", err)
	}
	var decoded models.SearchResponse
	if err := json.NewDecoder(&buf).Decode(&decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded.Query != response.Query || decoded.QueryTime != response.QueryTime {
		t.Errorf("decoded query=%q query_time=%d", decoded.Query, decoded.QueryTime)
	}
	if len(decoded.Rows) != 2 || decoded.Rows[1][0] != "Bob" {
		t.Errorf("decoded rows: %v", decoded.Rows)
	}
}

func TestWriteSearchResults_CSV(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSearchResults(&buf, sampleResponse(), OutputCSV); err != nil {
		t.Fatal(err)
	}
	want := "name,city\nAda,London\nBob,\"London, UK\"\n"
	if buf.String() != want {
		t.Errorf("csv output = %q, want %q", buf.String(), want)
	}
}

func TestWriteSearchResults_text(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSearchResults(&buf, sampleResponse(), OutputText); err != nil {
		t.Fatalf("WriteSearchResults(text): %v", err)
	}
	out := buf.String()
	for _, sub := range []string{"Found 2 rows", "42ms", "searched 10 rows in 2 chunks", "name", "city", "Ada", "London, UK"} {
		if !strings.Contains(out, sub) {
			t.Errorf("text output missing %q:\n%s", sub, out)
		}
	}
	if strings.Contains(out, "Warning") {
		t.Errorf("unexpected warning:\n%s", out)
	}
}

func TestWriteSearchResults_textDegraded(t *testing.T) {
	response := sampleResponse()
	response.Degraded = true
	response.FailedChunks = 1
	var buf bytes.Buffer
	if err := WriteSearchResults(&buf, response, OutputText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "1 of 2 chunks failed") {
		t.Errorf("expected degraded warning:\n%s", buf.String())
	}
}

func TestWriteSearchResults_unknownFormatTreatedAsText(t *testing.T) {
	response := &models.SearchResponse{Query: "x"}
	var buf bytes.Buffer
	if err := WriteSearchResults(&buf, response, SearchOutputFormat("unknown")); err != nil {
		t.Fatalf("WriteSearchResults(unknown): %v", err)
	}
	if !strings.Contains(buf.String(), "Found") {
		t.Errorf("unknown format should fall back to text; got %q", buf.String())
	}
}

func TestWriteDatasets(t *testing.T) {
	updated := time.Date(2025, 3, 4, 5, 6, 0, 0, time.UTC)
	list := []*models.DatasetSummary{
		{ID: "file:abc", Name: "people.csv", RowCount: 3, Columns: 2, UpdatedAt: updated},
	}

	var buf bytes.Buffer
	if err := WriteDatasets(&buf, list, OutputText); err != nil {
		t.Fatal(err)
	}
	for _, sub := range []string{"ID", "people.csv", "2025-03-04 05:06"} {
		if !strings.Contains(buf.String(), sub) {
			t.Errorf("text output missing %q:\n%s", sub, buf.String())
		}
	}

	buf.Reset()
	if err := WriteDatasets(&buf, list, OutputCSV); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(buf.String(), "ID,NAME,ROWS,COLUMNS,UPDATED\nfile:abc,people.csv,3,2,") {
		t.Errorf("csv output = %q", buf.String())
	}

	buf.Reset()
	if err := WriteDatasets(&buf, nil, OutputJSON); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(buf.String()) != "[]" {
		t.Errorf("empty json = %q", buf.String())
	}

	buf.Reset()
	if err := WriteDatasets(&buf, nil, OutputText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "No datasets") {
		t.Errorf("empty text = %q", buf.String())
	}
}
