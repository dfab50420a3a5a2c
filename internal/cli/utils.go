// Package cli provides CLI output helpers for sheetsift.
package cli

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/hyperjump/sheetsift/internal/models"
	"github.com/hyperjump/sheetsift/pkg/utils"
)

// SearchOutputFormat is the format for search result output.
type SearchOutputFormat string

const (
	// OutputText is a human-readable table (default).
	OutputText SearchOutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON SearchOutputFormat = "json"
	// OutputCSV is the matching rows as CSV with a header line.
	OutputCSV SearchOutputFormat = "csv"
)

// maxCellWidth bounds cells in text output.
const maxCellWidth = 40

// ParseOutputFormat validates a -format flag value.
func ParseOutputFormat(s string) (SearchOutputFormat, error) {
	switch f := SearchOutputFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case "", OutputText:
		return OutputText, nil
	case OutputJSON, OutputCSV:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text, json or csv)", s)
	}
}

// WriteSearchResults writes search results to w in the given format.
// Use OutputJSON or OutputCSV for output consumable by other apps.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format SearchOutputFormat) error {
	switch format {
	case OutputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(response)
	case OutputCSV:
		return WriteCSV(w, response.Headers, response.Rows)
	default:
		return writeSearchResultsText(w, response)
	}
}

func writeSearchResultsText(w io.Writer, response *models.SearchResponse) error {
	fmt.Fprintf(w, "\nFound %d rows in %dms (searched %d rows in %d chunks)\n",
		response.Total, response.QueryTime, response.DatasetRows, response.Chunks)
	if response.Degraded {
		fmt.Fprintf(w, "Warning: %d of %d chunks failed; results may be incomplete\n",
			response.FailedChunks, response.Chunks)
	}
	fmt.Fprintln(w)
	if len(response.Rows) == 0 {
		return nil
	}
	return writeTable(w, response.Headers, response.Rows)
}

func writeTable(w io.Writer, headers []string, rows [][]string) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	writeTableLine(tw, headers)
	underline := make([]string, len(headers))
	for i, h := range headers {
		underline[i] = strings.Repeat("-", len([]rune(utils.Truncate(h, maxCellWidth))))
	}
	writeTableLine(tw, underline)
	for _, row := range rows {
		writeTableLine(tw, row)
	}
	return tw.Flush()
}

func writeTableLine(w io.Writer, cells []string) {
	out := make([]string, len(cells))
	for i, c := range cells {
		c = strings.Join(strings.Fields(c), " ")
		out[i] = utils.Truncate(c, maxCellWidth)
	}
	fmt.Fprintln(w, strings.Join(out, "\t"))
}

// WriteCSV writes headers followed by rows as CSV.
func WriteCSV(w io.Writer, headers []string, rows [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(headers); err != nil {
		return err
	}
	if err := cw.WriteAll(rows); err != nil {
		return err
	}
	return cw.Error()
}

// WriteDatasets writes dataset summaries to w in the given format.
func WriteDatasets(w io.Writer, datasets []*models.DatasetSummary, format SearchOutputFormat) error {
	switch format {
	case OutputJSON:
		if datasets == nil {
			datasets = []*models.DatasetSummary{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(datasets)
	case OutputCSV:
		rows := make([][]string, len(datasets))
		for i, d := range datasets {
			rows[i] = datasetRow(d)
		}
		return WriteCSV(w, datasetColumns, rows)
	default:
		if len(datasets) == 0 {
			fmt.Fprintln(w, "No datasets loaded.")
			return nil
		}
		rows := make([][]string, len(datasets))
		for i, d := range datasets {
			rows[i] = datasetRow(d)
		}
		return writeTable(w, datasetColumns, rows)
	}
}

var datasetColumns = []string{"ID", "NAME", "ROWS", "COLUMNS", "UPDATED"}

func datasetRow(d *models.DatasetSummary) []string {
	return []string{
		d.ID,
		d.Name,
		fmt.Sprint(d.RowCount),
		fmt.Sprint(d.Columns),
		d.UpdatedAt.Format("2006-01-02 15:04"),
	}
}
