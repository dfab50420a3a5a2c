package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// odsContentPath is the path to the main content inside an .ods zip (OpenDocument Spreadsheet).
const odsContentPath = "content.xml"

// maxODSRepeat bounds number-rows-repeated and number-columns-repeated.
// Editors pad sheets with huge repeat counts of empty cells.
const maxODSRepeat = 1024

// readODS returns the rows of the first table in content.xml that has any content.
func readODS(r io.Reader) ([][]string, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read ODS: %w", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("extract ODS: not a zip: %w", err)
	}
	for _, f := range zr.File {
		if f.Name != odsContentPath {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("extract ODS: open %s: %w", f.Name, err)
		}
		defer rc.Close()
		return parseODSContent(rc)
	}
	return nil, fmt.Errorf("extract ODS: %s not found", odsContentPath)
}

// parseODSContent walks table:table > table:table-row > table:table-cell.
// Elements are matched by local name so documents without namespace
// declarations still parse.
func parseODSContent(r io.Reader) ([][]string, error) {
	dec := xml.NewDecoder(r)
	dec.Strict = false

	var (
		rows     [][]string
		row      []string
		cell     strings.Builder
		inTable  bool
		inCell   bool
		inPara   bool
		paras    int
		rowRep   int
		colRep   int
		finished bool
	)
	for !finished {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("extract ODS: parse %s: %w", odsContentPath, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "table":
				inTable = true
				rows = nil
			case "table-row":
				if inTable {
					row = nil
					rowRep = repeatAttr(t, "number-rows-repeated")
				}
			case "table-cell", "covered-table-cell":
				if inTable {
					inCell = true
					paras = 0
					cell.Reset()
					colRep = repeatAttr(t, "number-columns-repeated")
				}
			case "p", "h":
				if inCell {
					if paras > 0 {
						cell.WriteByte('\n')
					}
					paras++
					inPara = true
				}
			case "s":
				if inCell {
					n := repeatAttr(t, "c")
					cell.WriteString(strings.Repeat(" ", n))
				}
			case "tab":
				if inCell {
					cell.WriteByte('\t')
				}
			case "line-break":
				if inCell {
					cell.WriteByte('\n')
				}
			}
		case xml.CharData:
			if inPara {
				cell.Write(t)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "p", "h":
				inPara = false
			case "table-cell", "covered-table-cell":
				if inCell {
					v := cell.String()
					for i := 0; i < colRep; i++ {
						row = append(row, v)
					}
					inCell = false
				}
			case "table-row":
				if inTable {
					row = trimTrailingBlank(row)
					for i := 0; i < rowRep; i++ {
						rows = append(rows, row)
					}
				}
			case "table":
				if inTable {
					inTable = false
					rows = trimTrailingBlankRows(rows)
					if len(rows) > 0 {
						finished = true
					}
				}
			}
		}
	}
	return rows, nil
}

func repeatAttr(el xml.StartElement, local string) int {
	for _, a := range el.Attr {
		if a.Name.Local != local {
			continue
		}
		n, err := strconv.Atoi(a.Value)
		if err != nil || n < 1 {
			return 1
		}
		if n > maxODSRepeat {
			return maxODSRepeat
		}
		return n
	}
	return 1
}

func trimTrailingBlank(row []string) []string {
	end := len(row)
	for end > 0 && strings.TrimSpace(row[end-1]) == "" {
		end--
	}
	return row[:end]
}

func trimTrailingBlankRows(rows [][]string) [][]string {
	end := len(rows)
	for end > 0 && blankRecord(rows[end-1]) {
		end--
	}
	return rows[:end]
}
