package extract

import (
	"archive/zip"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

func TestExtractReader_csv(t *testing.T) {
	e := NewExtractor()
	in := "\xEF\xBB\xBFName,City,Notes\nAda,London,\"likes, commas\"\nGrace,NYC\n\n,,\nLinus,Helsinki,kernel,extra\n"
	got, err := e.ExtractReader(strings.NewReader(in), ".csv")
	if err != nil {
		t.Fatalf("ExtractReader: %v", err)
	}
	if want := []string{"Name", "City", "Notes"}; !reflect.DeepEqual(got.Headers, want) {
		t.Errorf("headers = %q, want %q", got.Headers, want)
	}
	want := [][]string{
		{"Ada", "London", "likes, commas"},
		{"Grace", "NYC", ""},
		{"Linus", "Helsinki", "kernel"},
	}
	if !reflect.DeepEqual(got.Rows, want) {
		t.Errorf("rows = %q, want %q", got.Rows, want)
	}
}

func TestExtractReader_tsv(t *testing.T) {
	e := NewExtractor()
	got, err := e.ExtractReader(strings.NewReader("a\tb\n1\t2\n"), ".tsv")
	if err != nil {
		t.Fatalf("ExtractReader: %v", err)
	}
	if !reflect.DeepEqual(got.Rows, [][]string{{"1", "2"}}) {
		t.Errorf("rows = %q", got.Rows)
	}
}

func TestExtractReader_txtSniffsDelimiter(t *testing.T) {
	e := NewExtractor()
	got, err := e.ExtractReader(strings.NewReader("a\tb, c\td\n1\t2, 3\t4\n"), ".txt")
	if err != nil {
		t.Fatalf("ExtractReader: %v", err)
	}
	if !reflect.DeepEqual(got.Headers, []string{"a", "b, c", "d"}) {
		t.Errorf("headers = %q", got.Headers)
	}

	got, err = e.ExtractReader(strings.NewReader("a,b\n1,2\n"), ".txt")
	if err != nil {
		t.Fatalf("ExtractReader: %v", err)
	}
	if !reflect.DeepEqual(got.Headers, []string{"a", "b"}) {
		t.Errorf("headers = %q", got.Headers)
	}
}

func TestExtractReader_leadingBlankRowsAndHeaders(t *testing.T) {
	e := NewExtractor()
	got, err := e.ExtractReader(strings.NewReader("\n,,\n Name ,,Age\nx,y,z\n"), ".csv")
	if err != nil {
		t.Fatalf("ExtractReader: %v", err)
	}
	if want := []string{"Name", "Column 2", "Age"}; !reflect.DeepEqual(got.Headers, want) {
		t.Errorf("headers = %q, want %q", got.Headers, want)
	}
}

func TestExtractReader_empty(t *testing.T) {
	e := NewExtractor()
	for _, in := range []string{"", "\n\n", ",,\n , \n"} {
		_, err := e.ExtractReader(strings.NewReader(in), ".csv")
		if !errors.Is(err, ErrEmptyTable) {
			t.Errorf("input %q: err = %v, want ErrEmptyTable", in, err)
		}
	}
}

func TestExtractReader_headersOnly(t *testing.T) {
	got, err := NewExtractor().ExtractReader(strings.NewReader("a,b\n"), ".csv")
	if err != nil {
		t.Fatalf("ExtractReader: %v", err)
	}
	if got.Rows == nil || len(got.Rows) != 0 {
		t.Errorf("rows = %#v, want empty non-nil", got.Rows)
	}
}

func TestExtractReader_maxRows(t *testing.T) {
	e := NewExtractor(WithMaxRows(2))
	got, err := e.ExtractReader(strings.NewReader("h\n1\n2\n3\n"), ".csv")
	if err != nil {
		t.Fatalf("ExtractReader: %v", err)
	}
	if len(got.Rows) != 2 || !got.Truncated {
		t.Errorf("rows = %q truncated = %v", got.Rows, got.Truncated)
	}

	got, err = e.ExtractReader(strings.NewReader("h\n1\n2\n"), ".csv")
	if err != nil {
		t.Fatalf("ExtractReader: %v", err)
	}
	if got.Truncated {
		t.Error("exactly maxRows rows should not be truncated")
	}
}

func TestExtractReader_unsupported(t *testing.T) {
	_, err := NewExtractor().ExtractReader(strings.NewReader("x"), ".pdf")
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("err = %v, want ErrUnsupportedFormat", err)
	}
	if Supported(".PDF") || !Supported(".XLSX") {
		t.Error("Supported is wrong")
	}
}

func TestExtractBytes_excel(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	// Sheet1 stays empty; the data lives on the second sheet.
	if _, err := f.NewSheet("Data"); err != nil {
		t.Fatal(err)
	}
	f.SetCellValue("Data", "A1", "Title")
	f.SetCellValue("Data", "B1", "Year")
	f.SetCellValue("Data", "A2", "Dune")
	f.SetCellValue("Data", "B2", 1965)
	f.SetCellValue("Data", "A3", "Emma")
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	got, err := NewExtractor().ExtractBytes(buf.Bytes(), ".xlsx")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if !reflect.DeepEqual(got.Headers, []string{"Title", "Year"}) {
		t.Errorf("headers = %q", got.Headers)
	}
	want := [][]string{{"Dune", "1965"}, {"Emma", ""}}
	if !reflect.DeepEqual(got.Rows, want) {
		t.Errorf("rows = %q, want %q", got.Rows, want)
	}
}

func TestExtractBytes_excelNotWorkbook(t *testing.T) {
	if _, err := NewExtractor().ExtractBytes([]byte("not a zip"), ".xlsx"); err == nil {
		t.Error("expected error for invalid xlsx")
	}
}

func minimalOds(contentXML string) []byte {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	fw, _ := w.Create("content.xml")
	_, _ = fw.Write([]byte(contentXML))
	_ = w.Close()
	return buf.Bytes()
}

func TestExtractBytes_ods(t *testing.T) {
	contentXML := `<office:document><office:body><office:spreadsheet>` +
		`<table:table table:name="Empty"><table:table-row table:number-rows-repeated="5"><table:table-cell table:number-columns-repeated="3"/></table:table-row></table:table>` +
		`<table:table table:name="Sheet">` +
		`<table:table-row><table:table-cell><text:p>Name</text:p></table:table-cell><table:table-cell><text:p>Tags</text:p></table:table-cell><table:table-cell table:number-columns-repeated="1000"/></table:table-row>` +
		`<table:table-row><table:table-cell><text:p>Ada<text:s text:c="2"/>L</text:p></table:table-cell><table:table-cell><text:p>a</text:p><text:p>b</text:p></table:table-cell></table:table-row>` +
		`<table:table-row table:number-rows-repeated="2"><table:table-cell table:number-columns-repeated="2"><text:p>x</text:p></table:table-cell></table:table-row>` +
		`<table:table-row table:number-rows-repeated="1048570"><table:table-cell/></table:table-row>` +
		`</table:table></office:spreadsheet></office:body></office:document>`

	got, err := NewExtractor().ExtractBytes(minimalOds(contentXML), ".ods")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if !reflect.DeepEqual(got.Headers, []string{"Name", "Tags"}) {
		t.Errorf("headers = %q", got.Headers)
	}
	want := [][]string{{"Ada  L", "a\nb"}, {"x", "x"}, {"x", "x"}}
	if !reflect.DeepEqual(got.Rows, want) {
		t.Errorf("rows = %q, want %q", got.Rows, want)
	}
}

func TestExtract_odsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sheet.ods")
	content := minimalOds(`<office:document><office:body><table:table><table:table-row><table:table-cell><text:p>From file</text:p></table:table-cell></table:table-row></table:table></office:body></office:document>`)
	if err := os.WriteFile(path, content, 0600); err != nil {
		t.Fatal(err)
	}
	got, err := NewExtractor().Extract(path)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !reflect.DeepEqual(got.Headers, []string{"From file"}) {
		t.Errorf("headers = %q", got.Headers)
	}
}

func TestExtract_odsContentNotFound(t *testing.T) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	_, _ = w.Create("other.xml")
	_ = w.Close()
	if _, err := NewExtractor().ExtractBytes(buf.Bytes(), ".ods"); err == nil {
		t.Error("expected error when content.xml missing")
	}
}

func TestExtract_csvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "people.CSV")
	if err := os.WriteFile(path, []byte("name\nada\n"), 0600); err != nil {
		t.Fatal(err)
	}
	got, err := NewExtractor().Extract(path)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(got.Rows) != 1 || got.Rows[0][0] != "ada" {
		t.Errorf("rows = %q", got.Rows)
	}
}

func TestExtract_nonexistent(t *testing.T) {
	if _, err := NewExtractor().Extract("/nonexistent/file.csv"); err == nil {
		t.Error("expected error for missing file")
	}
}
