package extract

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// readExcel returns the rows of the first sheet that has any content.
func readExcel(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open Excel: %w", err)
	}
	defer f.Close()

	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("get rows for sheet %q: %w", sheet, err)
		}
		for _, row := range rows {
			if !blankRecord(row) {
				return rows, nil
			}
		}
	}
	return nil, nil
}
