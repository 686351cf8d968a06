package source

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

// parseXLSXFile reads the first sheet of a workbook
func parseXLSXFile(path string) ([]Record, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return []Record{}, nil
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return []Record{}, nil
	}
	return fromRows(rows[0], rows[1:]), nil
}
