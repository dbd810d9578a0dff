package ingest

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

// parseExcel разбирает первый лист XLSX книги. excelize возвращает
// строки без хвостовых пустых ячеек, поэтому короткие строки
// дополняются до ширины заголовка
func parseExcel(path string) (*Parsed, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: workbook has no sheets", ErrParse)
	}

	all, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("%w: empty sheet", ErrParse)
	}

	header := all[0]
	width := len(header)

	var rows [][]string
	for i, row := range all[1:] {
		if len(row) > width {
			return nil, fmt.Errorf("%w: row %d has %d fields, expected %d",
				ErrParse, i+2, len(row), width)
		}
		for len(row) < width {
			row = append(row, "")
		}
		rows = append(rows, row)
	}

	return buildParsed(header, rows)
}
