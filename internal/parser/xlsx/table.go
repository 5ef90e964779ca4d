// Package xlsx reads flows tables from Excel workbooks.
package xlsx

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"marketflows/internal/flows"
)

// Options selects the sheet and layout of a workbook.
type Options struct {
	// Sheet names the worksheet; empty means the first sheet.
	Sheet string
	// NoHeader treats every row as data.
	NoHeader bool
	// SkipRows drops leading rows (titles, notes) before the header.
	SkipRows int
}

// ReadTable reads one worksheet from r. Cells are read raw, so dates arrive
// as Excel serial numbers and amounts without display formatting.
func ReadTable(r io.Reader, opt Options) (flows.RawTable, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return flows.RawTable{}, fmt.Errorf("xlsx: open: %w", err)
	}
	defer f.Close()
	return readSheet(f, opt)
}

// ReadFile is ReadTable for a workbook on disk.
func ReadFile(path string, opt Options) (flows.RawTable, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return flows.RawTable{}, fmt.Errorf("xlsx: open %s: %w", path, err)
	}
	defer f.Close()
	return readSheet(f, opt)
}

func readSheet(f *excelize.File, opt Options) (flows.RawTable, error) {
	sheet := opt.Sheet
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return flows.RawTable{}, fmt.Errorf("xlsx: workbook has no sheets")
		}
		sheet = sheets[0]
	}
	if idx, err := f.GetSheetIndex(sheet); err != nil || idx < 0 {
		return flows.RawTable{}, fmt.Errorf("xlsx: sheet %q not found", sheet)
	}

	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return flows.RawTable{}, fmt.Errorf("xlsx: read sheet %q: %w", sheet, err)
	}

	var t flows.RawTable
	headerDone := opt.NoHeader
	for i, row := range rows {
		if i < opt.SkipRows {
			continue
		}
		cells := make([]string, len(row))
		blank := true
		for j, c := range row {
			cells[j] = strings.TrimSpace(c)
			if cells[j] != "" {
				blank = false
			}
		}
		if blank {
			continue
		}
		if !headerDone {
			t.Header = cells
			headerDone = true
			continue
		}
		t.Rows = append(t.Rows, cells)
	}
	return t, nil
}
