// Package exporter writes normalized flows records in the formats accepted by
// the dashboard upload: CSV and Excel.
package exporter

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"marketflows/internal/flows"
)

// utf8BOM is prepended when Options.BOM is set; some spreadsheet tools need
// it to detect UTF-8.
const utf8BOM = "\uFEFF"

// SheetName is the worksheet written by WriteXLSX.
const SheetName = "FII_DII"

// Options controls CSV output.
type Options struct {
	BOM bool
}

// WriteCSV writes the canonical header followed by one line per record.
func WriteCSV(w io.Writer, recs []flows.Record, opt Options) error {
	if opt.BOM {
		if _, err := io.WriteString(w, utf8BOM); err != nil {
			return fmt.Errorf("write bom: %w", err)
		}
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(flows.Header()); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, r := range recs {
		if err := cw.Write(r.Strings()); err != nil {
			return fmt.Errorf("write record %d: %w", i, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// WriteCSVFile writes recs to path. The file is replaced only after the
// whole table has been written.
func WriteCSVFile(path string, recs []flows.Record, opt Options) error {
	var b Batch
	defer b.Abort()
	if err := b.CSV(path, recs, opt); err != nil {
		return err
	}
	return b.Commit()
}

// WriteXLSX writes recs to a single-sheet workbook at path. Dates are text in
// YYYY-MM-DD form and amounts are numeric cells.
func WriteXLSX(path string, recs []flows.Record) error {
	var b Batch
	defer b.Abort()
	if err := b.XLSX(path, recs); err != nil {
		return err
	}
	return b.Commit()
}

// Batch stages output files next to their targets and moves them into place
// together on Commit. Nothing under a target path changes until every file
// has been staged.
type Batch struct {
	staged []stagedFile
}

type stagedFile struct {
	tmp, path string
}

// CSV stages recs as CSV for path.
func (b *Batch) CSV(path string, recs []flows.Record, opt Options) error {
	return b.stage(path, func(f *os.File) error {
		return WriteCSV(f, recs, opt)
	})
}

// XLSX stages recs as a workbook for path.
func (b *Batch) XLSX(path string, recs []flows.Record) error {
	f, err := buildWorkbook(recs)
	if err != nil {
		return err
	}
	defer f.Close()

	return b.stage(path, func(out *os.File) error {
		if _, err := f.WriteTo(out); err != nil {
			return fmt.Errorf("xlsx: write: %w", err)
		}
		return nil
	})
}

// Commit renames every staged file over its target.
func (b *Batch) Commit() error {
	for len(b.staged) > 0 {
		s := b.staged[0]
		if err := os.Rename(s.tmp, s.path); err != nil {
			return fmt.Errorf("rename %s: %w", s.path, err)
		}
		b.staged = b.staged[1:]
	}
	return nil
}

// Abort removes staged files that were not committed. It is safe to call
// after Commit.
func (b *Batch) Abort() {
	for _, s := range b.staged {
		_ = os.Remove(s.tmp)
	}
	b.staged = nil
}

func buildWorkbook(recs []flows.Record) (*excelize.File, error) {
	f := excelize.NewFile()
	fail := func(err error) (*excelize.File, error) {
		_ = f.Close()
		return nil, err
	}

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return fail(fmt.Errorf("xlsx: rename sheet: %w", err))
	}
	header := make([]any, flows.NumFields)
	for i, h := range flows.Header() {
		header[i] = h
	}
	if err := f.SetSheetRow(SheetName, "A1", &header); err != nil {
		return fail(fmt.Errorf("xlsx: header: %w", err))
	}

	for i, r := range recs {
		row := make([]any, flows.NumFields)
		row[flows.FieldDate] = r.DateString()
		for _, fld := range flows.Fields()[1:] {
			row[fld] = r.Amount(fld).InexactFloat64()
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fail(fmt.Errorf("xlsx: row %d: %w", i, err))
		}
		if err := f.SetSheetRow(SheetName, cell, &row); err != nil {
			return fail(fmt.Errorf("xlsx: row %d: %w", i, err))
		}
	}
	return f, nil
}

// stage writes through a temp file in the target directory and queues it for
// Commit.
func (b *Batch) stage(path string, write func(*os.File) error) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if err = write(tmp); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	b.staged = append(b.staged, stagedFile{tmp: tmp.Name(), path: path})
	return nil
}
