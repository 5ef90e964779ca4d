// Package csv reads flows tables from CSV downloads.
package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/transform"

	"marketflows/internal/flows"
)

// Options controls how a CSV export is read.
type Options struct {
	// NoHeader treats every record as data; columns are then positional.
	NoHeader bool
	// Comma is the field delimiter; zero means ','.
	Comma rune
	// LazyQuotes tolerates stray quotes inside unquoted fields.
	LazyQuotes bool
	// SkipRows drops leading records (titles, notes) before the header.
	SkipRows int
	// HeaderMap renames source headers before column mapping, keyed by the
	// trimmed source text.
	HeaderMap map[string]string
	// OnError receives malformed records, which are skipped. When nil the
	// first malformed record aborts the read.
	OnError func(line int, err error)
}

// StreamRows reads records from r and hands each data row to fn with its
// 1-based line number. The header (when present) is returned after the
// stream ends. Cells are trimmed, padding around quoted fields is tolerated
// and the first header cell loses any BOM.
func StreamRows(ctx context.Context, r io.Reader, opt Options, fn func(line int, row []string) error) ([]string, error) {
	comma := opt.Comma
	if comma == 0 {
		comma = ','
	}
	cr := csv.NewReader(transform.NewReader(r, newQuotePadTrimmer(comma)))
	cr.Comma = comma
	cr.LazyQuotes = opt.LazyQuotes
	// Exports often pad fields after the delimiter: `18-Sep-2025, "-1,124.5"`.
	cr.TrimLeadingSpace = comma != ' ' && comma != '\t'
	cr.FieldsPerRecord = -1

	var (
		line   int
		header []string
	)
	readRec := func() ([]string, error) {
		line++
		return cr.Read()
	}

	for i := 0; i < opt.SkipRows; i++ {
		if _, err := readRec(); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, nil
			}
			return nil, fmt.Errorf("csv: skip line %d: %w", line, err)
		}
	}

	first := true
	for {
		select {
		case <-ctx.Done():
			return header, ctx.Err()
		default:
		}

		rec, err := readRec()
		if errors.Is(err, io.EOF) {
			return header, nil
		}
		if err != nil {
			if opt.OnError == nil {
				return header, fmt.Errorf("csv: read line %d: %w", line, err)
			}
			opt.OnError(line, err)
			continue
		}

		row := make([]string, len(rec))
		for i, v := range rec {
			if first && i == 0 {
				v = strings.TrimPrefix(v, "\uFEFF")
			}
			row[i] = strings.TrimSpace(v)
		}

		if first && !opt.NoHeader {
			first = false
			header = row
			for i, h := range header {
				if mapped, ok := opt.HeaderMap[h]; ok {
					header[i] = mapped
				}
			}
			continue
		}
		first = false

		if isBlank(row) {
			continue
		}
		if err := fn(line, row); err != nil {
			return header, err
		}
	}
}

// ReadTable reads the whole CSV stream into a RawTable.
func ReadTable(ctx context.Context, r io.Reader, opt Options) (flows.RawTable, error) {
	var rows [][]string
	header, err := StreamRows(ctx, r, opt, func(_ int, row []string) error {
		rows = append(rows, row)
		return nil
	})
	if err != nil {
		return flows.RawTable{}, err
	}
	return flows.RawTable{Header: header, Rows: rows}, nil
}

func isBlank(row []string) bool {
	for _, v := range row {
		if v != "" {
			return false
		}
	}
	return true
}
