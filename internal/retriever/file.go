package retriever

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"marketflows/internal/extracthtml"
	"marketflows/internal/flows"
	csvparser "marketflows/internal/parser/csv"
	jsonparser "marketflows/internal/parser/json"
	xlsxparser "marketflows/internal/parser/xlsx"
)

// File reads a manually downloaded export. The format follows the file
// extension: .html/.htm, .csv, .xlsx or .json.
type File struct {
	name  string
	path  string
	sheet string
	table extracthtml.TableOptions
}

// NewFile returns a file retriever for path.
func NewFile(path string, table extracthtml.TableOptions) *File {
	return &File{name: path, path: path, table: table}
}

func (f *File) Name() string { return f.name }

func (f *File) Retrieve(ctx context.Context) (flows.RawTable, error) {
	if err := ctx.Err(); err != nil {
		return flows.RawTable{}, err
	}

	ext := strings.ToLower(filepath.Ext(f.path))
	switch ext {
	case ".html", ".htm":
		b, err := os.ReadFile(f.path)
		if err != nil {
			return flows.RawTable{}, fmt.Errorf("%s: %w", f.name, err)
		}
		t, err := extracthtml.ExtractTable(string(b), f.table)
		if err != nil {
			return flows.RawTable{}, fmt.Errorf("%s: %w", f.name, err)
		}
		return t, nil

	case ".csv":
		fh, err := os.Open(f.path)
		if err != nil {
			return flows.RawTable{}, fmt.Errorf("%s: %w", f.name, err)
		}
		defer fh.Close()
		t, err := csvparser.ReadTable(ctx, fh, csvparser.Options{LazyQuotes: true})
		if err != nil {
			return flows.RawTable{}, fmt.Errorf("%s: %w", f.name, err)
		}
		return requireRows(f.name, t, f.table.MinRows)

	case ".xlsx":
		t, err := xlsxparser.ReadFile(f.path, xlsxparser.Options{Sheet: f.sheet})
		if err != nil {
			return flows.RawTable{}, fmt.Errorf("%s: %w", f.name, err)
		}
		return requireRows(f.name, t, f.table.MinRows)

	case ".json":
		fh, err := os.Open(f.path)
		if err != nil {
			return flows.RawTable{}, fmt.Errorf("%s: %w", f.name, err)
		}
		defer fh.Close()
		t, err := jsonparser.ReadTable(fh)
		if err != nil {
			return flows.RawTable{}, fmt.Errorf("%s: %w", f.name, err)
		}
		return requireRows(f.name, t, f.table.MinRows)

	default:
		return flows.RawTable{}, fmt.Errorf("%s: unsupported file type %q", f.name, ext)
	}
}
