package extracthtml

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"marketflows/internal/flows"

	"github.com/PuerkitoBio/goquery"
)

// TableJSON is the JSON form of an extracted table.
type TableJSON struct {
	SourceFile string     `json:"source_file,omitempty"`
	Index      int        `json:"index"`
	Header     []string   `json:"header"`
	Rows       [][]string `json:"rows"`
}

// NewTableJSON wraps t for encoding.
func NewTableJSON(source string, index int, t flows.RawTable) TableJSON {
	return TableJSON{SourceFile: source, Index: index, Header: t.Header, Rows: t.Rows}
}

// isHTMLFile matches saved pages from manual downloads.
func isHTMLFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".html", ".htm":
		return true
	}
	return false
}

// StreamTablesFromDir streams a single JSON array to w with one element per
// table found in each .html/.htm file of dir.
//
// Files are visited in name order. Unreadable or unparseable files are
// skipped so one bad download does not hide the rest.
func StreamTablesFromDir(w io.Writer, dir string, opts TableOptions, enc *json.Encoder) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	if _, err := io.WriteString(w, "["); err != nil {
		return fmt.Errorf("write [: %w", err)
	}

	first := true
	for _, e := range entries {
		if e.IsDir() || !isHTMLFile(e.Name()) {
			continue
		}
		f, err := os.Open(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		doc, err := goquery.NewDocumentFromReader(f)
		f.Close()
		if err != nil {
			continue
		}

		for i, t := range tablesFromDoc(doc, opts) {
			if len(t.Rows) == 0 {
				continue
			}
			if !first {
				if _, err := io.WriteString(w, ","); err != nil {
					return fmt.Errorf("write comma: %w", err)
				}
			}
			first = false
			if err := enc.Encode(NewTableJSON(e.Name(), i, t)); err != nil {
				return fmt.Errorf("encode table: %w", err)
			}
		}
	}

	if _, err := io.WriteString(w, "]"); err != nil {
		return fmt.Errorf("write ]: %w", err)
	}
	return nil
}
