package extracthtml

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"marketflows/internal/flows"

	"github.com/PuerkitoBio/goquery"
)

// ErrNoTable is returned when a page has no table matching the options.
var ErrNoTable = errors.New("no matching table")

// TableOptions selects one table out of a page.
type TableOptions struct {
	// Selector matches candidate <table> elements. Default "table".
	Selector string
	// Index picks the n-th candidate (0-based) regardless of size.
	Index *int
	// MinRows is the minimum number of data rows when Index is nil. Default 1.
	MinRows int
	// HasHeader treats the first row as the header even when it uses <td>.
	HasHeader bool
}

func (o TableOptions) selector() string {
	if strings.TrimSpace(o.Selector) == "" {
		return "table"
	}
	return o.Selector
}

// ExtractTables parses html and returns every table matched by opts.Selector
// in document order.
func ExtractTables(html string, opts TableOptions) ([]flows.RawTable, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return tablesFromDoc(doc, opts), nil
}

func tablesFromDoc(doc *goquery.Document, opts TableOptions) []flows.RawTable {
	var out []flows.RawTable
	doc.Find(opts.selector()).Each(func(_ int, s *goquery.Selection) {
		if !s.Is("table") {
			s = s.Find("table").First()
			if s.Length() == 0 {
				return
			}
		}
		out = append(out, readTable(s, opts.HasHeader))
	})
	return out
}

// ExtractTable parses html and picks one table per opts.
func ExtractTable(html string, opts TableOptions) (flows.RawTable, error) {
	tables, err := ExtractTables(html, opts)
	if err != nil {
		return flows.RawTable{}, err
	}
	return SelectTable(tables, opts)
}

// SelectTable applies opts.Index or opts.MinRows to tables.
func SelectTable(tables []flows.RawTable, opts TableOptions) (flows.RawTable, error) {
	if opts.Index != nil {
		i := *opts.Index
		if i < 0 || i >= len(tables) {
			return flows.RawTable{}, fmt.Errorf("table index %d of %d: %w", i, len(tables), ErrNoTable)
		}
		return tables[i], nil
	}
	min := opts.MinRows
	if min <= 0 {
		min = 1
	}
	for _, t := range tables {
		if len(t.Rows) >= min {
			return t, nil
		}
	}
	return flows.RawTable{}, fmt.Errorf("%d tables, none with %d+ rows: %w", len(tables), min, ErrNoTable)
}

// readTable converts one <table> into a RawTable. Header rows come from
// <thead>, or from leading rows made only of <th>. Stacked header rows are
// combined per column ("FII" over "Equity" becomes "FII Equity"). colspan is
// expanded so cells stay aligned with the header.
func readTable(tbl *goquery.Selection, forceHeader bool) flows.RawTable {
	rows := tbl.Find("tr").FilterFunction(func(_ int, tr *goquery.Selection) bool {
		// Skip rows of nested tables.
		return tr.ParentsFiltered("table").First().IsSelection(tbl)
	})

	var headerRows, bodyRows []*goquery.Selection
	inHeader := true
	rows.Each(func(_ int, tr *goquery.Selection) {
		isHead := tr.ParentsFiltered("thead").Length() > 0 ||
			(tr.Find("td").Length() == 0 && tr.Find("th").Length() > 0)
		if inHeader && isHead {
			headerRows = append(headerRows, tr)
			return
		}
		inHeader = false
		bodyRows = append(bodyRows, tr)
	})
	if len(headerRows) == 0 && forceHeader && len(bodyRows) > 0 {
		headerRows, bodyRows = bodyRows[:1], bodyRows[1:]
	}

	var t flows.RawTable
	if len(headerRows) > 0 {
		t.Header = combineHeader(headerRows)
	}
	for _, tr := range bodyRows {
		cells := rowCells(tr)
		if allEmpty(cells) {
			continue
		}
		t.Rows = append(t.Rows, cells)
	}
	return t
}

func rowCells(tr *goquery.Selection) []string {
	var out []string
	tr.ChildrenFiltered("td,th").Each(func(_ int, c *goquery.Selection) {
		out = append(out, cellText(c))
		for n := span(c, "colspan"); n > 1; n-- {
			out = append(out, "")
		}
	})
	return out
}

// combineHeader lays stacked header rows on a grid honoring colspan and
// rowspan, then joins the distinct labels of each column top to bottom.
func combineHeader(rows []*goquery.Selection) []string {
	grid := make([][]string, len(rows))
	for r, tr := range rows {
		col := 0
		tr.ChildrenFiltered("td,th").Each(func(_ int, c *goquery.Selection) {
			for col < len(grid[r]) && grid[r][col] != "" {
				col++
			}
			text := cellText(c)
			if text == "" {
				text = " "
			}
			cs, rs := span(c, "colspan"), span(c, "rowspan")
			for dr := 0; dr < rs && r+dr < len(grid); dr++ {
				for dc := 0; dc < cs; dc++ {
					setCell(&grid[r+dr], col+dc, text)
				}
			}
			col += cs
		})
	}

	width := 0
	for _, g := range grid {
		if len(g) > width {
			width = len(g)
		}
	}
	out := make([]string, width)
	for c := 0; c < width; c++ {
		var parts []string
		for r := range grid {
			if c >= len(grid[r]) {
				continue
			}
			v := strings.TrimSpace(grid[r][c])
			if v == "" || (len(parts) > 0 && parts[len(parts)-1] == v) {
				continue
			}
			parts = append(parts, v)
		}
		out[c] = strings.Join(parts, " ")
	}
	return out
}

func setCell(row *[]string, i int, v string) {
	for len(*row) <= i {
		*row = append(*row, "")
	}
	(*row)[i] = v
}

func span(c *goquery.Selection, attr string) int {
	v, ok := c.Attr(attr)
	if !ok {
		return 1
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 1 {
		return 1
	}
	if n > 64 {
		return 64
	}
	return n
}

func cellText(c *goquery.Selection) string {
	return strings.Join(strings.Fields(c.Text()), " ")
}

func allEmpty(cells []string) bool {
	for _, c := range cells {
		if c != "" {
			return false
		}
	}
	return true
}
