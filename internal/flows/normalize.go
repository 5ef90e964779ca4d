package flows

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Report summarizes what NormalizeTable had to default. Counts are per field.
type Report struct {
	Rows     int
	Degraded [NumFields]int // non-empty cells that failed to parse
	Blank    [NumFields]int // empty or placeholder cells
	Missing  []Field        // fields with no source column
	Unmapped []string       // source headers that were dropped
}

// DegradedTotal is the number of unparseable cells across all fields.
func (r Report) DegradedTotal() int {
	n := 0
	for _, c := range r.Degraded {
		n += c
	}
	return n
}

// DegradedByField returns the non-zero degraded counts keyed by field name.
func (r Report) DegradedByField() map[string]int {
	out := make(map[string]int)
	for f, c := range r.Degraded {
		if c > 0 {
			out[Field(f).String()] = c
		}
	}
	return out
}

// NormalizeRow builds a Record from one source row. It never fails: missing
// columns, short rows and unparseable cells all yield zero values.
func NormalizeRow(row []string, m Mapping) Record {
	rec, _ := normalizeRow(row, m)
	return rec
}

func normalizeRow(row []string, m Mapping) (Record, [NumFields]cellStatus) {
	var st [NumFields]cellStatus
	rec := zeroRecord()

	for f := Field(0); f < numFields; f++ {
		i, ok := m.Column(f)
		if !ok {
			continue
		}
		cell := ""
		if i < len(row) {
			cell = row[i]
		}

		if f == FieldDate {
			rec.Date, st[f] = normalizeDate(cell)
			continue
		}
		var v decimal.Decimal
		v, st[f] = parseAmount(cell)
		rec = rec.withAmount(f, v)
	}
	return rec, st
}

func normalizeDate(cell string) (time.Time, cellStatus) {
	if strings.TrimSpace(cell) == "" {
		return time.Time{}, cellBlank
	}
	t, ok := ParseDate(cell)
	if !ok {
		return time.Time{}, cellBad
	}
	return t, cellOK
}

// NormalizeTable maps t's columns once and normalizes every data row in
// order. The result has exactly one Record per row of t.Rows.
func NormalizeTable(t RawTable, cm *ColumnMap) ([]Record, Report) {
	m := MapColumns(t.Header, cm)
	rep := Report{
		Rows:     len(t.Rows),
		Missing:  m.Missing(),
		Unmapped: m.Unmapped(),
	}

	out := make([]Record, 0, len(t.Rows))
	for _, row := range t.Rows {
		rec, st := normalizeRow(row, m)
		for f, s := range st {
			switch s {
			case cellBad:
				rep.Degraded[f]++
			case cellBlank:
				rep.Blank[f]++
			}
		}
		out = append(out, rec)
	}
	return out, rep
}
