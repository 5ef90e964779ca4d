package storage

import (
	"time"

	"github.com/shopspring/decimal"

	"marketflows/internal/flows"
)

// Columns are the archive columns in statement order. The surrogate id and
// updated_at columns are managed by each backend.
var Columns = []string{
	"date",
	"financial_year",
	"month_name",
	"quarter",
	"fii_equity",
	"fii_debt",
	"fii_derivatives",
	"fii_total",
	"dii_equity",
	"dii_debt",
	"dii_derivatives",
	"dii_total",
}

// KeyColumns form the unique key used for upserts.
var KeyColumns = []string{"date", "financial_year"}

// numAmounts is the number of amount columns following the four labels.
const numAmounts = flows.NumFields - 1

// FlowRow is one archive row.
type FlowRow struct {
	Date          time.Time
	FinancialYear string
	MonthName     string
	Quarter       string
	// Amounts are in canonical field order, FII_Equity through DII_Total.
	Amounts [numAmounts]decimal.Decimal
}

// FromRecord derives the fiscal labels for r.
func FromRecord(r flows.Record) FlowRow {
	row := FlowRow{
		Date:          r.Date,
		FinancialYear: flows.FinancialYear(r.Date),
		MonthName:     flows.MonthName(r.Date),
		Quarter:       flows.FiscalQuarter(r.Date),
	}
	for i, f := range flows.Fields()[1:] {
		row.Amounts[i] = r.Amount(f)
	}
	return row
}

// FromRecords converts records to rows. Records without a date cannot be
// keyed and are skipped; the number skipped is returned.
func FromRecords(recs []flows.Record) ([]FlowRow, int) {
	out := make([]FlowRow, 0, len(recs))
	skipped := 0
	for _, r := range recs {
		if r.Date.IsZero() {
			skipped++
			continue
		}
		out = append(out, FromRecord(r))
	}
	return out, skipped
}

// Args returns the row's values in Columns order. The date is passed as
// time.Time; backends without a date type convert it.
func (r FlowRow) Args() []any {
	out := make([]any, 0, len(Columns))
	out = append(out, r.Date, r.FinancialYear, r.MonthName, r.Quarter)
	for _, a := range r.Amounts {
		out = append(out, a)
	}
	return out
}

// DedupeByKey keeps one row per (date, financial_year). The last value wins,
// placed at the key's first position, matching what sequential upserts would
// leave in the table.
func DedupeByKey(rows []FlowRow) []FlowRow {
	type key struct {
		date string
		fy   string
	}
	idx := make(map[key]int, len(rows))
	out := make([]FlowRow, 0, len(rows))
	for _, r := range rows {
		k := key{r.Date.Format(flows.DateLayout), r.FinancialYear}
		if i, ok := idx[k]; ok {
			out[i] = r
			continue
		}
		idx[k] = len(out)
		out = append(out, r)
	}
	return out
}

// Chunks splits rows into batches of at most size rows (size <= 0 means one
// batch).
func Chunks(rows []FlowRow, size int) [][]FlowRow {
	if len(rows) == 0 {
		return nil
	}
	if size <= 0 || size >= len(rows) {
		return [][]FlowRow{rows}
	}
	out := make([][]FlowRow, 0, (len(rows)+size-1)/size)
	for start := 0; start < len(rows); start += size {
		end := start + size
		if end > len(rows) {
			end = len(rows)
		}
		out = append(out, rows[start:end])
	}
	return out
}

// BatchSize clamps the configured size to a backend maximum.
func BatchSize(configured, max int) int {
	if configured <= 0 || configured > max {
		return max
	}
	return configured
}
