package flows

import (
	"reflect"
	"strings"
	"testing"
)

// TestNormalizeTable_EndToEnd covers a partial Trendlyne-style table with a
// unicode minus and grouped digits.
func TestNormalizeTable_EndToEnd(t *testing.T) {
	t.Parallel()

	tbl := RawTable{
		Header: []string{"DATE", "FII Equity", "FII Total"},
		Rows:   [][]string{{"2025-09-18", "−18,927.9", "86822"}},
	}
	recs, rep := NormalizeTable(tbl, DefaultColumnMap())
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	want := []string{"2025-09-18", "-18927.9", "0", "0", "86822", "0", "0", "0", "0"}
	if got := recs[0].Strings(); !reflect.DeepEqual(got, want) {
		t.Fatalf("record = %v, want %v", got, want)
	}
	if rep.Rows != 1 || rep.DegradedTotal() != 0 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	wantMissing := []Field{FieldFIIDebt, FieldFIIDerivatives, FieldDIIEquity, FieldDIIDebt, FieldDIIDerivatives, FieldDIITotal}
	if !reflect.DeepEqual(rep.Missing, wantMissing) {
		t.Fatalf("missing = %v, want %v", rep.Missing, wantMissing)
	}
}

// TestNormalizeTable_MissingColumns verifies fields with no source column are
// zero rather than absent.
func TestNormalizeTable_MissingColumns(t *testing.T) {
	t.Parallel()

	tbl := RawTable{
		Header: []string{"Date", "FII Equity", "DII Equity"},
		Rows: [][]string{
			{"18-Sep-2025", "1,234", "-567.5"},
			{"17-Sep-2025", "89", "10"},
		},
	}
	recs, _ := NormalizeTable(tbl, nil)
	for i, r := range recs {
		for _, f := range []Field{FieldFIIDebt, FieldFIIDerivatives, FieldFIITotal, FieldDIIDebt, FieldDIIDerivatives, FieldDIITotal} {
			if !r.Amount(f).IsZero() {
				t.Fatalf("row %d: %s = %s, want 0", i, f, r.Amount(f))
			}
		}
	}
	if recs[0].FIIEquity.String() != "1234" || recs[0].DIIEquity.String() != "-567.5" {
		t.Fatalf("unexpected amounts: %v", recs[0].Strings())
	}
}

// TestNormalizeTable_PreservesRowsAndOrder verifies output length and order
// match the input even when rows are malformed, short or duplicated.
func TestNormalizeTable_PreservesRowsAndOrder(t *testing.T) {
	t.Parallel()

	tbl := RawTable{
		Header: []string{"Date", "FII Total", "Remarks", "DII Total"},
		Rows: [][]string{
			{"2025-09-19", "10", "x", "1"},
			{"garbage", "n/a", "", "abc"},
			{"2025-09-17"},
			{"2025-09-19", "10", "x", "1"},
			{},
		},
	}
	recs, rep := NormalizeTable(tbl, DefaultColumnMap())
	if len(recs) != len(tbl.Rows) {
		t.Fatalf("expected %d records, got %d", len(tbl.Rows), len(recs))
	}
	gotDates := make([]string, len(recs))
	for i, r := range recs {
		gotDates[i] = r.DateString()
	}
	wantDates := []string{"2025-09-19", "0001-01-01", "2025-09-17", "2025-09-19", "0001-01-01"}
	if !reflect.DeepEqual(gotDates, wantDates) {
		t.Fatalf("dates = %v, want %v", gotDates, wantDates)
	}

	if rep.Degraded[FieldDate] != 1 || rep.Degraded[FieldDIITotal] != 1 {
		t.Fatalf("degraded = %v", rep.Degraded)
	}
	if rep.Blank[FieldFIITotal] != 3 || rep.Blank[FieldDate] != 1 {
		t.Fatalf("blank = %v", rep.Blank)
	}
	if !reflect.DeepEqual(rep.Unmapped, []string{"Remarks"}) {
		t.Fatalf("unmapped = %v", rep.Unmapped)
	}
	if got := rep.DegradedByField(); !reflect.DeepEqual(got, map[string]int{"Date": 1, "DII_Total": 1}) {
		t.Fatalf("DegradedByField = %v", got)
	}
}

// TestNormalizeTable_WellFormedNumbers checks every amount renders as a plain
// decimal regardless of the source text.
func TestNormalizeTable_WellFormedNumbers(t *testing.T) {
	t.Parallel()

	tbl := RawTable{
		Header: Header(),
		Rows: [][]string{
			{"2025-09-18", "1,02,864", "(12)", "₹ 5", "x", "", "-", "+3.25", "−0.5"},
		},
	}
	recs, _ := NormalizeTable(tbl, DefaultColumnMap())
	for _, cell := range recs[0].Strings()[1:] {
		if strings.ContainsAny(cell, ", ₹()+") {
			t.Fatalf("cell %q is not a plain decimal", cell)
		}
	}
	want := []string{"2025-09-18", "102864", "-12", "5", "0", "0", "0", "3.25", "-0.5"}
	if got := recs[0].Strings(); !reflect.DeepEqual(got, want) {
		t.Fatalf("record = %v, want %v", got, want)
	}
}

// TestNormalizeTable_Idempotent verifies that a table already in canonical
// form normalizes to itself apart from date formatting.
func TestNormalizeTable_Idempotent(t *testing.T) {
	t.Parallel()

	first, _ := NormalizeTable(RawTable{
		Header: []string{"Date", "FII Equity", "FII_Debt", "DII Total"},
		Rows: [][]string{
			{"18-Sep-2025", "-18,927.9", "12.50", "86,822"},
			{"1 Apr 2025", "0", "", "3"},
		},
	}, DefaultColumnMap())

	canon := RawTable{Header: Header()}
	for _, r := range first {
		canon.Rows = append(canon.Rows, r.Strings())
	}
	second, rep := NormalizeTable(canon, DefaultColumnMap())
	if !reflect.DeepEqual(canon.Rows, recordStrings(second)) {
		t.Fatalf("second pass changed values:\n got %v\nwant %v", recordStrings(second), canon.Rows)
	}
	if len(rep.Missing) != 0 || len(rep.Unmapped) != 0 {
		t.Fatalf("canonical header should map fully: %+v", rep)
	}
}

// TestMapColumns_FirstWins verifies duplicate aliases resolve to the left-most
// column and that a headerless table uses positional order.
func TestMapColumns_FirstWins(t *testing.T) {
	t.Parallel()

	m := MapColumns([]string{"Nifty", "FII Equity", "FPI Equity", "Date"}, DefaultColumnMap())
	if i, ok := m.Column(FieldFIIEquity); !ok || i != 1 {
		t.Fatalf("FII_Equity column = %d, %v", i, ok)
	}
	if i, ok := m.Column(FieldDate); !ok || i != 3 {
		t.Fatalf("Date column = %d, %v", i, ok)
	}
	if _, ok := m.Column(Field(99)); ok {
		t.Fatalf("invalid field should not resolve")
	}

	rec := NormalizeRow([]string{"2025-09-18", "1", "2", "3", "4", "5", "6", "7", "8"}, MapColumns(nil, nil))
	want := []string{"2025-09-18", "1", "2", "3", "4", "5", "6", "7", "8"}
	if got := rec.Strings(); !reflect.DeepEqual(got, want) {
		t.Fatalf("positional record = %v, want %v", got, want)
	}
}

func TestAggregateMonthly(t *testing.T) {
	t.Parallel()

	recs, _ := NormalizeTable(RawTable{
		Header: []string{"Date", "FII Equity", "DII Equity"},
		Rows: [][]string{
			{"2025-09-18", "10.5", "1"},
			{"2025-08-29", "7", "2"},
			{"2025-09-01", "-0.5", "3"},
			{"bad", "100", "100"},
		},
	}, nil)

	got := recordStrings(AggregateMonthly(recs))
	want := [][]string{
		{"2025-09-01", "10", "0", "0", "0", "4", "0", "0", "0"},
		{"2025-08-01", "7", "0", "0", "0", "2", "0", "0", "0"},
		{"0001-01-01", "100", "0", "0", "0", "100", "0", "0", "0"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("AggregateMonthly = %v, want %v", got, want)
	}
	if out := AggregateMonthly(nil); len(out) != 0 {
		t.Fatalf("expected empty result, got %v", out)
	}
}

func TestParseField(t *testing.T) {
	t.Parallel()

	for _, f := range Fields() {
		got, ok := ParseField(f.String())
		if !ok || got != f {
			t.Fatalf("ParseField(%q) = %v, %v", f.String(), got, ok)
		}
	}
	if _, ok := ParseField("fii_equity"); ok {
		t.Fatalf("ParseField should be exact")
	}
	if Field(-1).Valid() || Field(NumFields).Valid() {
		t.Fatalf("out of range fields should be invalid")
	}
}

func recordStrings(recs []Record) [][]string {
	out := make([][]string, len(recs))
	for i, r := range recs {
		out[i] = r.Strings()
	}
	return out
}
