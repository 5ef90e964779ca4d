package storage

import (
	"context"
	"reflect"
	"strings"
	"testing"
	"time"

	"marketflows/internal/flows"
)

type nopRepo struct{}

func (nopRepo) Close()                                           {}
func (nopRepo) EnsureTable(context.Context) error                { return nil }
func (nopRepo) Upsert(context.Context, []FlowRow) (int64, error) { return 0, nil }

func TestRegistry(t *testing.T) {
	var gotTable string
	Register("test-registry", func(_ context.Context, cfg Config) (Repository, error) {
		gotTable = cfg.TableName()
		return nopRepo{}, nil
	})

	if _, err := New(context.Background(), Config{Kind: "test-registry"}); err != nil {
		t.Fatalf("New: %v", err)
	}
	if gotTable != DefaultTable {
		t.Fatalf("table = %q, want %q", gotTable, DefaultTable)
	}

	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error for empty kind")
	}
	_, err := New(context.Background(), Config{Kind: "nope"})
	if err == nil || !strings.Contains(err.Error(), "test-registry") {
		t.Fatalf("unsupported kind error should list registered kinds, got %v", err)
	}

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on duplicate registration")
		}
	}()
	Register("test-registry", func(context.Context, Config) (Repository, error) { return nopRepo{}, nil })
}

func TestFromRecords(t *testing.T) {
	t.Parallel()

	recs, _ := flows.NormalizeTable(flows.RawTable{
		Header: []string{"Date", "FII Equity", "DII Total"},
		Rows: [][]string{
			{"2025-09-18", "-18,927.9", "86822"},
			{"bad", "1", "2"},
		},
	}, nil)

	rows, skipped := FromRecords(recs)
	if skipped != 1 || len(rows) != 1 {
		t.Fatalf("rows=%d skipped=%d", len(rows), skipped)
	}
	r := rows[0]
	if r.FinancialYear != "FY 2025-26" || r.MonthName != "September 2025" || r.Quarter != "Q2 FY2025-26" {
		t.Fatalf("labels = %q %q %q", r.FinancialYear, r.MonthName, r.Quarter)
	}
	if r.Amounts[0].String() != "-18927.9" || r.Amounts[7].String() != "86822" {
		t.Fatalf("amounts = %v", r.Amounts)
	}

	args := r.Args()
	if len(args) != len(Columns) {
		t.Fatalf("args len %d, want %d", len(args), len(Columns))
	}
	if _, ok := args[0].(time.Time); !ok {
		t.Fatalf("date arg type %T", args[0])
	}
}

// TestDedupeByKey verifies the last duplicate wins at the first position.
func TestDedupeByKey(t *testing.T) {
	t.Parallel()

	d := func(s string) time.Time {
		v, _ := time.Parse(flows.DateLayout, s)
		return v
	}
	rows := []FlowRow{
		{Date: d("2025-09-01"), FinancialYear: "FY 2025-26", MonthName: "a"},
		{Date: d("2025-08-01"), FinancialYear: "FY 2025-26", MonthName: "b"},
		{Date: d("2025-09-01"), FinancialYear: "FY 2025-26", MonthName: "c"},
	}
	got := DedupeByKey(rows)
	var names []string
	for _, r := range got {
		names = append(names, r.MonthName)
	}
	if !reflect.DeepEqual(names, []string{"c", "b"}) {
		t.Fatalf("names = %v", names)
	}
}

func TestChunksAndBatchSize(t *testing.T) {
	t.Parallel()

	rows := make([]FlowRow, 5)
	var sizes []int
	for _, c := range Chunks(rows, 2) {
		sizes = append(sizes, len(c))
	}
	if !reflect.DeepEqual(sizes, []int{2, 2, 1}) {
		t.Fatalf("sizes = %v", sizes)
	}
	if got := Chunks(rows, 0); len(got) != 1 {
		t.Fatalf("size 0 should be one batch, got %d", len(got))
	}
	if Chunks(nil, 3) != nil {
		t.Fatalf("expected nil for no rows")
	}

	if BatchSize(0, 100) != 100 || BatchSize(500, 100) != 100 || BatchSize(20, 100) != 20 {
		t.Fatalf("BatchSize clamping wrong")
	}
}
