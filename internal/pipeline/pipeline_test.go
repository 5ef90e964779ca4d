package pipeline

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketflows/internal/config"
	"marketflows/internal/flows"
	"marketflows/internal/logging"
	"marketflows/internal/retriever"
	"marketflows/internal/storage"
	_ "marketflows/internal/storage/sqlite"
)

type fakeSource struct {
	name  string
	table flows.RawTable
	err   error
	calls int
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Retrieve(context.Context) (flows.RawTable, error) {
	f.calls++
	return f.table, f.err
}

type fakeStore struct {
	rows    []storage.FlowRow
	ensured bool
	err     error
	closed  bool
}

func (s *fakeStore) Close() { s.closed = true }

func (s *fakeStore) EnsureTable(context.Context) error {
	s.ensured = true
	return nil
}

func (s *fakeStore) Upsert(_ context.Context, rows []storage.FlowRow) (int64, error) {
	if s.err != nil {
		return 0, s.err
	}
	s.rows = append(s.rows, rows...)
	return int64(len(rows)), nil
}

var moneycontrolTable = flows.RawTable{
	Header: []string{"Date", "FII Gross Purchase", "FII Net", "DII Net"},
	Rows: [][]string{
		{"18-Sep-2025", "12,000", "-1,124.5", "2,205.7"},
		{"01-Sep-2025", "9,000", "990", "x"},
		{"29-Aug-2025", "8,000", "10", "20"},
	},
}

func sources(fs ...*fakeSource) []retriever.Retriever {
	out := make([]retriever.Retriever, len(fs))
	for i, f := range fs {
		out[i] = f
	}
	return out
}

func testLogger(t *testing.T, buf *bytes.Buffer) *slog.Logger {
	t.Helper()
	l, err := logging.New(buf, "debug", "json")
	require.NoError(t, err)
	return l
}

// TestRunner_FallsBackToNextSource verifies sources are tried once each, in
// order, and the first one with rows wins.
func TestRunner_FallsBackToNextSource(t *testing.T) {
	t.Parallel()

	down := &fakeSource{name: "nse", err: errors.New("http status 403")}
	empty := &fakeSource{name: "trendlyne", table: flows.RawTable{Header: []string{"Date"}}}
	ok := &fakeSource{name: "moneycontrol", table: moneycontrolTable}
	unused := &fakeSource{name: "manual"}

	dir := t.TempDir()
	var logs bytes.Buffer
	r := &Runner{
		Job:     "fii_dii",
		Sources: sources(down, empty, ok, unused),
		Output:  Output{CSV: filepath.Join(dir, "out.csv")},
		Logger:  testLogger(t, &logs),
	}
	res, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "moneycontrol", res.Source)
	assert.Equal(t, []int{1, 1, 1, 0}, []int{down.calls, empty.calls, ok.calls, unused.calls})
	require.Len(t, res.Records, 3)
	assert.Equal(t, "-1124.5", res.Records[0].FIITotal.String())
	assert.Equal(t, 1, res.Report.Degraded[flows.FieldDIITotal])

	b, err := os.ReadFile(filepath.Join(dir, "out.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(b), "2025-09-18,0,0,0,-1124.5,0,0,0,2205.7\n")

	assert.Contains(t, logs.String(), `"msg":"unparseable cells defaulted to zero"`)
	assert.Contains(t, logs.String(), `"job":"fii_dii"`)
	assert.Contains(t, logs.String(), `"unmapped":["FII Gross Purchase"]`)
}

func TestRunner_AllSourcesFail(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection reset")
	dir := t.TempDir()
	out := filepath.Join(dir, "out.csv")
	r := &Runner{
		Sources: sources(
			&fakeSource{name: "a", err: boom},
			&fakeSource{name: "b", table: flows.RawTable{}},
		),
		Output: Output{CSV: out},
	}
	_, err := r.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, err, ErrNoData)
	assert.Contains(t, err.Error(), "all 2 sources failed")

	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr), "no output may be written on failure")

	_, err = (&Runner{}).Run(context.Background())
	assert.ErrorContains(t, err, "no sources configured")
}

func TestRunner_MonthlyXLSXAndStore(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store := &fakeStore{}
	r := &Runner{
		Sources: sources(&fakeSource{name: "moneycontrol", table: moneycontrolTable}),
		Monthly: true,
		Output:  Output{XLSX: filepath.Join(dir, "out.xlsx")},
		Store:   store,
	}
	res, err := r.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Records, 2)
	assert.Equal(t, "2025-09-01", res.Records[0].DateString())
	assert.Equal(t, "-134.5", res.Records[0].FIITotal.String())
	assert.Equal(t, int64(2), res.Stored)

	assert.True(t, store.ensured)
	require.Len(t, store.rows, 2)
	assert.Equal(t, "FY 2025-26", store.rows[0].FinancialYear)
	assert.Equal(t, "August 2025", store.rows[1].MonthName)

	_, err = os.Stat(filepath.Join(dir, "out.xlsx"))
	require.NoError(t, err)

	r.Close()
	assert.True(t, store.closed)
}

// TestRunner_FailedXLSXKeepsPreviousCSV verifies the CSV is not replaced when
// the workbook cannot be written.
func TestRunner_FailedXLSXKeepsPreviousCSV(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	csvPath := filepath.Join(dir, "out.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("previous run"), 0o644))

	r := &Runner{
		Sources: sources(&fakeSource{name: "moneycontrol", table: moneycontrolTable}),
		Output: Output{
			CSV:  csvPath,
			XLSX: filepath.Join(dir, "missing", "out.xlsx"),
		},
	}
	_, err := r.Run(context.Background())
	require.ErrorContains(t, err, "write xlsx")

	b, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	assert.Equal(t, "previous run", string(b))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "staged csv must be removed")
}

func TestRunner_StoreError(t *testing.T) {
	t.Parallel()

	r := &Runner{
		Sources: sources(&fakeSource{name: "s", table: moneycontrolTable}),
		Store:   &fakeStore{err: errors.New("deadlock")},
	}
	_, err := r.Run(context.Background())
	assert.ErrorContains(t, err, "store: deadlock")
}

// TestBuild_FileSourceToSQLite wires a real config through Build: a CSV
// download, a custom column map, and a SQLite archive.
func TestBuild_FileSourceToSQLite(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	csvPath := filepath.Join(dir, "download.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("Trade Day,Foreign Cash,Local Cash\n2025-09-18,\"-1,124.5\",2205.7\n"), 0o644))

	cmPath := filepath.Join(dir, "columns.json")
	require.NoError(t, os.WriteFile(cmPath, []byte(`{"version":1,"columns":{
		"Date":["Trade Day"],"FII_Equity":["Foreign Cash"],"FII_Debt":[],"FII_Derivatives":[],"FII_Total":[],
		"DII_Equity":["Local Cash"],"DII_Debt":[],"DII_Derivatives":[],"DII_Total":[]}}`), 0o644))

	p := config.Pipeline{
		Job:       "fii_dii",
		ColumnMap: cmPath,
		Sources:   []config.Source{{Name: "manual", Kind: config.KindFile, Path: csvPath}},
		Storage:   &config.Storage{Kind: "sqlite", DSN: filepath.Join(dir, "flows.db")},
	}
	out := filepath.Join(dir, "fii_dii.csv")
	r, err := Build(context.Background(), p, BuildOptions{CSV: out})
	require.NoError(t, err)
	t.Cleanup(r.Close)

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "manual", res.Source)
	assert.Equal(t, int64(1), res.Stored)

	b, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t,
		"Date,FII_Equity,FII_Debt,FII_Derivatives,FII_Total,DII_Equity,DII_Debt,DII_Derivatives,DII_Total\n"+
			"2025-09-18,-1124.5,0,0,0,2205.7,0,0,0\n",
		string(b))
}

func TestBuild_Errors(t *testing.T) {
	t.Parallel()

	_, err := Build(context.Background(), config.Pipeline{ColumnMap: "/does/not/exist.json"}, BuildOptions{})
	assert.ErrorContains(t, err, "read column map")

	_, err = Build(context.Background(), config.Pipeline{Sources: []config.Source{{Kind: "ftp"}}}, BuildOptions{})
	assert.ErrorContains(t, err, "sources[0]")

	_, err = Build(context.Background(), config.Pipeline{Storage: &config.Storage{Kind: "oracle"}}, BuildOptions{})
	assert.ErrorContains(t, err, "open storage")
}
