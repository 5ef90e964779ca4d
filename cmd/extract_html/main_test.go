package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const flowsPage = `<html><body>
<table id="nav"><tr><td>Home</td></tr></table>
<table class="fii-dii">
  <thead><tr><th>Date</th><th>FII Net</th><th>DII Net</th><th>Nifty</th></tr></thead>
  <tbody>
    <tr><td>18-Sep-2025</td><td>-1,124.5</td><td>2,205</td><td>25,423</td></tr>
    <tr><td>17-Sep-2025</td><td>n/a</td><td>(300)</td><td>25,330</td></tr>
  </tbody>
</table>
</body></html>`

// TestRun_StdinTables verifies the default "stdin -> []table JSON" path.
//
// We test via run() (not main()) so the test is fast, deterministic,
// and does not require an OS-level subprocess.
func TestRun_StdinTables(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer
	code := run(
		context.Background(),
		nil,
		strings.NewReader(flowsPage),
		&stdout,
		&stderr,
		http.DefaultClient,
	)
	if code != 0 {
		t.Fatalf("run returned %d; stderr=%s", code, stderr.String())
	}

	var got []struct {
		SourceFile string     `json:"source_file"`
		Index      int        `json:"index"`
		Header     []string   `json:"header"`
		Rows       [][]string `json:"rows"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &got); err != nil {
		t.Fatalf("stdout is not valid json: %v; out=%s", err, stdout.String())
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 tables, got %d", len(got))
	}
	if got[1].SourceFile != "stdin" || got[1].Index != 1 {
		t.Fatalf("unexpected table identity: %+v", got[1])
	}
	if len(got[1].Rows) != 2 || got[1].Header[1] != "FII Net" {
		t.Fatalf("unexpected table: %+v", got[1])
	}
}

// TestRun_Normalize verifies -normalize prints the canonical CSV for the
// first table with enough rows and reports unparseable cells on stderr.
func TestRun_Normalize(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer
	code := run(
		context.Background(),
		[]string{"-normalize", "-min-rows", "2"},
		strings.NewReader(flowsPage),
		&stdout,
		&stderr,
		http.DefaultClient,
	)
	if code != 0 {
		t.Fatalf("run returned %d; stderr=%s", code, stderr.String())
	}

	want := "Date,FII_Equity,FII_Debt,FII_Derivatives,FII_Total,DII_Equity,DII_Debt,DII_Derivatives,DII_Total\n" +
		"2025-09-18,0,0,0,-1124.5,0,0,0,2205\n" +
		"2025-09-17,0,0,0,0,0,0,0,-300\n"
	if stdout.String() != want {
		t.Fatalf("unexpected csv:\n%s\nwant:\n%s", stdout.String(), want)
	}
	if !strings.Contains(stderr.String(), "unmapped columns: [Nifty]") {
		t.Fatalf("expected unmapped column notice, stderr=%s", stderr.String())
	}
}

// TestRun_NormalizeMonthly verifies -monthly sums the chosen table by month.
func TestRun_NormalizeMonthly(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer
	code := run(
		context.Background(),
		[]string{"-normalize", "-monthly", "-table-selector", "table.fii-dii"},
		strings.NewReader(flowsPage),
		&stdout,
		&stderr,
		http.DefaultClient,
	)
	if code != 0 {
		t.Fatalf("run returned %d; stderr=%s", code, stderr.String())
	}
	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	if len(lines) != 2 || lines[1] != "2025-09-01,0,0,0,-1124.5,0,0,0,1905" {
		t.Fatalf("unexpected monthly csv: %q", lines)
	}
}

// TestRun_NormalizeCustomColumns verifies -columns replaces the built-in map.
func TestRun_NormalizeCustomColumns(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	path := filepath.Join(tmp, "columns.json")
	body := `{
	  "version": 1,
	  "columns": {
	    "Date": [], "FII_Equity": ["Foreign Cash"], "FII_Debt": [], "FII_Derivatives": [],
	    "FII_Total": [], "DII_Equity": [], "DII_Debt": [], "DII_Derivatives": [], "DII_Total": []
	  }
	}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write columns: %v", err)
	}

	page := `<table><tr><th>Date</th><th>Foreign Cash</th></tr><tr><td>2025-09-18</td><td>12.5</td></tr></table>`
	var stdout, stderr bytes.Buffer
	code := run(
		context.Background(),
		[]string{"-normalize", "-columns", path},
		strings.NewReader(page),
		&stdout,
		&stderr,
		http.DefaultClient,
	)
	if code != 0 {
		t.Fatalf("run returned %d; stderr=%s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "\n2025-09-18,12.5,0,0,0,0,0,0,0\n") {
		t.Fatalf("unexpected csv: %s", stdout.String())
	}
}

// TestRun_DebugSelectorText verifies debug selector mode prints text (not JSON).
//
// This ensures we don't regress the debugging workflow, which is often
// used interactively when finding the table selector for a new page.
func TestRun_DebugSelectorText(t *testing.T) {
	t.Parallel()

	stdin := bytes.NewBufferString(`<div id="x">  A  </div><div id="x">B</div>`)
	var stdout, stderr bytes.Buffer

	code := run(
		context.Background(),
		[]string{"-selector", "div#x", "-text"},
		stdin,
		&stdout,
		&stderr,
		http.DefaultClient,
	)
	if code != 0 {
		t.Fatalf("run returned %d; stderr=%s", code, stderr.String())
	}
	if stdout.String() != "A\n\nB\n\n" {
		t.Fatalf("unexpected output: %q", stdout.String())
	}
}

func TestRun_DebugSelectorNoMatches(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer
	code := run(
		context.Background(),
		[]string{"-selector", "table.missing"},
		strings.NewReader(flowsPage),
		&stdout,
		&stderr,
		http.DefaultClient,
	)
	if code != 0 {
		t.Fatalf("run returned %d; stderr=%s", code, stderr.String())
	}
	if stdout.Len() != 0 || !strings.Contains(stderr.String(), "no matches") {
		t.Fatalf("stdout=%q stderr=%q", stdout.String(), stderr.String())
	}
}

// TestRun_URLFetch verifies -url mode uses the provided HTTP client and
// records the URL as the table source.
func TestRun_URLFetch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); ua != "flows-test/1.0" {
			http.Error(w, "bad ua "+ua, http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(flowsPage))
	}))
	t.Cleanup(srv.Close)

	var stdout, stderr bytes.Buffer
	code := run(
		context.Background(),
		[]string{"-url", srv.URL, "-user-agent", "flows-test/1.0", "-index", "1", "-normalize"},
		nil,
		&stdout,
		&stderr,
		srv.Client(),
	)
	if code != 0 {
		t.Fatalf("run returned %d; stderr=%s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "2025-09-18,0,0,0,-1124.5") {
		t.Fatalf("unexpected csv: %s", stdout.String())
	}
}

func TestRun_URLFetchError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	var stdout, stderr bytes.Buffer
	code := run(
		context.Background(),
		[]string{"-url", srv.URL, "-timeout", (2 * time.Second).String()},
		nil,
		&stdout,
		&stderr,
		srv.Client(),
	)
	if code != 1 {
		t.Fatalf("expected exit 1, got %d; stderr=%s", code, stderr.String())
	}
	if !strings.Contains(stderr.String(), "load html") {
		t.Fatalf("unexpected stderr: %s", stderr.String())
	}
}

// TestRun_DirMode verifies -dir streams one JSON array covering every saved
// page in the directory.
func TestRun_DirMode(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	files := map[string]string{
		"a.html":    flowsPage,
		"b.htm":     `<table><tr><th>Date</th></tr><tr><td>2025-09-01</td></tr></table>`,
		"notes.txt": `<table><tr><td>ignored</td></tr></table>`,
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	var stdout, stderr bytes.Buffer
	code := run(
		context.Background(),
		[]string{"-dir", dir, "-table-selector", "table"},
		nil,
		&stdout,
		&stderr,
		http.DefaultClient,
	)
	if code != 0 {
		t.Fatalf("run returned %d; stderr=%s", code, stderr.String())
	}

	var got []map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &got); err != nil {
		t.Fatalf("stdout is not valid json: %v; out=%s", err, stdout.String())
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 tables across files, got %d: %s", len(got), stdout.String())
	}
	for _, tbl := range got {
		if tbl["source_file"] == "notes.txt" {
			t.Fatalf("non-HTML file should be skipped")
		}
	}
}

func TestRun_NormalizeNoTable(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer
	code := run(
		context.Background(),
		[]string{"-normalize", "-min-rows", "10"},
		strings.NewReader(flowsPage),
		&stdout,
		&stderr,
		http.DefaultClient,
	)
	if code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(stderr.String(), "no matching table") {
		t.Fatalf("unexpected stderr: %s", stderr.String())
	}
}

func TestRun_UsageErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		args []string
		want string
	}{
		{"bad flag", []string{"-nope"}, "flag provided but not defined"},
		{"positional", []string{"page.html"}, "unexpected arguments"},
		{"dir and url", []string{"-dir", ".", "-url", "http://x"}, "mutually exclusive"},
		{"monthly alone", []string{"-monthly"}, "-monthly requires -normalize"},
		{"dir normalize", []string{"-dir", ".", "-normalize"}, "not supported with -dir"},
		{"missing columns", []string{"-normalize", "-columns", "/nonexistent/columns.json"}, "load columns"},
	}
	for _, tc := range cases {
		var stdout, stderr bytes.Buffer
		code := run(context.Background(), tc.args, strings.NewReader(flowsPage), &stdout, &stderr, http.DefaultClient)
		if code != 2 {
			t.Fatalf("%s: expected exit 2, got %d", tc.name, code)
		}
		if !strings.Contains(stderr.String(), tc.want) {
			t.Fatalf("%s: stderr=%q, want containing %q", tc.name, stderr.String(), tc.want)
		}
	}
}
